package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/pkg/schnitz"
	"github.com/orpheus-ai/zeus/pkg/synapse"
)

// SchnitzTransport calls miners over signed, zstd-compressed schnitz routes.
type SchnitzTransport struct {
	client *schnitz.Client
}

func NewSchnitzTransport(client *schnitz.Client) (*SchnitzTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("schnitz client cannot be nil")
	}
	return &SchnitzTransport{client: client}, nil
}

// ToRequest converts a challenge to its wire form.
func ToRequest(ch forecast.Challenge) synapse.ForecastRequest {
	return synapse.ForecastRequest{
		ChallengeID:    ch.ID,
		LatStart:       ch.BBox.LatStart,
		LatEnd:         ch.BBox.LatEnd,
		LonStart:       ch.BBox.LonStart,
		LonEnd:         ch.BBox.LonEnd,
		StartTimestamp: ch.StartTimestamp,
		EndTimestamp:   ch.EndTimestamp,
		PredictHours:   ch.PredictHours,
		Input:          synapse.Tensor{Shape: ch.Input.Shape, Data: ch.Input.Data},
	}
}

func baseURL(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

func (t *SchnitzTransport) Send(ctx context.Context, w forecast.Worker, ch forecast.Challenge) (forecast.Grid, error) {
	if w.Address == "" {
		return forecast.Grid{}, fmt.Errorf("worker %s has no serving address", w.Hotkey)
	}
	auth, err := t.client.CreateAuthParams()
	if err != nil {
		return forecast.Grid{}, err
	}

	resp, err := schnitz.SendContext[synapse.ForecastRequest, synapse.ForecastResponse](ctx, t.client, baseURL(w.Address), ToRequest(ch), auth)
	if err != nil {
		return forecast.Grid{}, fmt.Errorf("forecast request to uid %d: %w", w.UID, err)
	}
	if resp.ChallengeID != "" && resp.ChallengeID != ch.ID {
		return forecast.Grid{}, fmt.Errorf("response for challenge %s, expected %s", resp.ChallengeID, ch.ID)
	}
	return forecast.Grid{Shape: resp.Prediction.Shape, Data: resp.Prediction.Data}, nil
}

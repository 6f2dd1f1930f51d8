// Package challenge samples forecasting challenges from the ERA5 data source.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

var (
	// ErrSourceUnavailable is a transient failure of the data source. Callers
	// skip the cycle and try again on the next tick.
	ErrSourceUnavailable = errors.New("data source unavailable")
	// ErrGroundTruthNotReady means the requested window has not been published yet.
	ErrGroundTruthNotReady = errors.New("ground truth not yet available")
	// ErrInvalidSample is returned for samples that cannot be dispatched.
	ErrInvalidSample = errors.New("invalid sample")
)

// DataSource provides samples, ground truth and difficulty weights.
type DataSource interface {
	GetSample(ctx context.Context) (forecast.Challenge, error)
	GetGroundTruth(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error)
	GetDifficulty(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error)
}

// Sampler turns raw source samples into immutable challenges.
type Sampler struct {
	source DataSource
	// delay is how long after the last predicted hour ground truth is published.
	delay time.Duration
	now   func() time.Time
}

func NewSampler(source DataSource, delay time.Duration) (*Sampler, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if delay < 0 {
		return nil, fmt.Errorf("ground truth delay cannot be negative")
	}
	return &Sampler{source: source, delay: delay, now: time.Now}, nil
}

// Sample reads one sample. It only selects an extent and time window, so it
// never waits for the predicted period's data to exist. Failures are not retried.
func (s *Sampler) Sample(ctx context.Context) (forecast.Challenge, error) {
	ch, err := s.source.GetSample(ctx)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			return forecast.Challenge{}, err
		}
		return forecast.Challenge{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	if err := validate(ch); err != nil {
		return forecast.Challenge{}, fmt.Errorf("%w: %w", ErrInvalidSample, err)
	}

	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = s.now().UTC()
	}
	if ch.GroundTruthAt.IsZero() {
		ch.GroundTruthAt = GroundTruthTime(ch, s.delay)
	}

	log.Info().
		Str("challenge_id", ch.ID).
		Ints("input_shape", ch.Input.Shape).
		Int("predict_hours", ch.PredictHours).
		Time("ground_truth_at", ch.GroundTruthAt).
		Msg("sampled challenge")
	return ch, nil
}

// GroundTruthTime is when the last predicted hour becomes retrievable.
func GroundTruthTime(ch forecast.Challenge, delay time.Duration) time.Time {
	last := time.Unix(ch.EndTimestamp, 0).UTC().Add(time.Duration(ch.PredictHours) * time.Hour)
	return last.Add(delay)
}

func validate(ch forecast.Challenge) error {
	switch {
	case ch.PredictHours <= 0:
		return fmt.Errorf("predict hours must be positive, got %d", ch.PredictHours)
	case ch.EndTimestamp < ch.StartTimestamp:
		return fmt.Errorf("end timestamp %d before start %d", ch.EndTimestamp, ch.StartTimestamp)
	case ch.BBox.LatStart > ch.BBox.LatEnd || ch.BBox.LonStart > ch.BBox.LonEnd:
		return fmt.Errorf("bounding box %+v is inverted", ch.BBox)
	case ch.BBox.LatStart < -90 || ch.BBox.LatEnd > 90:
		return fmt.Errorf("latitude out of range in %+v", ch.BBox)
	case ch.Input.IsEmpty() || !ch.Input.Valid():
		return fmt.Errorf("input grid shape %v does not hold %d values", ch.Input.Shape, len(ch.Input.Data))
	case !ch.Input.AllFinite():
		return fmt.Errorf("input grid has non-finite values")
	}
	return nil
}

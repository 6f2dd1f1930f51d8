package dataapi

import "github.com/orpheus-ai/zeus/internal/forecast"

// APIResponse is the envelope every data service endpoint returns.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Sample is one ERA5 extent and window selected by the service.
type Sample struct {
	ID             string        `json:"id,omitempty"`
	LatStart       float64       `json:"lat_start"`
	LatEnd         float64       `json:"lat_end"`
	LonStart       float64       `json:"lon_start"`
	LonEnd         float64       `json:"lon_end"`
	StartTimestamp int64         `json:"start_timestamp"`
	EndTimestamp   int64         `json:"end_timestamp"`
	PredictHours   int           `json:"predict_hours"`
	Input          forecast.Grid `json:"input"`
}

// WindowRequest identifies the predicted window of a challenge.
type WindowRequest struct {
	ChallengeID    string  `json:"challenge_id"`
	LatStart       float64 `json:"lat_start"`
	LatEnd         float64 `json:"lat_end"`
	LonStart       float64 `json:"lon_start"`
	LonEnd         float64 `json:"lon_end"`
	StartTimestamp int64   `json:"start_timestamp"`
	EndTimestamp   int64   `json:"end_timestamp"`
	PredictHours   int     `json:"predict_hours"`
}

type (
	SampleResponse = APIResponse[Sample]
	GridResponse   = APIResponse[forecast.Grid]
)

func (s Sample) challenge() forecast.Challenge {
	return forecast.Challenge{
		ID:             s.ID,
		BBox:           forecast.BBox{LatStart: s.LatStart, LatEnd: s.LatEnd, LonStart: s.LonStart, LonEnd: s.LonEnd},
		StartTimestamp: s.StartTimestamp,
		EndTimestamp:   s.EndTimestamp,
		PredictHours:   s.PredictHours,
		Input:          s.Input,
	}
}

func windowOf(ch forecast.Challenge) WindowRequest {
	return WindowRequest{
		ChallengeID:    ch.ID,
		LatStart:       ch.BBox.LatStart,
		LatEnd:         ch.BBox.LatEnd,
		LonStart:       ch.BBox.LonStart,
		LonEnd:         ch.BBox.LonEnd,
		StartTimestamp: ch.StartTimestamp,
		EndTimestamp:   ch.EndTimestamp,
		PredictHours:   ch.PredictHours,
	}
}

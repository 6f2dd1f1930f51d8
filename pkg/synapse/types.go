// Package synapse defines the wire messages exchanged between validators and
// miners over schnitz.
package synapse

// Tensor is a dense row-major float array.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ForecastRequest asks a miner to predict PredictHours hourly frames for the
// bounding box, starting after EndTimestamp. Input holds the observed frames
// between StartTimestamp and EndTimestamp, shaped (hours, lat, lon).
type ForecastRequest struct {
	ChallengeID    string  `json:"challenge_id"`
	LatStart       float64 `json:"lat_start"`
	LatEnd         float64 `json:"lat_end"`
	LonStart       float64 `json:"lon_start"`
	LonEnd         float64 `json:"lon_end"`
	StartTimestamp int64   `json:"start_timestamp"`
	EndTimestamp   int64   `json:"end_timestamp"`
	PredictHours   int     `json:"predict_hours"`
	Input          Tensor  `json:"input"`
}

// ForecastResponse carries a prediction shaped (predict_hours, lat, lon).
type ForecastResponse struct {
	ChallengeID string `json:"challenge_id"`
	Prediction  Tensor `json:"prediction"`
}

// HealthResponse is served on /health by miners and validators.
type HealthResponse struct {
	Status string `json:"status"`
	Hotkey string `json:"hotkey,omitempty"`
}

// Package forecast holds the domain types shared by the validator components:
// challenges, worker responses, pending entries and reputation records.
package forecast

import (
	"math"
	"slices"
	"time"
)

// Grid is a dense row-major n-dimensional float grid, e.g. (hours, lat, lon).
type Grid struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewGrid builds a grid of the given shape filled with zeros.
func NewGrid(shape ...int) Grid {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if len(shape) == 0 {
		n = 0
	}
	return Grid{Shape: slices.Clone(shape), Data: make([]float64, n)}
}

// Len is the number of cells implied by the shape.
func (g Grid) Len() int {
	if len(g.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range g.Shape {
		n *= d
	}
	return n
}

// Rank is the number of dimensions.
func (g Grid) Rank() int { return len(g.Shape) }

// Valid reports whether the shape is non-negative and matches the data length.
func (g Grid) Valid() bool {
	for _, d := range g.Shape {
		if d < 0 {
			return false
		}
	}
	return g.Len() == len(g.Data)
}

// IsEmpty is true for grids with no cells. An empty prediction counts as no response.
func (g Grid) IsEmpty() bool {
	return len(g.Data) == 0 || g.Len() == 0
}

// AllFinite reports whether every value is neither NaN nor infinite.
func (g Grid) AllFinite() bool {
	for _, v := range g.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SameShape compares shapes only.
func (g Grid) SameShape(o Grid) bool {
	return slices.Equal(g.Shape, o.Shape)
}

// Clone deep-copies the grid.
func (g Grid) Clone() Grid {
	return Grid{Shape: slices.Clone(g.Shape), Data: slices.Clone(g.Data)}
}

// BBox is a latitude/longitude bounding box in degrees.
type BBox struct {
	LatStart float64 `json:"lat_start"`
	LatEnd   float64 `json:"lat_end"`
	LonStart float64 `json:"lon_start"`
	LonEnd   float64 `json:"lon_end"`
}

// Challenge is one sampled forecasting task. It is never mutated after sampling.
type Challenge struct {
	ID             string    `json:"id"`
	BBox           BBox      `json:"bbox"`
	StartTimestamp int64     `json:"start_timestamp"`
	EndTimestamp   int64     `json:"end_timestamp"`
	PredictHours   int       `json:"predict_hours"`
	Input          Grid      `json:"input"`
	GroundTruthAt  time.Time `json:"ground_truth_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Due reports whether ground truth is retrievable at now.
func (c Challenge) Due(now time.Time) bool {
	return !now.Before(c.GroundTruthAt)
}

// Worker is a miner slot resolved from the metagraph.
type Worker struct {
	UID     int    `json:"uid"`
	Hotkey  string `json:"hotkey"`
	Address string `json:"address"`
}

// WorkerResponse ties a worker's hotkey to its prediction for one challenge.
type WorkerResponse struct {
	Hotkey     string `json:"hotkey"`
	Prediction Grid   `json:"prediction"`
}

// ResolvedResponse is a stored response whose hotkey still maps to a live slot.
type ResolvedResponse struct {
	Worker     Worker
	Prediction Grid
}

// PendingEntry is the unit of durable storage: a challenge and the responses
// still awaiting ground truth.
type PendingEntry struct {
	Challenge Challenge        `json:"challenge"`
	Responses []WorkerResponse `json:"responses"`
}

// ScoreRecord is a worker's smoothed cumulative reputation.
type ScoreRecord struct {
	Hotkey    string    `json:"hotkey"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metrics are the per-worker diagnostics produced alongside a reward.
type Metrics struct {
	Penalty float64 `json:"penalty"`
	RMSE    float64 `json:"rmse"`
	Score   float64 `json:"score"`
}

// RewardResult is the ephemeral output of the reward engine for one worker.
type RewardResult struct {
	Worker  Worker  `json:"worker"`
	Reward  float64 `json:"reward"`
	Metrics Metrics `json:"metrics"`
}

// ScoreBook is a transactional view over persisted score records.
type ScoreBook interface {
	Get(hotkey string) (ScoreRecord, bool, error)
	Put(rec ScoreRecord) error
	ForEach(fn func(ScoreRecord) error) error
}

// Resolver maps an identity key to a currently registered worker.
type Resolver interface {
	Resolve(hotkey string) (Worker, bool)
}

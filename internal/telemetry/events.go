// Package telemetry records validator activity. Sinks must never fail or
// block the caller.
package telemetry

import (
	"time"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

type Event interface {
	Kind() string
}

// DispatchEvent summarises one dispatch round.
type DispatchEvent struct {
	ChallengeID string
	Requested   int
	Responded   int
	Absent      int
	// Stored is false when no worker responded and nothing was persisted.
	Stored   bool
	Duration time.Duration
}

// PunishEvent lists workers zeroed for not answering a challenge.
type PunishEvent struct {
	ChallengeID string
	Hotkeys     []string
}

// ScoreEvent carries the per-worker metrics of one settled challenge.
type ScoreEvent struct {
	Challenge forecast.Challenge
	Results   []forecast.RewardResult
	Dropped   int
}

// PendingEvent reports the pending store size after a cycle.
type PendingEvent struct {
	Pending int
}

func (DispatchEvent) Kind() string { return "dispatch" }
func (PunishEvent) Kind() string   { return "punish" }
func (ScoreEvent) Kind() string    { return "score" }
func (PendingEvent) Kind() string  { return "pending" }

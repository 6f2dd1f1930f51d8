package scheduler

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ScoreGate decides, at the top of each cycle, whether the cycle scores or dispatches.
type ScoreGate struct {
	Pending DueChecker
}

func NewScoreGate(pending DueChecker) *ScoreGate {
	return &ScoreGate{Pending: pending}
}

// ShouldScore is true iff at least one pending challenge is due at now. A
// store error is treated as nothing due so dispatch keeps going.
func (g *ScoreGate) ShouldScore(now time.Time) bool {
	due, err := g.Pending.HasDue(now)
	if err != nil {
		log.Error().Err(err).Msg("failed to check pending store, dispatching instead")
		return false
	}
	return due
}

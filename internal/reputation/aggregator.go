// Package reputation keeps each worker's smoothed cumulative score and ranks
// the current top performers.
package reputation

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// DefaultAlpha is the moving average weight given to the newest reward.
const DefaultAlpha = 0.1

// Ledger is the persistence boundary for score records.
type Ledger interface {
	UpdateScores(fn func(forecast.ScoreBook) error) error
	ViewScores(fn func(forecast.ScoreBook) error) error
}

// Ranked is one entry of the top performer list.
type Ranked struct {
	Worker forecast.Worker `json:"worker"`
	Score  float64         `json:"score"`
}

type Aggregator struct {
	alpha  float64
	ledger Ledger
	now    func() time.Time
}

func NewAggregator(alpha float64, ledger Ledger) (*Aggregator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if alpha <= 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("alpha must be in (0, 1], got %v", alpha)
	}
	return &Aggregator{alpha: alpha, ledger: ledger, now: time.Now}, nil
}

// Alpha is the smoothing factor, and also the largest change one update can
// make to a score.
func (a *Aggregator) Alpha() float64 { return a.alpha }

func clampReward(r float64) float64 {
	switch {
	case math.IsNaN(r), r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Update applies rewards in a single ledger transaction.
func (a *Aggregator) Update(ctx context.Context, rewards map[string]float64) error {
	if len(rewards) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.ledger.UpdateScores(func(book forecast.ScoreBook) error {
		return a.Settle(book, rewards)
	})
}

// Settle applies rewards inside a transaction owned by the caller.
func (a *Aggregator) Settle(book forecast.ScoreBook, rewards map[string]float64) error {
	now := a.now()
	keys := make([]string, 0, len(rewards))
	for k := range rewards {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, hotkey := range keys {
		prev, _, err := book.Get(hotkey)
		if err != nil {
			return fmt.Errorf("read score of %s: %w", hotkey, err)
		}
		next := a.alpha*clampReward(rewards[hotkey]) + (1-a.alpha)*prev.Score
		if err := book.Put(forecast.ScoreRecord{Hotkey: hotkey, Score: next, UpdatedAt: now}); err != nil {
			return fmt.Errorf("write score of %s: %w", hotkey, err)
		}
		log.Trace().Str("hotkey", hotkey).Float64("prev", prev.Score).Float64("next", next).Msg("updated score")
	}
	return nil
}

// SettleResults adapts Settle to reward engine output.
func (a *Aggregator) SettleResults(book forecast.ScoreBook, _ forecast.Challenge, results []forecast.RewardResult) error {
	rewards := make(map[string]float64, len(results))
	for _, r := range results {
		rewards[r.Worker.Hotkey] = r.Reward
	}
	return a.Settle(book, rewards)
}

// Snapshot returns every stored record ordered by hotkey.
func (a *Aggregator) Snapshot() ([]forecast.ScoreRecord, error) {
	var out []forecast.ScoreRecord
	err := a.ledger.ViewScores(func(book forecast.ScoreBook) error {
		return book.ForEach(func(rec forecast.ScoreRecord) error {
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	slices.SortFunc(out, func(x, y forecast.ScoreRecord) int { return strings.Compare(x.Hotkey, y.Hotkey) })
	return out, nil
}

// TopPerformers ranks workers the resolver still knows by score descending,
// ties broken by hotkey ascending. n <= 0 returns the full ranking.
func (a *Aggregator) TopPerformers(n int, resolver forecast.Resolver) ([]Ranked, error) {
	records, err := a.Snapshot()
	if err != nil {
		return nil, err
	}

	ranked := make([]Ranked, 0, len(records))
	for _, rec := range records {
		w, ok := resolver.Resolve(rec.Hotkey)
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{Worker: w, Score: rec.Score})
	}
	slices.SortFunc(ranked, func(x, y Ranked) int {
		if x.Score != y.Score {
			if x.Score > y.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Worker.Hotkey, y.Worker.Hotkey)
	})

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked, nil
}

package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/challenge"
	"github.com/orpheus-ai/zeus/internal/dispatch"
	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/internal/store"
	"github.com/orpheus-ai/zeus/internal/telemetry"
)

// RunCycle runs exactly one round: scoring when any pending challenge is due,
// dispatch otherwise. Cycles never overlap.
func (v *Validator) RunCycle(ctx context.Context) (CycleKind, error) {
	if !v.cycleRunning.CompareAndSwap(false, true) {
		return CycleDispatch, ErrCycleRunning
	}
	defer v.cycleRunning.Store(false)

	now := v.now()
	if v.scoringAllowed(now) && v.gate.ShouldScore(now) {
		return CycleScoring, v.scoreRound(ctx, now)
	}
	return CycleDispatch, v.dispatchRound(ctx)
}

func (v *Validator) scoringAllowed(now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !now.Before(v.scoreRetryAt)
}

func (v *Validator) backoffScoring(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scoreRetryAt = now.Add(v.ValidatorConfig.ScoreRetryDelay)
}

func (v *Validator) dispatchRound(ctx context.Context) error {
	ch, err := v.sampler.Sample(ctx)
	if err != nil {
		if errors.Is(err, challenge.ErrSourceUnavailable) {
			log.Warn().Err(err).Msg("data source unavailable, skipping dispatch")
		}
		return fmt.Errorf("sample challenge: %w", err)
	}

	workers := v.registry.Sample(v.ValidatorConfig.SampleSize)
	if len(workers) == 0 {
		log.Info().Str("challenge_id", ch.ID).Msg("no workers registered, skipping dispatch")
		return nil
	}

	start := v.now()
	res := v.dispatcher.Dispatch(ctx, ch, workers, v.ValidatorConfig.MinerTimeout)
	responders, absent := dispatch.Partition(res)
	log.Info().
		Str("challenge_id", ch.ID).
		Int("requested", len(res.Outcomes)).
		Int("responded", len(responders)).
		Int("absent", len(absent)).
		Msg("dispatch round finished")

	stored, err := v.commitDispatch(ctx, ch, responders, absent)

	v.telemetry.Record(telemetry.DispatchEvent{
		ChallengeID: ch.ID,
		Requested:   len(res.Outcomes),
		Responded:   len(responders),
		Absent:      len(absent),
		Stored:      stored,
		Duration:    v.now().Sub(start),
	})
	v.recordPending()
	return err
}

// commitDispatch punishes absent workers and stores the responders under the
// store lease, in one store transaction. Absent workers are zeroed now;
// responders wait for ground truth. A failure applies neither.
func (v *Validator) commitDispatch(
	ctx context.Context,
	ch forecast.Challenge,
	responders []forecast.WorkerResponse,
	absent []forecast.Worker,
) (bool, error) {
	if len(responders) == 0 && len(absent) == 0 {
		return false, nil
	}

	release, err := v.lease.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire store lease: %w", err)
	}
	defer release()

	var (
		punish  store.PunishFunc
		hotkeys []string
	)
	if len(absent) > 0 {
		zeros := make(map[string]float64, len(absent))
		hotkeys = make([]string, 0, len(absent))
		for _, w := range absent {
			zeros[w.Hotkey] = 0
			hotkeys = append(hotkeys, w.Hotkey)
		}
		punish = func(book forecast.ScoreBook) error {
			return v.aggregator.Settle(book, zeros)
		}
	}

	stored, err := v.store.CommitDispatch(ctx, ch, responders, punish)
	if err != nil {
		return false, fmt.Errorf("commit dispatch of %s: %w", ch.ID, err)
	}
	if len(hotkeys) > 0 {
		v.telemetry.Record(telemetry.PunishEvent{ChallengeID: ch.ID, Hotkeys: hotkeys})
	}
	return stored, nil
}

func (v *Validator) scoreRound(ctx context.Context, now time.Time) error {
	release, err := v.lease.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire store lease: %w", err)
	}
	defer release()

	report, err := v.store.ScoreAndPrune(ctx, now, v.registry, v.scoreChallenge, v.aggregator.SettleResults)
	for _, s := range report.Settled {
		v.telemetry.Record(telemetry.ScoreEvent{Challenge: s.Challenge, Results: s.Results, Dropped: s.Dropped})
	}
	log.Info().
		Int("settled", len(report.Settled)).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("scoring round finished")

	if report.Failed > 0 || err != nil {
		v.backoffScoring(now)
	}
	if len(report.Settled) > 0 {
		v.logTopPerformers()
	}
	v.recordPending()
	return err
}

// scoreChallenge fetches the observed values for ch and rewards every
// response. Missing difficulty falls back to uniform weights.
func (v *Validator) scoreChallenge(
	ctx context.Context,
	ch forecast.Challenge,
	responses []forecast.ResolvedResponse,
) ([]forecast.RewardResult, error) {
	truth, err := v.truth.GetGroundTruth(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("ground truth: %w", err)
	}
	difficulty, err := v.truth.GetDifficulty(ctx, ch)
	if err != nil {
		log.Warn().Err(err).Str("challenge_id", ch.ID).Msg("difficulty unavailable, using uniform weights")
		difficulty = forecast.Grid{}
	}
	return v.engine.Score(truth, difficulty, responses), nil
}

func (v *Validator) logTopPerformers() {
	top, err := v.TopPerformers(v.ValidatorConfig.TopPerformers)
	if err != nil {
		log.Error().Err(err).Msg("failed to rank workers")
		return
	}
	for i, r := range top {
		log.Info().Int("rank", i+1).Int("uid", r.Worker.UID).Str("hotkey", r.Worker.Hotkey).Float64("score", r.Score).Msg("top performer")
	}
}

func (v *Validator) recordPending() {
	n, err := v.store.Len()
	if err != nil {
		log.Error().Err(err).Msg("failed to count pending entries")
		return
	}
	v.telemetry.Record(telemetry.PendingEvent{Pending: n})
}

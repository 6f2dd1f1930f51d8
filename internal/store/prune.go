package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// ScoreFunc computes rewards for one due challenge. It runs outside any write
// transaction and may block on network calls.
type ScoreFunc func(ctx context.Context, ch forecast.Challenge, responses []forecast.ResolvedResponse) ([]forecast.RewardResult, error)

// SettleFunc applies rewards to the reputation ledger inside the transaction
// that deletes the entry.
type SettleFunc func(book forecast.ScoreBook, ch forecast.Challenge, results []forecast.RewardResult) error

// SettledEntry is one challenge whose rewards were committed and whose entry
// was removed.
type SettledEntry struct {
	Challenge forecast.Challenge
	Results   []forecast.RewardResult
	// Dropped counts stored responses whose hotkey no longer resolved.
	Dropped int
}

// PruneReport summarises one ScoreAndPrune pass.
type PruneReport struct {
	Settled []SettledEntry
	Failed  int
	// Skipped counts entries removed by a concurrent pass between read and commit.
	Skipped int
}

// ScoreAndPrune scores every due entry and removes it in the same
// transaction that applies its rewards. A pruned id is tombstoned and never
// accepted by Insert again. A failure on one entry leaves it
// stored and does not stop the others; all failures are returned joined.
// Running it twice in a row has the same effect as running it once.
func (s *Store) ScoreAndPrune(
	ctx context.Context,
	now time.Time,
	resolver forecast.Resolver,
	score ScoreFunc,
	settle SettleFunc,
) (PruneReport, error) {
	var (
		report PruneReport
		errs   []error
	)

	ids, err := s.dueIDs(now)
	if err != nil {
		return report, fmt.Errorf("failed to list due entries: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		settled, ok, err := s.scoreOne(ctx, now, id, resolver, score, settle)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, err)
			log.Error().Err(err).Str("challenge_id", id).Msg("failed to score pending entry, keeping it")
		case !ok:
			report.Skipped++
		default:
			report.Settled = append(report.Settled, settled)
		}
	}

	return report, errors.Join(errs...)
}

func (s *Store) scoreOne(
	ctx context.Context,
	now time.Time,
	id string,
	resolver forecast.Resolver,
	score ScoreFunc,
	settle SettleFunc,
) (SettledEntry, bool, error) {
	entry, ok, err := s.get(id)
	if err != nil || !ok {
		return SettledEntry{}, false, err
	}

	resolved := make([]forecast.ResolvedResponse, 0, len(entry.Responses))
	dropped := 0
	for _, r := range entry.Responses {
		w, known := resolver.Resolve(r.Hotkey)
		if !known {
			dropped++
			continue
		}
		resolved = append(resolved, forecast.ResolvedResponse{Worker: w, Prediction: r.Prediction})
	}

	var results []forecast.RewardResult
	if len(resolved) > 0 {
		results, err = score(ctx, entry.Challenge, resolved)
		if err != nil {
			return SettledEntry{}, false, fmt.Errorf("score challenge %s: %w", id, err)
		}
	}

	committed := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(pendingBucket)
		if pending.Get([]byte(id)) == nil {
			return nil
		}
		if len(results) > 0 {
			if err := settle(&book{bucket: tx.Bucket(scoresBucket)}, entry.Challenge, results); err != nil {
				return fmt.Errorf("settle challenge %s: %w", id, err)
			}
		}
		if err := pending.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
		if err := tx.Bucket(dueBucket).Delete(dueKey(entry.Challenge.GroundTruthAt, id)); err != nil {
			return fmt.Errorf("unindex entry %s: %w", id, err)
		}
		if err := tx.Bucket(settledBucket).Put([]byte(id), settledAt(now)); err != nil {
			return fmt.Errorf("tombstone entry %s: %w", id, err)
		}
		committed = true
		return nil
	})
	if err != nil {
		return SettledEntry{}, false, err
	}
	if !committed {
		return SettledEntry{}, false, nil
	}

	log.Info().Str("challenge_id", id).Int("scored", len(results)).Int("dropped", dropped).Msg("scored and pruned challenge")
	return SettledEntry{Challenge: entry.Challenge, Results: results, Dropped: dropped}, true, nil
}

func settledAt(at time.Time) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(at.UnixNano()))
	return v
}

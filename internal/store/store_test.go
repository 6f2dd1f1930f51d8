package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

type mapResolver map[string]forecast.Worker

func (m mapResolver) Resolve(hotkey string) (forecast.Worker, bool) {
	w, ok := m[hotkey]
	return w, ok
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "zeus.db"), WithNoSync())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testChallenge(id string, gt time.Time) forecast.Challenge {
	in := forecast.NewGrid(2, 2, 2)
	for i := range in.Data {
		in.Data[i] = float64(i)
	}
	return forecast.Challenge{
		ID:             id,
		BBox:           forecast.BBox{LatStart: 10, LatEnd: 10.5, LonStart: 20, LonEnd: 20.5},
		StartTimestamp: gt.Add(-48 * time.Hour).Unix(),
		EndTimestamp:   gt.Add(-24 * time.Hour).Unix(),
		PredictHours:   1,
		Input:          in,
		GroundTruthAt:  gt,
		CreatedAt:      gt.Add(-72 * time.Hour),
	}
}

func resp(hotkey string, v float64) forecast.WorkerResponse {
	g := forecast.NewGrid(1, 2, 2)
	for i := range g.Data {
		g.Data[i] = v
	}
	return forecast.WorkerResponse{Hotkey: hotkey, Prediction: g}
}

func constScore(r float64) ScoreFunc {
	return func(_ context.Context, _ forecast.Challenge, rs []forecast.ResolvedResponse) ([]forecast.RewardResult, error) {
		out := make([]forecast.RewardResult, 0, len(rs))
		for _, x := range rs {
			out = append(out, forecast.RewardResult{Worker: x.Worker, Reward: r})
		}
		return out, nil
	}
}

// writeRewards stores each reward as the worker's score.
func writeRewards(book forecast.ScoreBook, _ forecast.Challenge, results []forecast.RewardResult) error {
	for _, r := range results {
		if err := book.Put(forecast.ScoreRecord{Hotkey: r.Worker.Hotkey, Score: r.Reward}); err != nil {
			return err
		}
	}
	return nil
}

func scores(t *testing.T, s *Store) map[string]float64 {
	t.Helper()
	out := map[string]float64{}
	require.NoError(t, s.ViewScores(func(b forecast.ScoreBook) error {
		return b.ForEach(func(r forecast.ScoreRecord) error {
			out[r.Hotkey] = r.Score
			return nil
		})
	}))
	return out
}

func TestInsertAndMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := testChallenge("c1", t0)

	require.NoError(t, s.Insert(ctx, ch, []forecast.WorkerResponse{resp("a", 1), resp("b", 2)}))
	require.NoError(t, s.Insert(ctx, ch, []forecast.WorkerResponse{resp("b", 99), resp("c", 3)}))

	entry, ok, err := s.Entry("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entry.Responses, 3)
	assert.Equal(t, "a", entry.Responses[0].Hotkey)
	assert.Equal(t, 2.0, entry.Responses[1].Prediction.Data[0], "first stored response wins")
	assert.Equal(t, "c", entry.Responses[2].Hotkey)
	assert.Equal(t, ch.Input, entry.Challenge.Input)
	assert.True(t, entry.Challenge.GroundTruthAt.Equal(t0))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ch := testChallenge("c1", t0)
	rs := []forecast.WorkerResponse{resp("a", 1), resp("a", 5)}

	require.NoError(t, s.Insert(ctx, ch, rs))
	first, _, err := s.Entry("c1")
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, ch, rs))
	second, _, err := s.Entry("c1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second.Responses, 1)
}

func TestInsertEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert(context.Background(), testChallenge("c1", t0), nil))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertRejectsDifferentBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("a", 1)}))

	other := testChallenge("c1", t0)
	other.PredictHours = 4
	err := s.Insert(ctx, other, []forecast.WorkerResponse{resp("b", 1)})
	assert.ErrorIs(t, err, ErrDuplicateChallenge)

	entry, _, err := s.Entry("c1")
	require.NoError(t, err)
	assert.Len(t, entry.Responses, 1)
}

func TestNonFinitePredictionsSurvive(t *testing.T) {
	s := newTestStore(t)
	r := resp("a", 1)
	r.Prediction.Data[1] = math.NaN()
	r.Prediction.Data[2] = math.Inf(-1)
	require.NoError(t, s.Insert(context.Background(), testChallenge("c1", t0), []forecast.WorkerResponse{r}))

	entry, _, err := s.Entry("c1")
	require.NoError(t, err)
	got := entry.Responses[0].Prediction.Data
	assert.True(t, math.IsNaN(got[1]))
	assert.True(t, math.IsInf(got[2], -1))
	assert.False(t, entry.Responses[0].Prediction.AllFinite())
}

func TestDueEntriesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, c := range []forecast.Challenge{
		testChallenge("b", t0),
		testChallenge("z", t0.Add(-time.Hour)),
		testChallenge("a", t0),
		testChallenge("later", t0.Add(time.Hour)),
	} {
		require.NoError(t, s.Insert(ctx, c, []forecast.WorkerResponse{resp("w", 1)}))
	}

	var ids []string
	for e := range s.DueEntries(t0) {
		ids = append(ids, e.Challenge.ID)
	}
	assert.Equal(t, []string{"z", "a", "b"}, ids)

	ids = ids[:0]
	for e := range s.DueEntries(t0) {
		ids = append(ids, e.Challenge.ID)
		break
	}
	assert.Equal(t, []string{"z"}, ids)
}

func TestDueBoundaryAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	resolver := mapResolver{"a": {UID: 1, Hotkey: "a"}, "b": {UID: 2, Hotkey: "b"}}
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("a", 1), resp("b", 2)}))

	due, err := s.HasDue(t0.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, due, "not due before ground truth time")

	due, err = s.HasDue(t0)
	require.NoError(t, err)
	assert.True(t, due, "due exactly at ground truth time")

	report, err := s.ScoreAndPrune(ctx, t0.Add(time.Second), resolver, constScore(0.5), writeRewards)
	require.NoError(t, err)
	require.Len(t, report.Settled, 1)
	assert.Len(t, report.Settled[0].Results, 2)
	after := scores(t, s)
	assert.Equal(t, map[string]float64{"a": 0.5, "b": 0.5}, after)

	due, err = s.HasDue(t0.Add(2 * time.Second))
	require.NoError(t, err)
	assert.False(t, due)

	report, err = s.ScoreAndPrune(ctx, t0.Add(2*time.Second), resolver, constScore(0.9), writeRewards)
	require.NoError(t, err)
	assert.Empty(t, report.Settled)
	assert.Equal(t, after, scores(t, s), "second pass must not change reputation")

	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScoreAndPruneDropsUnknownWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("a", 1), resp("gone", 2)}))

	var seen []string
	score := func(ctx context.Context, ch forecast.Challenge, rs []forecast.ResolvedResponse) ([]forecast.RewardResult, error) {
		for _, r := range rs {
			seen = append(seen, r.Worker.Hotkey)
		}
		return constScore(1)(ctx, ch, rs)
	}
	report, err := s.ScoreAndPrune(ctx, t0, mapResolver{"a": {UID: 3, Hotkey: "a"}}, score, writeRewards)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, seen)
	require.Len(t, report.Settled, 1)
	assert.Equal(t, 1, report.Settled[0].Dropped)
	assert.Equal(t, 3, report.Settled[0].Results[0].Worker.UID)
	_, known := scores(t, s)["gone"]
	assert.False(t, known)
}

func TestScoreAndPruneAllUnknownStillPrunes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("gone", 2)}))

	called := false
	score := func(context.Context, forecast.Challenge, []forecast.ResolvedResponse) ([]forecast.RewardResult, error) {
		called = true
		return nil, nil
	}
	report, err := s.ScoreAndPrune(ctx, t0, mapResolver{}, score, writeRewards)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Len(t, report.Settled, 1)
	n, _ := s.Len()
	assert.Zero(t, n)
}

func TestScoreAndPruneFailureKeepsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	resolver := mapResolver{"a": {Hotkey: "a"}}
	require.NoError(t, s.Insert(ctx, testChallenge("bad", t0.Add(-time.Hour)), []forecast.WorkerResponse{resp("a", 1)}))
	require.NoError(t, s.Insert(ctx, testChallenge("good", t0), []forecast.WorkerResponse{resp("a", 1)}))

	boom := errors.New("ground truth unavailable")
	score := func(ctx context.Context, ch forecast.Challenge, rs []forecast.ResolvedResponse) ([]forecast.RewardResult, error) {
		if ch.ID == "bad" {
			return nil, boom
		}
		return constScore(0.7)(ctx, ch, rs)
	}
	report, err := s.ScoreAndPrune(ctx, t0, resolver, score, writeRewards)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Settled, 1)
	assert.Equal(t, "good", report.Settled[0].Challenge.ID)

	_, ok, err := s.Entry("bad")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, _ = s.Entry("good")
	assert.False(t, ok)
}

func TestSettleFailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("a", 1)}))

	settle := func(book forecast.ScoreBook, ch forecast.Challenge, rs []forecast.RewardResult) error {
		if err := writeRewards(book, ch, rs); err != nil {
			return err
		}
		return errors.New("ledger full")
	}
	_, err := s.ScoreAndPrune(ctx, t0, mapResolver{"a": {Hotkey: "a"}}, constScore(1), settle)
	require.Error(t, err)

	assert.Empty(t, scores(t, s), "partial settle must not be visible")
	_, ok, _ := s.Entry("c1")
	assert.True(t, ok)
}

func TestCorruptEntryIsReportedAndKept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, testChallenge("good", t0), []forecast.WorkerResponse{resp("a", 1)}))
	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(pendingBucket).Put([]byte("junk"), []byte("not zstd")); err != nil {
			return err
		}
		return tx.Bucket(dueBucket).Put(dueKey(t0.Add(-time.Minute), "junk"), nil)
	}))

	var ids []string
	for e := range s.DueEntries(t0) {
		ids = append(ids, e.Challenge.ID)
	}
	assert.Equal(t, []string{"good"}, ids)

	report, err := s.ScoreAndPrune(ctx, t0, mapResolver{"a": {Hotkey: "a"}}, constScore(1), writeRewards)
	require.ErrorIs(t, err, ErrCorruptEntry)
	assert.Len(t, report.Settled, 1)

	n, _ := s.Len()
	assert.Equal(t, 1, n)
	err = s.Insert(ctx, testChallenge("junk", t0), []forecast.WorkerResponse{resp("a", 1)})
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestViewScoresIsReadOnly(t *testing.T) {
	s := newTestStore(t)
	err := s.ViewScores(func(b forecast.ScoreBook) error {
		return b.Put(forecast.ScoreRecord{Hotkey: "a", Score: 1})
	})
	assert.Error(t, err)

	require.NoError(t, s.UpdateScores(func(b forecast.ScoreBook) error {
		return b.Put(forecast.ScoreRecord{Hotkey: "a", Score: 1})
	}))
	assert.Equal(t, map[string]float64{"a": 1}, scores(t, s))
}

func zeroPunish(hotkeys ...string) PunishFunc {
	return func(book forecast.ScoreBook) error {
		for _, hk := range hotkeys {
			if err := book.Put(forecast.ScoreRecord{Hotkey: hk}); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestCommitDispatchAppliesBoth(t *testing.T) {
	s := newTestStore(t)
	stored, err := s.CommitDispatch(context.Background(), testChallenge("c1", t0),
		[]forecast.WorkerResponse{resp("a", 1)}, zeroPunish("x"))
	require.NoError(t, err)
	assert.True(t, stored)

	_, ok, err := s.Entry("c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]float64{"x": 0}, scores(t, s))
}

func TestCommitDispatchInsertFailureAppliesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpdateScores(func(b forecast.ScoreBook) error {
		return b.Put(forecast.ScoreRecord{Hotkey: "x", Score: 0.5})
	}))
	require.NoError(t, s.Insert(ctx, testChallenge("c1", t0), []forecast.WorkerResponse{resp("a", 1)}))

	other := testChallenge("c1", t0)
	other.PredictHours = 3
	stored, err := s.CommitDispatch(ctx, other, []forecast.WorkerResponse{resp("b", 1)}, zeroPunish("x"))
	require.ErrorIs(t, err, ErrDuplicateChallenge)
	assert.False(t, stored)

	assert.Equal(t, map[string]float64{"x": 0.5}, scores(t, s), "punishment rolled back with the insert")
	entry, _, err := s.Entry("c1")
	require.NoError(t, err)
	assert.Len(t, entry.Responses, 1)
}

func TestCommitDispatchPunishFailureStoresNothing(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("ledger full")
	_, err := s.CommitDispatch(context.Background(), testChallenge("c1", t0),
		[]forecast.WorkerResponse{resp("a", 1)}, func(forecast.ScoreBook) error { return boom })
	require.ErrorIs(t, err, boom)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCommitDispatchPunishOnly(t *testing.T) {
	s := newTestStore(t)
	stored, err := s.CommitDispatch(context.Background(), forecast.Challenge{}, nil, zeroPunish("x", "y"))
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, map[string]float64{"x": 0, "y": 0}, scores(t, s))
}

func TestPrunedChallengeIsNotReinserted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	resolver := mapResolver{"a": {Hotkey: "a"}}
	ch := testChallenge("c1", t0)
	require.NoError(t, s.Insert(ctx, ch, []forecast.WorkerResponse{resp("a", 1)}))

	calls := 0
	score := func(ctx context.Context, ch forecast.Challenge, rs []forecast.ResolvedResponse) ([]forecast.RewardResult, error) {
		calls++
		return constScore(1)(ctx, ch, rs)
	}
	_, err := s.ScoreAndPrune(ctx, t0, resolver, score, writeRewards)
	require.NoError(t, err)

	settled, err := s.Settled("c1")
	require.NoError(t, err)
	assert.True(t, settled)

	err = s.Insert(ctx, ch, []forecast.WorkerResponse{resp("a", 1)})
	require.ErrorIs(t, err, ErrAlreadySettled)
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.ScoreAndPrune(ctx, t0, resolver, score, writeRewards)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInsertRejectsUnorderableDueTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for name, at := range map[string]time.Time{
		"zero":       {},
		"pre-epoch":  time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC),
		"past-range": time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		ch := testChallenge("c-"+name, t0)
		ch.GroundTruthAt = at
		err := s.Insert(ctx, ch, []forecast.WorkerResponse{resp("a", 1)})
		assert.ErrorIs(t, err, ErrInvalidDueTime, name)
	}
	n, err := s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

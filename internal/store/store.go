// Package store persists challenges awaiting ground truth together with the
// responses collected for them, and the per-worker reputation ledger, in a
// single bbolt file so scoring and pruning commit together.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

var (
	// ErrDuplicateChallenge is returned when an id is reused for a different challenge body.
	ErrDuplicateChallenge = errors.New("challenge id already stored with a different body")
	// ErrCorruptEntry marks a stored entry that can no longer be decoded.
	ErrCorruptEntry = errors.New("corrupt pending entry")
	// ErrAlreadySettled is returned when responses arrive for a challenge that
	// was already scored and pruned.
	ErrAlreadySettled = errors.New("challenge already settled")
	// ErrInvalidDueTime rejects ground truth times the due index cannot order.
	ErrInvalidDueTime = errors.New("ground truth time out of range")
)

var (
	pendingBucket = []byte("pending")
	dueBucket     = []byte("due")
	scoresBucket  = []byte("scores")
	// settledBucket holds one tombstone per pruned challenge id.
	settledBucket = []byte("settled")
)

// maxDueTime is the last instant UnixNano can represent.
var maxDueTime = time.Unix(0, math.MaxInt64)

// Store is safe for concurrent use. Mutations from several processes must be
// serialised by the caller (see internal/lease); bbolt itself holds an
// exclusive file lock per process.
type Store struct {
	db    *bolt.DB
	codec *codec
}

type options struct {
	openTimeout time.Duration
	noSync      bool
}

type Option func(*options)

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) { o.openTimeout = d }
}

// WithNoSync skips fsync on commit. Only for tests.
func WithNoSync() Option {
	return func(o *options) { o.noSync = true }
}

// Open opens or creates the store file at path.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{openTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.openTimeout, NoSync: o.noSync})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pendingBucket, dueBucket, scoresBucket, settledBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, codec: c}, nil
}

// Close releases the file.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

func dueKey(at time.Time, id string) []byte {
	k := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(k, uint64(at.UnixNano()))
	copy(k[8:], id)
	return k
}

func splitDueKey(k []byte) (time.Time, string) {
	if len(k) < 8 {
		return time.Time{}, ""
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(k[:8]))), string(k[8:])
}

func checkDueTime(at time.Time) error {
	if at.IsZero() || at.Before(time.Unix(0, 0)) || at.After(maxDueTime) {
		return fmt.Errorf("%w: %s", ErrInvalidDueTime, at)
	}
	return nil
}

// PunishFunc applies immediate penalties inside the transaction that stores
// the responders of the same dispatch.
type PunishFunc func(book forecast.ScoreBook) error

// Insert stores responders for ch. A second insert for the same challenge
// merges: hotkeys not yet present are appended, existing responses are kept.
// An empty responder list is a no-op.
func (s *Store) Insert(ctx context.Context, ch forecast.Challenge, responders []forecast.WorkerResponse) error {
	_, err := s.CommitDispatch(ctx, ch, responders, nil)
	return err
}

// CommitDispatch runs punish against the score ledger and stores responders
// for ch in one write transaction. If either step fails neither is applied.
// stored reports whether the pending entry changed.
func (s *Store) CommitDispatch(
	ctx context.Context,
	ch forecast.Challenge,
	responders []forecast.WorkerResponse,
	punish PunishFunc,
) (stored bool, err error) {
	if len(responders) == 0 && punish == nil {
		return false, nil
	}
	if len(responders) > 0 {
		if ch.ID == "" {
			return false, fmt.Errorf("challenge id is required")
		}
		if err := checkDueTime(ch.GroundTruthAt); err != nil {
			return false, fmt.Errorf("challenge %s: %w", ch.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if punish != nil {
			if err := punish(&book{bucket: tx.Bucket(scoresBucket)}); err != nil {
				return fmt.Errorf("punish: %w", err)
			}
		}
		if len(responders) == 0 {
			return nil
		}
		added, err := s.insertTx(tx, ch, responders)
		stored = added > 0
		return err
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (s *Store) insertTx(tx *bolt.Tx, ch forecast.Challenge, responders []forecast.WorkerResponse) (int, error) {
	id := []byte(ch.ID)
	if tx.Bucket(settledBucket).Get(id) != nil {
		return 0, fmt.Errorf("%w: %s", ErrAlreadySettled, ch.ID)
	}

	pending := tx.Bucket(pendingBucket)
	entry := forecast.PendingEntry{Challenge: ch}
	seen := make(map[string]struct{})
	if raw := pending.Get(id); raw != nil {
		stored, err := s.codec.decodeEntry(raw)
		if err != nil {
			return 0, fmt.Errorf("%w %s: %v", ErrCorruptEntry, ch.ID, err)
		}
		same, err := sameChallenge(stored.Challenge, ch)
		if err != nil {
			return 0, fmt.Errorf("compare challenge %s: %w", ch.ID, err)
		}
		if !same {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateChallenge, ch.ID)
		}
		entry = stored
		for _, r := range stored.Responses {
			seen[r.Hotkey] = struct{}{}
		}
	}

	added := 0
	for _, r := range responders {
		if _, dup := seen[r.Hotkey]; dup {
			continue
		}
		seen[r.Hotkey] = struct{}{}
		entry.Responses = append(entry.Responses, r)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	raw, err := s.codec.encodeEntry(entry)
	if err != nil {
		return 0, err
	}
	if err := pending.Put(id, raw); err != nil {
		return 0, fmt.Errorf("put entry %s: %w", ch.ID, err)
	}
	if err := tx.Bucket(dueBucket).Put(dueKey(entry.Challenge.GroundTruthAt, ch.ID), nil); err != nil {
		return 0, fmt.Errorf("index entry %s: %w", ch.ID, err)
	}
	log.Debug().Str("challenge_id", ch.ID).Int("added", added).Int("total", len(entry.Responses)).Msg("stored responses")
	return added, nil
}

// Settled reports whether id was scored and pruned.
func (s *Store) Settled(id string) (bool, error) {
	settled := false
	err := s.db.View(func(tx *bolt.Tx) error {
		settled = tx.Bucket(settledBucket).Get([]byte(id)) != nil
		return nil
	})
	return settled, err
}

// dueIDs lists ids whose ground truth time is at or before now, oldest first.
func (s *Store) dueIDs(now time.Time) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dueBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			at, id := splitDueKey(k)
			if at.After(now) {
				break
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *Store) get(id string) (forecast.PendingEntry, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(pendingBucket).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return forecast.PendingEntry{}, false, err
	}
	entry, err := s.codec.decodeEntry(raw)
	if err != nil {
		return forecast.PendingEntry{}, true, fmt.Errorf("%w %s: %v", ErrCorruptEntry, id, err)
	}
	return entry, true, nil
}

// DueEntries yields every entry whose challenge is due at now, ordered by
// ground truth time then id. Entries are read lazily; corrupt ones are logged
// and skipped. The sequence is single-use.
func (s *Store) DueEntries(now time.Time) iter.Seq[forecast.PendingEntry] {
	return func(yield func(forecast.PendingEntry) bool) {
		ids, err := s.dueIDs(now)
		if err != nil {
			log.Error().Err(err).Msg("failed to list due entries")
			return
		}
		for _, id := range ids {
			entry, ok, err := s.get(id)
			if err != nil {
				log.Error().Err(err).Str("challenge_id", id).Msg("skipping unreadable pending entry")
				continue
			}
			if !ok {
				continue
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// HasDue reports whether at least one entry is due at now.
func (s *Store) HasDue(now time.Time) (bool, error) {
	due := false
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(dueBucket).Cursor().First()
		if k == nil {
			return nil
		}
		at, _ := splitDueKey(k)
		due = !at.After(now)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check due entries: %w", err)
	}
	return due, nil
}

// Len is the number of pending entries.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Entry returns a single pending entry by challenge id.
func (s *Store) Entry(id string) (forecast.PendingEntry, bool, error) {
	return s.get(id)
}

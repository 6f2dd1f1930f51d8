package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// book is a ScoreBook bound to one bbolt transaction.
type book struct {
	bucket *bolt.Bucket
}

func (b *book) Get(hotkey string) (forecast.ScoreRecord, bool, error) {
	raw := b.bucket.Get([]byte(hotkey))
	if raw == nil {
		return forecast.ScoreRecord{}, false, nil
	}
	rec, err := decodeScore(raw)
	if err != nil {
		return forecast.ScoreRecord{}, false, fmt.Errorf("decode score of %s: %w", hotkey, err)
	}
	return rec, true, nil
}

func (b *book) Put(rec forecast.ScoreRecord) error {
	if rec.Hotkey == "" {
		return fmt.Errorf("score record has no hotkey")
	}
	raw, err := encodeScore(rec)
	if err != nil {
		return fmt.Errorf("encode score of %s: %w", rec.Hotkey, err)
	}
	return b.bucket.Put([]byte(rec.Hotkey), raw)
}

func (b *book) ForEach(fn func(forecast.ScoreRecord) error) error {
	return b.bucket.ForEach(func(k, v []byte) error {
		rec, err := decodeScore(v)
		if err != nil {
			return fmt.Errorf("decode score of %s: %w", k, err)
		}
		return fn(rec)
	})
}

// UpdateScores runs fn against the score ledger in one write transaction.
func (s *Store) UpdateScores(fn func(forecast.ScoreBook) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&book{bucket: tx.Bucket(scoresBucket)})
	})
}

// ViewScores runs fn against a read-only snapshot of the score ledger.
func (s *Store) ViewScores(fn func(forecast.ScoreBook) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&book{bucket: tx.Bucket(scoresBucket)})
	})
}

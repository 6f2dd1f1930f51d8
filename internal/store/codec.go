package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// gridRecord stores float data as raw IEEE-754 bits so non-finite
// predictions survive the round trip; JSON has no NaN.
type gridRecord struct {
	Shape []int  `json:"shape"`
	Bits  []byte `json:"bits"`
}

type challengeRecord struct {
	forecast.Challenge
	Input gridRecord `json:"input"`
}

type responseRecord struct {
	Hotkey     string     `json:"hotkey"`
	Prediction gridRecord `json:"prediction"`
}

type entryRecord struct {
	Challenge challengeRecord  `json:"challenge"`
	Responses []responseRecord `json:"responses"`
}

func toGridRecord(g forecast.Grid) gridRecord {
	buf := make([]byte, 8*len(g.Data))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return gridRecord{Shape: g.Shape, Bits: buf}
}

func (r gridRecord) grid() (forecast.Grid, error) {
	if len(r.Bits)%8 != 0 {
		return forecast.Grid{}, fmt.Errorf("grid payload of %d bytes is not a multiple of 8", len(r.Bits))
	}
	data := make([]float64, len(r.Bits)/8)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(r.Bits[i*8:]))
	}
	return forecast.Grid{Shape: r.Shape, Data: data}, nil
}

type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *codec) encodeEntry(e forecast.PendingEntry) ([]byte, error) {
	rec := entryRecord{
		Challenge: challengeRecord{Challenge: e.Challenge, Input: toGridRecord(e.Challenge.Input)},
		Responses: make([]responseRecord, 0, len(e.Responses)),
	}
	for _, r := range e.Responses {
		rec.Responses = append(rec.Responses, responseRecord{Hotkey: r.Hotkey, Prediction: toGridRecord(r.Prediction)})
	}
	raw, err := sonic.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal entry %s: %w", e.Challenge.ID, err)
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *codec) decodeEntry(b []byte) (forecast.PendingEntry, error) {
	raw, err := c.dec.DecodeAll(b, nil)
	if err != nil {
		return forecast.PendingEntry{}, fmt.Errorf("decompress entry: %w", err)
	}
	var rec entryRecord
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return forecast.PendingEntry{}, fmt.Errorf("unmarshal entry: %w", err)
	}

	ch := rec.Challenge.Challenge
	if ch.ID == "" {
		return forecast.PendingEntry{}, fmt.Errorf("entry has no challenge id")
	}
	if ch.Input, err = rec.Challenge.Input.grid(); err != nil {
		return forecast.PendingEntry{}, fmt.Errorf("input grid: %w", err)
	}
	entry := forecast.PendingEntry{Challenge: ch, Responses: make([]forecast.WorkerResponse, 0, len(rec.Responses))}
	for _, r := range rec.Responses {
		g, err := r.Prediction.grid()
		if err != nil {
			return forecast.PendingEntry{}, fmt.Errorf("prediction of %s: %w", r.Hotkey, err)
		}
		entry.Responses = append(entry.Responses, forecast.WorkerResponse{Hotkey: r.Hotkey, Prediction: g})
	}
	return entry, nil
}

// sameChallenge compares two challenges by their stored representation.
func sameChallenge(a, b forecast.Challenge) (bool, error) {
	ra, err := sonic.Marshal(challengeRecord{Challenge: a, Input: toGridRecord(a.Input)})
	if err != nil {
		return false, err
	}
	rb, err := sonic.Marshal(challengeRecord{Challenge: b, Input: toGridRecord(b.Input)})
	if err != nil {
		return false, err
	}
	return bytes.Equal(ra, rb), nil
}

func encodeScore(rec forecast.ScoreRecord) ([]byte, error) {
	return sonic.Marshal(rec)
}

func decodeScore(b []byte) (forecast.ScoreRecord, error) {
	var rec forecast.ScoreRecord
	err := sonic.Unmarshal(b, &rec)
	return rec, err
}

package telemetry

import (
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

type Sink interface {
	Record(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// Multi fans an event out to every sink. A panicking sink is logged and
// does not stop the others.
type Multi []Sink

func (m Multi) Record(e Event) {
	for _, s := range m {
		record(s, e)
	}
}

func record(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", e.Kind()).Msg("telemetry sink panicked")
		}
	}()
	s.Record(e)
}

// LogSink writes events as structured zerolog lines.
type LogSink struct{}

func (LogSink) Record(e Event) {
	switch ev := e.(type) {
	case DispatchEvent:
		log.Info().
			Str("challenge_id", ev.ChallengeID).
			Int("requested", ev.Requested).
			Int("responded", ev.Responded).
			Int("absent", ev.Absent).
			Bool("stored", ev.Stored).
			Dur("duration", ev.Duration).
			Msg("dispatch round")
	case PunishEvent:
		log.Info().Str("challenge_id", ev.ChallengeID).Strs("hotkeys", ev.Hotkeys).Msg("punished absent workers")
	case ScoreEvent:
		bbox, err := sonic.Marshal(ev.Challenge.BBox)
		if err != nil {
			bbox = []byte("null")
		}
		for _, r := range ev.Results {
			log.Info().
				Str("challenge_id", ev.Challenge.ID).
				RawJSON("bbox", bbox).
				Int64("start_timestamp", ev.Challenge.StartTimestamp).
				Int64("end_timestamp", ev.Challenge.EndTimestamp).
				Int("predict_hours", ev.Challenge.PredictHours).
				Int("uid", r.Worker.UID).
				Str("hotkey", r.Worker.Hotkey).
				Float64("penalty", r.Metrics.Penalty).
				Float64("rmse", r.Metrics.RMSE).
				Float64("score", r.Metrics.Score).
				Float64("reward", r.Reward).
				Msg("worker scored")
		}
		if ev.Dropped > 0 {
			log.Info().Str("challenge_id", ev.Challenge.ID).Int("dropped", ev.Dropped).Msg("dropped responses of deregistered workers")
		}
	case PendingEvent:
		log.Debug().Int("pending", ev.Pending).Msg("pending store size")
	default:
		log.Warn().Str("event", e.Kind()).Msg("unknown telemetry event")
	}
}

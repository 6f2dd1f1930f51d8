package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }

type countSink struct{ n int }

func (c *countSink) Record(Event) { c.n++ }

func scoreEvent() ScoreEvent {
	return ScoreEvent{
		Challenge: forecast.Challenge{ID: "c1", BBox: forecast.BBox{LatStart: -5, LatEnd: 5}, PredictHours: 2},
		Results: []forecast.RewardResult{
			{Worker: forecast.Worker{UID: 1, Hotkey: "a"}, Reward: 1, Metrics: forecast.Metrics{RMSE: 0.5, Score: 1}},
			{Worker: forecast.Worker{UID: 2, Hotkey: "b"}, Reward: 0, Metrics: forecast.Metrics{Penalty: 1, RMSE: -1}},
		},
		Dropped: 3,
	}
}

func TestMultiSurvivesPanickingSink(t *testing.T) {
	c := &countSink{}
	m := Multi{panicSink{}, c, LogSink{}}
	assert.NotPanics(t, func() {
		m.Record(scoreEvent())
		m.Record(PunishEvent{ChallengeID: "c1", Hotkeys: []string{"x"}})
	})
	assert.Equal(t, 2, c.n)
}

func TestPrometheusSinkCounts(t *testing.T) {
	p := NewPrometheusSink(WithNamespace("test"))

	p.Record(DispatchEvent{ChallengeID: "c1", Requested: 4, Responded: 3, Absent: 1, Stored: true, Duration: time.Second})
	p.Record(PunishEvent{ChallengeID: "c1", Hotkeys: []string{"x", "y"}})
	p.Record(scoreEvent())
	p.Record(PendingEvent{Pending: 7})

	assert.Equal(t, 1.0, testutil.ToFloat64(p.dispatchRounds))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.responses.WithLabelValues("responded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.responses.WithLabelValues("absent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.punished))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.settled))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.dropped))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.pending))
	assert.Equal(t, 1, testutil.CollectAndCount(p.rmse))
}

func TestPrometheusSinksAreIndependent(t *testing.T) {
	a := NewPrometheusSink()
	b := NewPrometheusSink()
	a.Record(PendingEvent{Pending: 1})
	assert.Equal(t, 0.0, testutil.ToFloat64(b.pending))
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheusSink()
	p.Record(PendingEvent{Pending: 2})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "zeus_store_pending_entries 2")
}

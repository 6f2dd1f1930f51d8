// Package dispatch fans a challenge out to workers and classifies every
// worker's outcome as either a usable response or an absence.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/forecast"
)

// Transport delivers one challenge to one worker. Implementations must be safe
// for concurrent use across distinct workers.
type Transport interface {
	Send(ctx context.Context, w forecast.Worker, ch forecast.Challenge) (forecast.Grid, error)
}

// AbsentReason says why a worker produced no usable response.
type AbsentReason string

const (
	ReasonTimeout AbsentReason = "timeout"
	ReasonError   AbsentReason = "error"
	ReasonEmpty   AbsentReason = "empty"
	ReasonInvalid AbsentReason = "invalid"
)

// Outcome is either Responded or Absent.
type Outcome interface {
	isOutcome()
}

// Responded carries a non-empty, well-formed prediction.
type Responded struct {
	Prediction forecast.Grid
}

// Absent marks a worker that failed, timed out or sent an empty payload.
type Absent struct {
	Reason AbsentReason
	Err    error
}

func (Responded) isOutcome() {}
func (Absent) isOutcome()    {}

// WorkerOutcome pairs a worker with its single outcome.
type WorkerOutcome struct {
	Worker  forecast.Worker
	Outcome Outcome
	Latency time.Duration
}

// Result holds exactly one outcome per distinct requested worker, in request
// order.
type Result struct {
	Challenge forecast.Challenge
	Outcomes  []WorkerOutcome
}

type Dispatcher struct {
	transport Transport
}

func NewDispatcher(transport Transport) (*Dispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	return &Dispatcher{transport: transport}, nil
}

// Dispatch sends ch to every worker concurrently, each bounded by its own
// timeout. It returns once every call has finished or timed out. Workers
// repeated in the request (same hotkey) are called once.
func (d *Dispatcher) Dispatch(ctx context.Context, ch forecast.Challenge, workers []forecast.Worker, timeout time.Duration) Result {
	unique := make([]forecast.Worker, 0, len(workers))
	seen := make(map[string]struct{}, len(workers))
	for _, w := range workers {
		if _, dup := seen[w.Hotkey]; dup {
			continue
		}
		seen[w.Hotkey] = struct{}{}
		unique = append(unique, w)
	}

	outcomes := make([]WorkerOutcome, len(unique))
	var wg sync.WaitGroup
	wg.Add(len(unique))
	for i, w := range unique {
		go func(i int, w forecast.Worker) {
			defer wg.Done()
			outcomes[i] = d.call(ctx, ch, w, timeout)
		}(i, w)
	}
	wg.Wait()

	return Result{Challenge: ch, Outcomes: outcomes}
}

func (d *Dispatcher) call(ctx context.Context, ch forecast.Challenge, w forecast.Worker, timeout time.Duration) (out WorkerOutcome) {
	out.Worker = w
	start := time.Now()
	defer func() { out.Latency = time.Since(start) }()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		grid forecast.Grid
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("hotkey", w.Hotkey).Msg("transport panicked")
				done <- reply{err: fmt.Errorf("transport panic: %v", p)}
			}
		}()
		g, err := d.transport.Send(callCtx, w, ch)
		done <- reply{g, err}
	}()

	// A transport that ignores ctx must not hold the round past its timeout.
	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = reply{err: callCtx.Err()}
	}

	switch {
	case r.err != nil && errors.Is(r.err, context.DeadlineExceeded):
		out.Outcome = Absent{Reason: ReasonTimeout, Err: r.err}
	case r.err != nil:
		out.Outcome = Absent{Reason: ReasonError, Err: r.err}
	case r.grid.IsEmpty():
		out.Outcome = Absent{Reason: ReasonEmpty}
	case !r.grid.Valid():
		out.Outcome = Absent{Reason: ReasonInvalid, Err: fmt.Errorf("shape %v does not match %d values", r.grid.Shape, len(r.grid.Data))}
	default:
		out.Outcome = Responded{Prediction: r.grid}
	}

	if a, ok := out.Outcome.(Absent); ok {
		log.Debug().Str("hotkey", w.Hotkey).Int("uid", w.UID).Str("reason", string(a.Reason)).Err(a.Err).Msg("worker absent")
	}
	return out
}

// Partition splits a result into responders, to be stored, and absent
// workers, to be punished now. Every outcome lands in exactly one of the two.
func Partition(res Result) (responders []forecast.WorkerResponse, absent []forecast.Worker) {
	for _, o := range res.Outcomes {
		switch v := o.Outcome.(type) {
		case Responded:
			responders = append(responders, forecast.WorkerResponse{Hotkey: o.Worker.Hotkey, Prediction: v.Prediction})
		default:
			absent = append(absent, o.Worker)
		}
	}
	return responders, absent
}

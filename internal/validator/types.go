// Package validator runs the validator loop: each cycle either scores the
// challenges whose ground truth is due or dispatches a new challenge.
package validator

import (
	"context"
	"errors"
	"time"

	"github.com/orpheus-ai/zeus/internal/dispatch"
	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/internal/kami"
)

// ErrCycleRunning is returned when RunCycle is entered while a cycle is in progress.
var ErrCycleRunning = errors.New("validator cycle already running")

// CycleKind says which of the two mutually exclusive rounds a cycle ran.
type CycleKind int

const (
	CycleDispatch CycleKind = iota
	CycleScoring
)

func (k CycleKind) String() string {
	if k == CycleScoring {
		return "scoring"
	}
	return "dispatch"
}

// Registry is the validator's view of registered workers.
type Registry interface {
	forecast.Resolver
	Sample(k int) []forecast.Worker
	Sync(ctx context.Context) error
}

type ChainClient interface {
	GetLatestBlock(ctx context.Context) (kami.LatestBlockResponse, error)
}

type Sampler interface {
	Sample(ctx context.Context) (forecast.Challenge, error)
}

// TruthSource serves the observed values and difficulty weights of a due challenge.
type TruthSource interface {
	GetGroundTruth(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error)
	GetDifficulty(ctx context.Context, ch forecast.Challenge) (forecast.Grid, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ch forecast.Challenge, workers []forecast.Worker, timeout time.Duration) dispatch.Result
}

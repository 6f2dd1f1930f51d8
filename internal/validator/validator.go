package validator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/config"
	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/internal/lease"
	"github.com/orpheus-ai/zeus/internal/reputation"
	"github.com/orpheus-ai/zeus/internal/reward"
	"github.com/orpheus-ai/zeus/internal/scheduler"
	"github.com/orpheus-ai/zeus/internal/store"
	"github.com/orpheus-ai/zeus/internal/telemetry"
)

// Deps are the collaborators a Validator drives. Chain and Telemetry are optional.
type Deps struct {
	Chain      ChainClient
	Registry   Registry
	Sampler    Sampler
	Truth      TruthSource
	Dispatcher Dispatcher
	Store      *store.Store
	Aggregator *reputation.Aggregator
	Engine     *reward.Engine
	Lease      lease.Lease
	Telemetry  telemetry.Sink
}

// Validator coordinates dispatch and scoring rounds for a subnet.
type Validator struct {
	chain      ChainClient
	registry   Registry
	sampler    Sampler
	truth      TruthSource
	dispatcher Dispatcher
	store      *store.Store
	aggregator *reputation.Aggregator
	engine     *reward.Engine
	lease      lease.Lease
	telemetry  telemetry.Sink
	gate       *scheduler.ScoreGate
	resync     *scheduler.BlockCallback

	LatestBlock atomic.Int64

	IntervalConfig  *config.IntervalConfig
	ValidatorConfig *config.ValidatorEnvConfig

	Ctx    context.Context
	Cancel context.CancelFunc
	Wg     sync.WaitGroup

	now          func() time.Time
	mu           sync.Mutex // guards scoreRetryAt
	scoreRetryAt time.Time
	cycleRunning atomic.Bool
	syncRunning  atomic.Bool
}

// NewValidator constructs a Validator with intervals based on environment.
func NewValidator(cfg *config.ValidatorEnvConfig, deps Deps) (*Validator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("registry cannot be nil")
	case deps.Sampler == nil:
		return nil, fmt.Errorf("sampler cannot be nil")
	case deps.Truth == nil:
		return nil, fmt.Errorf("truth source cannot be nil")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher cannot be nil")
	case deps.Store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case deps.Aggregator == nil:
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if deps.Engine == nil {
		deps.Engine = reward.NewEngine()
	}
	if deps.Lease == nil {
		deps.Lease = lease.NewLocal()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}

	intervalConfig := config.NewIntervalConfig(cfg.Environment)
	ctx, cancel := context.WithCancel(context.Background())

	v := &Validator{
		chain:      deps.Chain,
		registry:   deps.Registry,
		sampler:    deps.Sampler,
		truth:      deps.Truth,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		aggregator: deps.Aggregator,
		engine:     deps.Engine,
		lease:      deps.Lease,
		telemetry:  deps.Telemetry,
		gate:       scheduler.NewScoreGate(deps.Store),

		IntervalConfig:  intervalConfig,
		ValidatorConfig: cfg,

		Ctx:    ctx,
		Cancel: cancel,
		now:    time.Now,
	}
	v.resync = scheduler.NewBlockCallback(intervalConfig.BlocksPerResync, v.syncMetagraph)
	return v, nil
}

// runTicker runs a function periodically until the provided context is canceled.
func (v *Validator) runTicker(ctx context.Context, d time.Duration, fn func()) {
	defer v.Wg.Done()
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Start kicks off the cycle loop and the metagraph and block sync routines.
func (v *Validator) Start() {
	if err := v.syncMetagraph(); err != nil {
		log.Error().Err(err).Msg("initial metagraph sync failed")
	}

	v.Wg.Add(1)
	go v.cycleLoop(v.Ctx)

	v.Wg.Add(1)
	go v.runTicker(v.Ctx, v.IntervalConfig.MetagraphInterval, func() {
		if err := v.syncMetagraph(); err != nil {
			log.Error().Err(err).Msg("failed to sync metagraph")
		}
	})

	if v.chain != nil {
		v.Wg.Add(1)
		go v.runTicker(v.Ctx, v.IntervalConfig.BlockInterval, func() {
			v.syncBlock()
		})
	}
}

// Stop cancels background routines and waits for them to finish.
func (v *Validator) Stop() {
	if v.Cancel != nil {
		v.Cancel()
	}
	v.Wg.Wait()
}

func (v *Validator) cycleLoop(ctx context.Context) {
	defer v.Wg.Done()
	for {
		kind, err := v.RunCycle(ctx)
		if err != nil {
			log.Error().Err(err).Str("cycle", kind.String()).Msg("validator cycle failed")
		}

		// Scoring rounds drain due entries back to back.
		delay := v.IntervalConfig.CycleDelay
		if kind == CycleScoring {
			delay = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (v *Validator) syncMetagraph() error {
	if !v.syncRunning.CompareAndSwap(false, true) {
		return nil
	}
	defer v.syncRunning.Store(false)
	return v.registry.Sync(v.Ctx)
}

func (v *Validator) syncBlock() {
	resp, err := v.chain.GetLatestBlock(v.Ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to get latest block")
		return
	}
	block := int64(resp.Data.BlockNumber)
	v.LatestBlock.Store(block)
	log.Debug().Int64("block", block).Msg("synced latest block")

	if v.resync.ShouldTrigger(block) {
		if err := v.resync.Execute(block); err != nil {
			log.Error().Err(err).Str("callback", v.resync.GetName()).Int64("block", block).Msg("block callback failed")
		}
	}
}

// TopPerformers ranks currently registered workers by reputation.
func (v *Validator) TopPerformers(n int) ([]reputation.Ranked, error) {
	return v.aggregator.TopPerformers(n, v.registry)
}

// Scores returns every persisted reputation record.
func (v *Validator) Scores() ([]forecast.ScoreRecord, error) {
	return v.aggregator.Snapshot()
}

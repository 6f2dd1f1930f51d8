// Package metagraph keeps the validator's view of registered workers in sync
// with the subnet metagraph.
package metagraph

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/orpheus-ai/zeus/internal/forecast"
	"github.com/orpheus-ai/zeus/internal/kami"
)

// rootStakeWeight discounts root (TAO) stake against subnet alpha stake.
const rootStakeWeight = 0.18

type Source interface {
	GetMetagraph(ctx context.Context, netuid int) (kami.SubnetMetagraphResponse, error)
}

// Registry is a mutex-guarded snapshot of the metagraph. Zero workers is a
// valid state before the first sync.
type Registry struct {
	source         Source
	netuid         int
	stakeThreshold float64

	mu      sync.RWMutex
	workers map[string]forecast.Worker
	miners  []forecast.Worker
	block   int
}

func NewRegistry(source Source, netuid int, stakeThreshold float64) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("metagraph source cannot be nil")
	}
	return &Registry{
		source:         source,
		netuid:         netuid,
		stakeThreshold: stakeThreshold,
		workers:        map[string]forecast.Worker{},
	}, nil
}

// Sync replaces the snapshot with the current metagraph. On error the
// previous snapshot is kept.
func (r *Registry) Sync(ctx context.Context) error {
	log.Info().Int("netuid", r.netuid).Msg("syncing metagraph")
	resp, err := r.source.GetMetagraph(ctx, r.netuid)
	if err != nil {
		return fmt.Errorf("failed to get metagraph: %w", err)
	}
	r.Load(resp.Data)
	return nil
}

// Load installs a metagraph snapshot.
func (r *Registry) Load(mg kami.SubnetMetagraph) {
	workers := make(map[string]forecast.Worker, len(mg.Hotkeys))
	var miners []forecast.Worker

	for uid, hotkey := range mg.Hotkeys {
		if hotkey == "" {
			continue
		}
		w := forecast.Worker{UID: uid, Hotkey: hotkey}
		if uid < len(mg.Axons) {
			w.Address = axonAddress(mg.Axons[uid])
		}
		workers[hotkey] = w

		if w.Address != "" && r.isMiner(mg, uid) {
			miners = append(miners, w)
		}
	}

	log.Info().Int("block", mg.Block).Int("registered", len(workers)).Int("miners", len(miners)).Msg("metagraph synced")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = workers
	r.miners = miners
	r.block = mg.Block
}

func (r *Registry) isMiner(mg kami.SubnetMetagraph, uid int) bool {
	var alpha, root float64
	if uid < len(mg.AlphaStake) {
		alpha = mg.AlphaStake[uid]
	}
	if uid < len(mg.TaoStake) {
		root = mg.TaoStake[uid]
	}
	return alpha+root*rootStakeWeight < r.stakeThreshold
}

func axonAddress(a kami.AxonInfo) string {
	if a.IP == "" || a.IP == "0.0.0.0" || a.Port <= 0 {
		return ""
	}
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// Resolve maps a hotkey to its current registration, including validators.
func (r *Registry) Resolve(hotkey string) (forecast.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[hotkey]
	return w, ok
}

func (r *Registry) Known(hotkey string) bool {
	_, ok := r.Resolve(hotkey)
	return ok
}

// ListCurrent returns the dispatchable workers ordered by uid.
func (r *Registry) ListCurrent() []forecast.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.miners)
}

// Sample picks k distinct workers uniformly at random. k <= 0 or k larger
// than the population returns every worker in random order.
func (r *Registry) Sample(k int) []forecast.Worker {
	workers := r.ListCurrent()
	rand.Shuffle(len(workers), func(i, j int) { workers[i], workers[j] = workers[j], workers[i] })
	if k > 0 && k < len(workers) {
		workers = workers[:k]
	}
	return workers
}

// Block is the block height of the installed snapshot.
func (r *Registry) Block() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.block
}

// Package lease provides the exclusion around pending store mutations and the
// Redis leader lease that decides which validator process owns the store.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLeaseHeld is returned when the lease could not be taken before ctx ended.
var ErrLeaseHeld = errors.New("lease held by another holder")

type Lease interface {
	// Acquire blocks until the lease is held or ctx is done. release is
	// idempotent.
	Acquire(ctx context.Context) (release func(), err error)
}

// Local is an in-process lease. The zero value is not usable; use NewLocal.
type Local struct {
	sem chan struct{}
}

func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLeaseHeld, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-l.sem })
	}, nil
}

package scheduler

import "time"

// BlockCallback is a callback that triggers every N blocks
// WARN: if the block updater hangs and several intervals pass between two
// observed blocks, the callback fires once, not once per missed interval.
type BlockCallback struct {
	LastTriggerAtBlock int64
	// interval is the number of blocks between triggers
	interval  int64
	executeFn func() error
}

type CallbackHandler interface {
	// Determines if the callback should trigger at the given block height
	ShouldTrigger(block int64) bool
	// Executes the callback logic and returns an error if it fails
	Execute(block int64) error
	// Returns the name of the callback, which may be inferred from the function name
	GetName() string
}

// DueChecker reports whether any stored challenge has reached its ground truth time.
type DueChecker interface {
	HasDue(now time.Time) (bool, error)
}

package scheduler

// NewBlockCallback creates a new BlockCallback that triggers every N blocks
func NewBlockCallback(interval int64, execute func() error) *BlockCallback {
	if interval <= 0 {
		interval = 1
	}
	return &BlockCallback{
		LastTriggerAtBlock: -1,
		interval:           interval,
		executeFn:          execute,
	}
}

// ShouldTrigger checks if the callback should trigger based on block interval and missed blocks
func (bc *BlockCallback) ShouldTrigger(block int64) bool {
	// First run fires on an interval boundary
	if bc.LastTriggerAtBlock < 0 {
		return block%bc.interval == 0
	}
	return block-bc.LastTriggerAtBlock >= bc.interval
}

// Execute runs the callback. Failed executions retry on the next block.
func (bc *BlockCallback) Execute(block int64) error {
	if err := bc.executeFn(); err != nil {
		return err
	}
	bc.LastTriggerAtBlock = block
	return nil
}

// GetName returns the callback name
func (bc *BlockCallback) GetName() string {
	return InferNameFromFunc(bc.executeFn)
}

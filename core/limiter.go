package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelCallLimit is returned once an invocation used up its model calls.
var ErrModelCallLimit = errors.New("core: model call limit exceeded")

// ModelLimiter enforces a maximum number of model calls per invocation. It
// is shared by every context derived from the same root.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a limiter allowing max calls. Zero means
// unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Acquire records one call and fails once the limit is exceeded. A nil
// limiter allows everything.
func (ml *ModelLimiter) Acquire() error {
	if ml == nil {
		return nil
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max > 0 && ml.count >= ml.max {
		return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
	}
	ml.count++

	return nil
}

// Count returns the number of calls made.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max == 0 {
		return -1
	}

	return ml.max - ml.count
}

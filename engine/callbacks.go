package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/localmesh/core"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Callbacks hook into the engine's execution pipeline without modifying
// agent code. They run synchronously on the invocation goroutine.
type CallbackType string

const (
	// CallbackBeforeAgent is triggered before the root agent begins
	// execution. An error aborts the invocation.
	CallbackBeforeAgent CallbackType = "before_agent"

	// CallbackAfterAgent is triggered after the root agent returned, also
	// when it failed.
	CallbackAfterAgent CallbackType = "after_agent"

	// CallbackOnError is triggered after CallbackAfterAgent when the
	// invocation failed.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext provides context information for callback execution.
type CallbackContext struct {
	// InvocationContext is the root context of the invocation.
	InvocationContext *core.InvocationContext

	// AgentName identifies the invoked agent.
	AgentName string

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Output is the agent's output. Empty before the agent ran.
	Output string

	// Err is the invocation error, if any. Nil before the agent ran.
	Err error

	// Metadata provides extensible storage for custom callback data. It is
	// shared by all callbacks of one invocation.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Implementations should be fast: callbacks run synchronously and delay
// the invocation. A BeforeAgent callback that returns an error aborts the
// invocation; errors of the other types are logged.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback of the given type backed by fn.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager stores callbacks by type and executes them in
// registration order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback under its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback of callbackType and stops at the
// first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback writes one line per execution through logger.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger != nil {
		message := fmt.Sprintf("[%s] Agent: %s", c.callbackType, callbackCtx.AgentName)
		if callbackCtx.Err != nil {
			message += fmt.Sprintf(", Error: %v", callbackCtx.Err)
		}
		c.logger(message)
	}
	return nil
}

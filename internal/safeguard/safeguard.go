// Package safeguard isolates panics inside goroutines and calls so one
// driver bug cannot take the whole engine down. A recovered panic is logged
// and then either returned as a plain error (SafeExecute) or handed to the
// caller's onPanic callback (SafeGo); the package does not restart anything.
package safeguard

import (
	"fmt"
	"runtime/debug"

	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
)

// SafeExecute runs fn with panic recovery. A panic is logged and converted
// into an error describing the operation and the recovered value.
func SafeExecute(logger obslog.Logger, operation string, fn func() error) error {
	var panicErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger != nil {
					logger.Error("panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				panicErr = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		panicErr = fn()
	}()

	return panicErr
}

// SafeExecuteWithResult is SafeExecute for functions that also return a value.
func SafeExecuteWithResult[T any](logger obslog.Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger != nil {
					logger.Error("panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		result, err = fn()
	}()

	return result, err
}

// SafeGo runs fn in a new goroutine with panic recovery. onPanic, if
// non-nil, is invoked with the recovered value after the panic is logged —
// the supervisor uses this to record the panic as its last error; its
// lifecycle state is not changed and its run loop is not restarted.
func SafeGo(logger obslog.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger != nil {
					logger.Error("goroutine_panic_recovered", "operation", operation, "panic", r, "stack", stack)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

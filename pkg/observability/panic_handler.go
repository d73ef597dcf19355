package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack.
// Call it in a defer statement; the panic is not re-raised.
//
//	func scheduledRun() {
//	    defer observability.RecoverPanic(logger, "scheduled billing run")
//	    // ...
//	}
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
	}
}

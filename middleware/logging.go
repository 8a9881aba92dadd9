package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/fluxkit/dispatch"
)

// Logger is the interface for logging middleware.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Audit logs every dispatch passing through it: start at debug level,
// completion at debug level with the elapsed time, and failure at error
// level. The chain always continues; the audit middleware never alters the
// action or the outcome.
func Audit(logger Logger) dispatch.MiddlewareFunc {
	return func(ctx context.Context, mc *dispatch.Context) error {
		if logger == nil {
			return mc.Next(ctx)
		}

		actionType := fmt.Sprintf("%T", mc.Action())
		logger.Debug("dispatch start", "action", actionType)

		start := time.Now()
		err := mc.Next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("dispatch failed",
				"action", actionType,
				"duration", elapsed,
				"error", err,
			)
		} else {
			logger.Debug("dispatch complete",
				"action", actionType,
				"duration", elapsed,
			)
		}
		return err
	}
}

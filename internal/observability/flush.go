package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry flushes buffered logs before process exit. Prometheus is
// pull-based, so metrics need no flush.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isUnsyncableOutput(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return ctx.Err()
}

// isUnsyncableOutput reports the EINVAL/ENOTTY errors zap returns when stderr
// is a terminal or pipe; those are not real flush failures.
func isUnsyncableOutput(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}

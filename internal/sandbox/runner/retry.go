package runner

import (
	"context"
	"errors"
	"syscall"
	"time"

	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

var transientErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.EINTR,
	syscall.ETXTBSY,
	syscall.EBUSY,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ENOMEM,
}

// isTransient reports whether err looks like host pressure rather than a
// permanent fault.
func isTransient(err error) bool {
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// withRetry runs fn and, when it fails transiently, once more after delay.
func withRetry(ctx context.Context, op string, delay time.Duration, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) {
		return err
	}
	logger.Warn(ctx, "transient failure, retrying once", zap.String("op", op), zap.Error(err))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return err
	}
	return fn()
}

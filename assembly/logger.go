package assembly

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

var nopLog = zap.NewNop()

// Logger returns the assembly package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nopLog
}

// SetLogger configures the assembly package's logger. The logger is process
// wide and shared by every Registry; nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}

package styletransfer

import (
	"log/slog"

	"github.com/gogpu/styletransfer/internal/logging"
)

// SetLogger configures the logger for styletransfer and all its
// sub-packages. By default nothing is logged.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default.
//
// Log levels used:
//   - [slog.LevelDebug]: per-frame scheduling (index, layers, alpha)
//   - [slog.LevelInfo]: lifecycle events (style applied, anchors reallocated)
//   - [slog.LevelWarn]: non-fatal issues (uniform cost fallback, passthrough collapse)
//
// Example:
//
//	styletransfer.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return logging.L()
}

package hellotriangle

import (
	"log/slog"

	"github.com/andewx/hellotriangle/hal"
)

// SetLogger sets the logger for the controller and every backend.
// Passing nil restores the default, which discards everything.
func SetLogger(l *slog.Logger) {
	hal.SetLogger(l)
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return hal.Logger()
}

package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the default text handler. Verbose enables debug
// logging, which also turns on per-request resty logs.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

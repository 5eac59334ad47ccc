package logger

import (
	"context"
	"log"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info level should be enabled")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level should be disabled at info")
	}
	// The bridged standard logger must not panic
	log.Println("bridge check")
}

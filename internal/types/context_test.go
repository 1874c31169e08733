package types

import (
	"context"
	"log/slog"
	"testing"
)

func TestWithLogger_LoggerFromContext(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Errorf("LoggerFromContext returned a different logger")
	}
	if got := LoggerFromContext(context.Background()); got != nil {
		t.Errorf("LoggerFromContext on empty context = %v, want nil", got)
	}
}

func TestRunContext_Log(t *testing.T) {
	var nilRC *RunContext
	if nilRC.Log() == nil {
		t.Fatal("nil RunContext must fall back to the default logger")
	}
	rc := &RunContext{}
	if rc.Log() != slog.Default() {
		t.Error("RunContext without logger should use slog.Default")
	}
	logger := slog.New(slog.DiscardHandler)
	rc.Logger = logger
	if rc.Log() != logger {
		t.Error("RunContext.Log should return the configured logger")
	}
}

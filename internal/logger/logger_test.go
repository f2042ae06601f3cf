package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker"} {
		if _, err := NewLogger(env); err != nil {
			t.Errorf("NewLogger(%q): %v", env, err)
		}
	}
	if _, err := NewLogger("staging"); err == nil {
		t.Error("expected error for unknown env")
	}
	if _, err := NewLogger("prod", "loud"); err == nil {
		t.Error("expected error for bad level")
	}

	l, err := NewLogger("dev", "warn")
	if err != nil {
		t.Fatalf("NewLogger(dev, warn): %v", err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("level override not applied")
	}

	nop, err := NewLogger("test")
	if err != nil || nop.Core().Enabled(zap.ErrorLevel) {
		t.Errorf("test env must discard logs, err=%v", err)
	}
}

func TestFromContextFallbacks(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	FromContext(context.Background(), base).Info("fallback")
	if logs.Len() != 1 {
		t.Fatalf("expected fallback logger to be used, got %d entries", logs.Len())
	}

	// no logger and no fallback must not panic
	FromContext(context.Background()).Info("dropped")

	ctx := With(context.Background(), base, zap.String("query_id", "q1"))
	FromContext(ctx).Info("scoped")
	entries := logs.FilterMessage("scoped").All()
	if len(entries) != 1 || entries[0].ContextMap()["query_id"] != "q1" {
		t.Fatalf("expected scoped entry with query_id, got %+v", entries)
	}
}

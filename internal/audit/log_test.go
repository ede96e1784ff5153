package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestWithRequestID(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("empty context returned %q", got)
	}
	ctx = WithRequestID(ctx, "  req-123  ")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Fatalf("request id = %q", got)
	}
	// Blank ids are not attached.
	if RequestIDFromContext(WithRequestID(context.Background(), "   ")) != "" {
		t.Fatal("blank request id should not be stored")
	}
}

func TestLogEvent(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if err := LogEvent(ctx, "user.login", zap.String("email", "ada@example.com")); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	if err := LogEvent(ctx, "  "); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

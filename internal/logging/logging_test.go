package logging

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("expected debug level to be accepted, got %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	WithOperation(zap.New(core), "attendance.extract", "req-1").Info("done")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "attendance.extract" {
		t.Fatalf("unexpected operation field: %v", fields["operation"])
	}
	if fields["request_id"] != "req-1" {
		t.Fatalf("unexpected request_id field: %v", fields["request_id"])
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.save_log", "req-9", base)
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "repository.save_log (request_id=req-9): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if NewOperationError("op", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestRetriedErrorReportsAttempts(t *testing.T) {
	err := NewRetriedError("cache.get.attendance", "", 3, errors.New("i/o timeout"))
	if got := err.Error(); got != "cache.get.attendance after 3 attempts: i/o timeout" {
		t.Fatalf("unexpected message: %s", got)
	}

	fields := ErrorFields(fmt.Errorf("load: %w", err))
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	if enc.Fields["operation"] != "cache.get.attendance" {
		t.Fatalf("unexpected operation field: %v", enc.Fields["operation"])
	}
	if enc.Fields["attempts"] != int64(3) {
		t.Fatalf("unexpected attempts field: %v", enc.Fields["attempts"])
	}
	if _, ok := enc.Fields["request_id"]; ok {
		t.Fatal("expected no request_id field for an empty request id")
	}
}

func TestErrorFieldsPlainError(t *testing.T) {
	if fields := ErrorFields(errors.New("boom")); len(fields) != 1 {
		t.Fatalf("expected only the error field, got %d", len(fields))
	}
}

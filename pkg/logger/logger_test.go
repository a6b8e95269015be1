package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestInfoCtxAttachesContextFields(t *testing.T) {
	log, logs := newObserved()

	ctx := context.WithValue(context.Background(), DeviceIdKey, "dev-1")
	ctx = context.WithValue(ctx, SweepIdKey, "sweep-7")
	log.InfoCtx(ctx, "sync completed", zap.Int("items", 3))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["device_id"] != "dev-1" {
		t.Errorf("device_id = %v, want dev-1", fields["device_id"])
	}
	if fields["sweep_id"] != "sweep-7" {
		t.Errorf("sweep_id = %v, want sweep-7", fields["sweep_id"])
	}
	if fields["items"] != int64(3) {
		t.Errorf("items = %v, want 3", fields["items"])
	}
}

func TestErrorCtxWithoutContextValues(t *testing.T) {
	log, logs := newObserved()

	log.ErrorCtx(context.Background(), "append failed")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if len(entries[0].Context) != 0 {
		t.Errorf("unexpected fields: %v", entries[0].ContextMap())
	}
	if entries[0].Message != "append failed" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestGlobalLogger(t *testing.T) {
	defer SetGlobalLogger(nil)

	if GetGlobalLogger() != nil {
		t.Fatal("global logger should start unset")
	}
	l, _ := newObserved()
	SetGlobalLogger(l)
	if GetGlobalLogger() != l {
		t.Fatal("global logger not returned after set")
	}
}

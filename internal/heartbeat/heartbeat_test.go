package heartbeat_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"marquee/internal/heartbeat"
	"marquee/internal/logging"
	"marquee/internal/store"
)

func TestGuardRefreshesUntilStopped(t *testing.T) {
	var touches atomic.Int32
	monitor := heartbeat.New(5*time.Millisecond, logging.NewNop())

	ctx, stop := monitor.Guard(context.Background(), func(context.Context) error {
		touches.Add(1)
		return nil
	})
	deadline := time.Now().Add(2 * time.Second)
	for touches.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	stop()

	if touches.Load() < 3 {
		t.Fatalf("expected at least 3 touches, got %d", touches.Load())
	}
	if ctx.Err() == nil {
		t.Fatal("expected guarded context to be cancelled after stop")
	}
	after := touches.Load()
	time.Sleep(20 * time.Millisecond)
	if touches.Load() != after {
		t.Fatal("heartbeat kept running after stop")
	}
}

func TestGuardCancelsWhenClaimLost(t *testing.T) {
	monitor := heartbeat.New(5*time.Millisecond, logging.NewNop())
	ctx, stop := monitor.Guard(context.Background(), func(context.Context) error {
		return fmt.Errorf("touch: %w", store.ErrClaimLost)
	})
	defer stop()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected guarded context cancelled after claim loss")
	}
}

func TestGuardDisabledWithZeroInterval(t *testing.T) {
	monitor := heartbeat.New(0, nil)
	ctx, stop := monitor.Guard(context.Background(), func(context.Context) error {
		t.Error("touch must not be called")
		return nil
	})
	if ctx.Err() != nil {
		t.Fatal("context cancelled early")
	}
	stop()
}

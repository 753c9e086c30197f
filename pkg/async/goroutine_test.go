package async

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return &buf
}

func TestSafeGoRunsTask(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Task did not run")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	buf := captureLog(t)
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
		defer close(done)
		panic("boom")
	})

	<-done
	waitForLog(t, buf, "panic in panicking task")
}

func TestSafeGoLogsErrors(t *testing.T) {
	buf := captureLog(t)
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "failing task", func(ctx context.Context) error {
		defer close(done)
		return errors.New("store unavailable")
	})

	<-done
	waitForLog(t, buf, "failing task failed: store unavailable")
}

func TestSafeGoEnforcesTimeout(t *testing.T) {
	var expired atomic.Bool
	done := make(chan struct{})

	SafeGo(context.Background(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		defer close(done)
		select {
		case <-ctx.Done():
			expired.Store(true)
		case <-time.After(2 * time.Second):
		}
		return nil
	})

	<-done
	if !expired.Load() {
		t.Error("Expected the task context to expire")
	}
}

// waitForLog polls because the log write races the task's done signal
func waitForLog(t *testing.T, buf *bytes.Buffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), substr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Expected log containing %q, got: %s", substr, buf.String())
}

package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewShutdownManagerDefaults(t *testing.T) {
	logger := NewLogger(InfoLevel, os.Stdout)
	sm := NewShutdownManager(logger, nil, 0)

	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected default timeout of 30s, got %v", sm.shutdownTimeout)
	}

	sm = NewShutdownManager(logger, nil, 5*time.Second)
	if sm.shutdownTimeout != 5*time.Second {
		t.Errorf("Expected timeout of 5s, got %v", sm.shutdownTimeout)
	}
}

func TestRegisterShutdownFunc(t *testing.T) {
	logger := NewLogger(InfoLevel, os.Stdout)
	sm := NewShutdownManager(logger, nil, time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	if len(sm.shutdownFuncs) != 2 {
		t.Errorf("Expected 2 shutdown functions, got %d", len(sm.shutdownFuncs))
	}
}

func TestWaitForShutdownRunsFuncs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	srv := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(logger, srv, 5*time.Second)

	var calls atomic.Int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	// Give WaitForShutdown time to install its signal handler.
	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send SIGTERM: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return after SIGTERM")
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 shutdown function calls, got %d", calls.Load())
	}
}

func TestWaitForShutdownReportsFuncErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	sm := NewShutdownManager(logger, nil, 5*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return errors.New("redis close failed")
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send SIGTERM: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Expected an error from failing shutdown function")
		}
		if want := "shutdown completed with 1 errors"; err.Error() != want {
			t.Errorf("Expected %q, got %q", want, err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return after SIGTERM")
	}
}

func TestWaitForShutdownTimeout(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	sm := NewShutdownManager(logger, nil, 200*time.Millisecond)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sm.WaitForShutdown()
	}()

	time.Sleep(100 * time.Millisecond)
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("Failed to send SIGTERM: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil || err.Error() != "shutdown timeout reached" {
			t.Errorf("Expected shutdown timeout error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return after timeout")
	}
}

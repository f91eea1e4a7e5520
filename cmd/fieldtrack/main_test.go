package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type flakyConn struct {
	failures int
	calls    int
}

func (f *flakyConn) Connect() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("port busy")
	}
	return nil
}

func (f *flakyConn) Close() error { return nil }

func TestConnectWithRetryConnectsAfterFailure(t *testing.T) {
	c := &flakyConn{failures: 1}
	done := make(chan struct{})
	go func() {
		connectWithRetry(context.Background(), "test", c, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connectWithRetry did not return")
	}
	assert.Equal(t, 2, c.calls)
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	c := &flakyConn{failures: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		connectWithRetry(ctx, "test", c, 3)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connectWithRetry ignored cancellation")
	}
	assert.Equal(t, 1, c.calls)
}

package main

import (
	"context"
	"testing"
	"time"
)

func TestWaitSourceReady(t *testing.T) {
	closed := make(chan struct{})
	close(closed)
	never := make(chan struct{})

	if !waitSourceReady(context.Background(), closed, never, time.Minute) {
		t.Error("ready source should proceed")
	}
	if !waitSourceReady(context.Background(), never, closed, time.Minute) {
		t.Error("stopped source should proceed")
	}
	if !waitSourceReady(context.Background(), never, never, 10*time.Millisecond) {
		t.Error("timeout should proceed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitSourceReady(ctx, never, never, time.Minute) {
		t.Error("cancelled context should abort")
	}
}

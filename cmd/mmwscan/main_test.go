package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/gotmc/mmwave/lib/daq"
)

// runKeys runs keyLoop in the background and returns a channel closed when
// it has returned.
func runKeys(ctx context.Context, events chan keyboard.KeyEvent, ctl *daq.Controller, abort func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		keyLoop(ctx, events, ctl, abort)
	}()
	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key loop did not return")
	}
}

func TestKeyLoopPauseAndAbort(t *testing.T) {
	ctl := daq.New(nil, nil)
	events := make(chan keyboard.KeyEvent)
	aborted := false
	done := runKeys(context.Background(), events, ctl, func() { aborted = true })

	events <- keyboard.KeyEvent{Key: keyboard.KeySpace}
	events <- keyboard.KeyEvent{Rune: 'n'}
	if !ctl.Paused() {
		t.Error("space did not pause")
	}
	events <- keyboard.KeyEvent{Rune: 'q'}
	wait(t, done)
	if !aborted {
		t.Error("q did not abort")
	}
}

func TestKeyLoopEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := runKeys(ctx, make(chan keyboard.KeyEvent), daq.New(nil, nil), func() {
		t.Error("abort called on cancel")
	})
	cancel()
	wait(t, done)
}

func TestKeyLoopKeyboardError(t *testing.T) {
	events := make(chan keyboard.KeyEvent, 1)
	events <- keyboard.KeyEvent{Err: errors.New("tty gone")}
	wait(t, runKeys(context.Background(), events, daq.New(nil, nil), func() {}))
}

package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestFirstAcquireStartsLoop(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})

	release := r.Acquire("chat:a", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	defer release()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("loop never started")
	}
	if r.Active() != 1 {
		t.Errorf("active = %d", r.Active())
	}
}

func TestSecondAcquireSharesLoop(t *testing.T) {
	r := NewRegistry()
	var starts atomic.Int32

	run := func(ctx context.Context) {
		starts.Add(1)
		<-ctx.Done()
	}
	rel1 := r.Acquire("chat:a", run)
	rel2 := r.Acquire("chat:a", run)

	if got := starts.Load(); got != 1 {
		t.Errorf("loop started %d times, want 1", got)
	}

	rel1()
	if r.Active() != 1 {
		t.Error("loop stopped while a subscriber remains")
	}
	rel2()
	if r.Active() != 0 {
		t.Error("loop still registered after last release")
	}
}

func TestLastReleaseCancelsPromptly(t *testing.T) {
	r := NewRegistry()
	stopped := make(chan struct{})

	release := r.Acquire("feed", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	done := make(chan struct{})
	go func() {
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("release did not return")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop not cancelled")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	rel1 := r.Acquire("x", func(ctx context.Context) { <-ctx.Done() })
	rel2 := r.Acquire("x", func(ctx context.Context) { <-ctx.Done() })

	rel1()
	rel1()
	rel1()
	if r.Active() != 1 {
		t.Error("duplicate release tore down a live loop")
	}
	rel2()
	if r.Active() != 0 {
		t.Error("loop leaked")
	}
}

package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubNet struct {
	online atomic.Bool
}

func (n *stubNet) Online() bool  { return n.online.Load() }
func (n *stubNet) Report(v bool) { n.online.Store(v) }

func runLoop(n *stubNet, fetch func(ctx context.Context) error) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Loop(ctx, 10*time.Millisecond, n, zap.NewNop(), fetch)
	}()
	return func() {
		stop()
		<-done
	}
}

func TestLoopSkipsTicksWhileOffline(t *testing.T) {
	n := &stubNet{}
	var calls atomic.Int32
	cancel := runLoop(n, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("fetch ran %d times while offline", got)
	}

	n.online.Store(true)
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("fetch never ran after coming back online")
	}
}

func TestLoopTransportFailureGoesQuiet(t *testing.T) {
	n := &stubNet{}
	n.online.Store(true)
	var calls atomic.Int32
	cancel := runLoop(n, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("connection refused")
	})
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch ran %d times after a transport failure, want 1", got)
	}
	if n.Online() {
		t.Error("tracker still online after a transport failure")
	}
}

func TestPushLatestKeepsNewest(t *testing.T) {
	ch := make(chan int, 1)
	PushLatest(ch, 1)
	PushLatest(ch, 2)
	if got := <-ch; got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

// Package netstate tracks reachability of the remote service. A periodic
// probe drives an online/offline flag; edges publish bus events so the
// sync worker can flush the pending queue the moment connectivity returns.
package netstate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
)

// Prober checks whether the remote service answers at all. The remote
// client's Ping satisfies this.
type Prober interface {
	Ping(ctx context.Context) error
}

// Tracker holds the current connectivity flag and probes it on a timer.
type Tracker struct {
	probe  Prober
	bus    *bus.Bus
	log    *zap.Logger
	period time.Duration

	mu     sync.RWMutex
	online bool
	known  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker. It starts with unknown state; the first
// probe (or an explicit Report) settles it.
func NewTracker(probe Prober, b *bus.Bus, log *zap.Logger, period time.Duration) *Tracker {
	return &Tracker{
		probe:  probe,
		bus:    b,
		log:    log,
		period: period,
	}
}

// Online reports the last observed connectivity. Before the first probe
// completes it optimistically reports true so startup writes attempt the
// network instead of queueing blindly.
func (t *Tracker) Online() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.known {
		return true
	}
	return t.online
}

// Report feeds an out-of-band observation into the tracker. Repositories
// call this with the outcome of their own requests so a failed send flips
// the flag without waiting for the next probe tick.
func (t *Tracker) Report(online bool) {
	t.set(online)
}

func (t *Tracker) set(online bool) {
	t.mu.Lock()
	changed := !t.known || t.online != online
	t.online = online
	t.known = true
	t.mu.Unlock()

	if !changed {
		return
	}
	kind := bus.KindNetOffline
	if online {
		kind = bus.KindNetOnline
	}
	t.log.Info("connectivity changed", zap.Bool("online", online))
	t.bus.Publish(bus.Now(kind, online))
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so the flag settles quickly after boot.
func (t *Tracker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		t.tick(ctx)
		ticker := time.NewTicker(t.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick(ctx)
			}
		}
	}()
}

func (t *Tracker) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, t.period)
	defer cancel()
	err := t.probe.Ping(probeCtx)
	if ctx.Err() != nil {
		return
	}
	t.set(err == nil)
}

// Stop halts the probe loop and waits for it to exit.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

// Package presence keeps peers' online flags fresh and advertises the
// local user. Liveness is heartbeat-based: a peer is online while its last
// heartbeat is within the TTL; a zero last-active stamp means the peer
// went offline explicitly.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/remote"
)

// Remote is the slice of the service client the tracker uses.
type Remote interface {
	Heartbeat(ctx context.Context, userID string) error
	GoOffline(ctx context.Context, userID string) error
	Statuses(ctx context.Context, userIDs []string) ([]remote.PresenceStatus, error)
}

// Update is the bus payload for a presence change.
type Update struct {
	UID    string
	Online bool
}

// Tracker advertises the local user and watches observed peers. All
// observed peers share one batched status request per poll tick.
type Tracker struct {
	remote Remote
	bus    *bus.Bus
	log    *zap.Logger
	selfID string
	ttl    time.Duration
	beat   time.Duration
	poll   time.Duration

	mu        sync.Mutex
	observers map[string]map[int]func(online bool)
	state     map[string]bool
	nextID    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker for the given local user.
func NewTracker(rc Remote, b *bus.Bus, log *zap.Logger, selfID string,
	ttl, heartbeat, poll time.Duration) *Tracker {
	return &Tracker{
		remote:    rc,
		bus:       b,
		log:       log,
		selfID:    selfID,
		ttl:       ttl,
		beat:      heartbeat,
		poll:      poll,
		observers: make(map[string]map[int]func(online bool)),
		state:     make(map[string]bool),
	}
}

// alive decides a peer's flag from its last heartbeat stamp. Zero is the
// explicit-offline sentinel and always reads offline regardless of TTL.
func alive(lastActiveMs, nowMs int64, ttl time.Duration) bool {
	if lastActiveMs == 0 {
		return false
	}
	return nowMs-lastActiveMs <= ttl.Milliseconds()
}

// Observe registers a callback for one peer's flag. The callback fires
// immediately with the last known state and afterwards on every change.
// The returned disposer is idempotent.
func (t *Tracker) Observe(uid string, fn func(online bool)) func() {
	t.mu.Lock()
	if t.observers[uid] == nil {
		t.observers[uid] = make(map[int]func(online bool))
	}
	id := t.nextID
	t.nextID++
	t.observers[uid][id] = fn
	current := t.state[uid]
	t.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.observers[uid], id)
			if len(t.observers[uid]) == 0 {
				delete(t.observers, uid)
				delete(t.state, uid)
			}
		})
	}
}

// Online returns the last known flag for a peer.
func (t *Tracker) Online(uid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[uid]
}

// Start launches the heartbeat and status-poll loops.
func (t *Tracker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.heartbeatLoop(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.pollLoop(ctx)
	}()
}

// Stop halts the loops and reports an explicit go-offline so peers flip
// immediately instead of waiting out the TTL.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.remote.GoOffline(ctx, t.selfID); err != nil {
		t.log.Debug("go offline failed", zap.Error(err))
	}
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	send := func() {
		if err := t.remote.Heartbeat(ctx, t.selfID); err != nil && ctx.Err() == nil {
			t.log.Debug("heartbeat failed", zap.Error(err))
		}
	}
	send()

	ticker := time.NewTicker(t.beat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (t *Tracker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refresh(ctx)
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.observers))
	for uid := range t.observers {
		ids = append(ids, uid)
	}
	t.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	statuses, err := t.remote.Statuses(ctx, ids)
	if err != nil {
		if ctx.Err() == nil {
			t.log.Debug("status poll failed", zap.Error(err))
		}
		return
	}
	now := time.Now().UnixMilli()
	for _, st := range statuses {
		t.apply(st.UID, alive(st.LastActive, now, t.ttl))
	}
}

func (t *Tracker) apply(uid string, online bool) {
	t.mu.Lock()
	prev, known := t.state[uid]
	if known && prev == online {
		t.mu.Unlock()
		return
	}
	t.state[uid] = online
	fns := make([]func(online bool), 0, len(t.observers[uid]))
	for _, fn := range t.observers[uid] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	t.bus.Publish(bus.Now(bus.KindPresenceUpdated, Update{UID: uid, Online: online}))
}

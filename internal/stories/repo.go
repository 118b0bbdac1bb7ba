// Package stories is the stories facade. Stories expire 24 hours after
// creation; expired rows are pruned on every poll so the cache never
// serves stale ones.
package stories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/config"
	"github.com/sociallyhq/socially/internal/poller"
	"github.com/sociallyhq/socially/internal/reconcile"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/session"
	"github.com/sociallyhq/socially/internal/store"
)

// TTL is how long a story stays visible.
const TTL = 24 * time.Hour

// Remote is the slice of the service client the stories facade uses.
type Remote interface {
	FetchStories(ctx context.Context) ([]remote.StoryDTO, error)
	UploadStory(ctx context.Context, req *remote.UploadStoryRequest) (*remote.UploadResponse, error)
}

// Net reports and records connectivity.
type Net interface {
	Online() bool
	Report(online bool)
}

// Scheduler requests a pending-queue drain.
type Scheduler interface {
	Schedule(ctx context.Context)
}

// Repo is the stories repository.
type Repo struct {
	db      *store.DB
	remote  Remote
	rec     *reconcile.Reconciler
	bus     *bus.Bus
	net     Net
	sched   Scheduler
	log     *zap.Logger
	self    *session.Profile
	pollers *poller.Registry

	storyPoll time.Duration
}

// NewRepo creates the stories repository.
func NewRepo(db *store.DB, rc Remote, rec *reconcile.Reconciler, b *bus.Bus,
	net Net, sched Scheduler, log *zap.Logger, self *session.Profile, cfg *config.Config) *Repo {
	return &Repo{
		db:        db,
		remote:    rc,
		rec:       rec,
		bus:       b,
		net:       net,
		sched:     sched,
		log:       log,
		self:      self,
		pollers:   poller.NewRegistry(),
		storyPoll: time.Duration(cfg.StoryPollMs) * time.Millisecond,
	}
}

// Create writes a story locally and uploads it, inline or queued.
func (r *Repo) Create(ctx context.Context, mediaPath, mediaType string) (*store.Story, error) {
	createdAt := time.Now().UnixMilli()
	expiresAt := createdAt + TTL.Milliseconds()

	localID, err := r.db.InsertLocalStory(&store.Story{
		OwnerID:   r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		MediaURL:  mediaPath,
		MediaType: mediaType,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert local story: %w", err)
	}
	r.bus.Publish(bus.Now(bus.KindStoryUpserted, ""))

	req := &remote.UploadStoryRequest{
		UserID:    r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		MediaType: mediaType,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		MediaPath: mediaPath,
	}

	if r.net.Online() {
		resp, err := r.remote.UploadStory(ctx, req)
		switch {
		case err == nil:
			r.net.Report(true)
			if err := r.db.MarkStorySynced(localID, resp.ID, resp.MediaURL); err != nil {
				return nil, fmt.Errorf("mark synced: %w", err)
			}
			r.bus.Publish(bus.Now(bus.KindStoryUpserted, resp.ID))
			return r.db.GetStory(localID)
		case remote.IsRejected(err):
			_ = r.db.DeleteLocalStory(localID)
			r.bus.Publish(bus.Now(bus.KindStoryUpserted, ""))
			return nil, err
		default:
			r.log.Debug("inline story upload failed, queueing", zap.Error(err))
			r.net.Report(false)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := r.db.MarkStoryPending(localID); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}
	if err := r.db.EnqueueOp(&store.PendingOp{
		OpID:     uuid.NewString(),
		Kind:     store.OpCreateStory,
		LocalRef: localID,
		Payload:  string(payload),
	}); err != nil {
		return nil, fmt.Errorf("enqueue op: %w", err)
	}
	r.sched.Schedule(ctx)
	return r.db.GetStory(localID)
}

// Active returns the unexpired cached stories, newest first.
func (r *Repo) Active() ([]store.Story, error) {
	return r.db.ListActiveStories(time.Now().UnixMilli())
}

// Live streams story snapshots: current state immediately, then on every
// change, with a background poll while subscribed.
func (r *Repo) Live() (<-chan []store.Story, func()) {
	out := make(chan []store.Story, 1)

	emit := func() {
		stories, err := r.Active()
		if err != nil {
			r.log.Error("list stories", zap.Error(err))
			return
		}
		poller.PushLatest(out, stories)
	}
	emit()

	events, unsub := r.bus.Subscribe("story.", 32)
	releasePoll := r.pollers.Acquire("stories", func(ctx context.Context) {
		poller.Loop(ctx, r.storyPoll, r.net, r.log, func(ctx context.Context) error {
			dtos, err := r.remote.FetchStories(ctx)
			if err != nil {
				return err
			}
			return r.rec.IngestStories(dtos, time.Now().UnixMilli())
		})
	})

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-events:
				emit()
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(stop)
			unsub()
			releasePoll()
		})
	}
}

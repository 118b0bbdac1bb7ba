// Package posts is the feed facade: posts, likes and comments. Same
// contract as the chat facade: reads come from the local store, writes are
// optimistic, live subscriptions poll while watched.
package posts

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
	"github.com/sociallyhq/socially/internal/outbox"
	"github.com/sociallyhq/socially/internal/poller"
	"github.com/sociallyhq/socially/internal/reconcile"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/session"
	"github.com/sociallyhq/socially/internal/store"
)

// Remote is the slice of the service client the feed facade uses.
type Remote interface {
	FetchPosts(ctx context.Context, userID string) ([]remote.PostDTO, error)
	UploadPost(ctx context.Context, req *remote.UploadPostRequest) (*remote.UploadResponse, error)
	ToggleLike(ctx context.Context, postID, userID string, like bool) (*remote.LikeResponse, error)
	FetchComments(ctx context.Context, postID string) ([]remote.CommentDTO, error)
	AddComment(ctx context.Context, req *remote.AddCommentRequest) (*remote.UploadResponse, error)
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

// Repo is the feed repository.
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

	feedPoll time.Duration
}

// NewRepo creates the feed repository.
func NewRepo(db *store.DB, rc Remote, rec *reconcile.Reconciler, b *bus.Bus,
	net Net, sched Scheduler, log *zap.Logger, self *session.Profile, cfg *config.Config) *Repo {
	return &Repo{
		db:       db,
		remote:   rc,
		rec:      rec,
		bus:      b,
		net:      net,
		sched:    sched,
		log:      log,
		self:     self,
		pollers:  poller.NewRegistry(),
		feedPoll: time.Duration(cfg.FeedPollMs) * time.Millisecond,
	}
}

// Create writes a post locally and uploads it, inline or queued.
func (r *Repo) Create(ctx context.Context, caption, mediaPath string) (*store.Post, error) {
	createdAt := time.Now().UnixMilli()
	localID, err := r.db.InsertLocalPost(&store.Post{
		OwnerID:   r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		Caption:   caption,
		MediaURL:  mediaPath,
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert local post: %w", err)
	}
	r.bus.Publish(bus.Now(bus.KindPostUpserted, ""))

	req := &remote.UploadPostRequest{
		UserID:    r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		Caption:   caption,
		CreatedAt: createdAt,
		MediaPath: mediaPath,
	}

	if r.net.Online() {
		resp, err := r.remote.UploadPost(ctx, req)
		switch {
		case err == nil:
			r.net.Report(true)
			if err := r.db.MarkPostSynced(localID, resp.ID, resp.MediaURL); err != nil {
				return nil, fmt.Errorf("mark synced: %w", err)
			}
			r.bus.Publish(bus.Now(bus.KindPostUpserted, resp.ID))
			return r.db.GetPost(localID)
		case remote.IsRejected(err):
			_ = r.db.DeleteLocalPost(localID)
			r.bus.Publish(bus.Now(bus.KindPostUpserted, ""))
			return nil, err
		default:
			r.log.Debug("inline post upload failed, queueing", zap.Error(err))
			r.net.Report(false)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := r.db.MarkPostPending(localID); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}
	if err := r.db.EnqueueOp(&store.PendingOp{
		OpID:     uuid.NewString(),
		Kind:     store.OpCreatePost,
		LocalRef: localID,
		Payload:  string(payload),
	}); err != nil {
		return nil, fmt.Errorf("enqueue op: %w", err)
	}
	r.sched.Schedule(ctx)
	return r.db.GetPost(localID)
}

// ToggleLike flips the caller's like on a synced post. The aggregate is
// updated optimistically; the service response (inline or via the queue)
// overwrites it with the authoritative value, and a terminal rejection
// restores the pre-toggle state.
func (r *Repo) ToggleLike(ctx context.Context, postLocalID int64) error {
	post, err := r.db.GetPost(postLocalID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %d not found", postLocalID)
	}
	if post.ServerID == "" {
		return fmt.Errorf("post %d not yet synced", postLocalID)
	}

	like := !post.LikedByMe
	guess := post.LikesCount
	if like {
		guess++
	} else if guess > 0 {
		guess--
	}
	if err := r.db.UpdateLikeStatus(post.ServerID, guess, like); err != nil {
		return err
	}
	r.bus.Publish(bus.Now(bus.KindPostUpserted, post.ServerID))

	if r.net.Online() {
		resp, err := r.remote.ToggleLike(ctx, post.ServerID, r.self.UserID, like)
		switch {
		case err == nil:
			r.net.Report(true)
			if err := r.db.UpdateLikeStatus(post.ServerID, resp.LikesCount, resp.LikedByUser); err != nil {
				return err
			}
			r.bus.Publish(bus.Now(bus.KindPostUpserted, post.ServerID))
			return nil
		case remote.IsRejected(err):
			_ = r.db.UpdateLikeStatus(post.ServerID, post.LikesCount, post.LikedByMe)
			r.bus.Publish(bus.Now(bus.KindPostUpserted, post.ServerID))
			return err
		default:
			r.log.Debug("inline like failed, queueing", zap.Error(err))
			r.net.Report(false)
		}
	}

	payload, err := json.Marshal(outbox.LikePayload{
		PostServerID: post.ServerID,
		UserID:       r.self.UserID,
		Like:         like,
		PrevLikes:    post.LikesCount,
		PrevLiked:    post.LikedByMe,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	// One op per post: a second toggle while the first is still queued
	// replaces its payload, so only the final state is uploaded.
	if err := r.db.EnqueueOp(&store.PendingOp{
		OpID:     uuid.NewString(),
		Kind:     store.OpToggleLike,
		LocalRef: postLocalID,
		ScopeID:  post.ServerID,
		Payload:  string(payload),
	}); err != nil {
		return fmt.Errorf("enqueue op: %w", err)
	}
	r.sched.Schedule(ctx)
	return nil
}

// AddComment writes a comment locally and uploads it, inline or queued.
func (r *Repo) AddComment(ctx context.Context, postServerID, text string) (*store.Comment, error) {
	createdAt := time.Now().UnixMilli()
	localID, err := r.db.InsertLocalComment(&store.Comment{
		PostID:    postServerID,
		OwnerID:   r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		Body:      text,
		CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert local comment: %w", err)
	}
	r.bus.Publish(bus.Now(bus.KindCommentUpserted, postServerID))

	req := &remote.AddCommentRequest{
		PostID:    postServerID,
		UserID:    r.self.UserID,
		Username:  r.self.Username,
		AvatarURL: r.self.AvatarURL,
		Text:      text,
		CreatedAt: createdAt,
	}

	if r.net.Online() {
		resp, err := r.remote.AddComment(ctx, req)
		switch {
		case err == nil:
			r.net.Report(true)
			if err := r.db.MarkCommentSynced(localID, resp.ID); err != nil {
				return nil, fmt.Errorf("mark synced: %w", err)
			}
			r.bus.Publish(bus.Now(bus.KindCommentUpserted, postServerID))
			return r.db.GetComment(localID)
		case remote.IsRejected(err):
			_ = r.db.DeleteComment(localID)
			r.bus.Publish(bus.Now(bus.KindCommentUpserted, postServerID))
			return nil, err
		default:
			r.log.Debug("inline comment failed, queueing", zap.Error(err))
			r.net.Report(false)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := r.db.MarkCommentPending(localID); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}
	if err := r.db.EnqueueOp(&store.PendingOp{
		OpID:     uuid.NewString(),
		Kind:     store.OpAddComment,
		LocalRef: localID,
		ScopeID:  postServerID,
		Payload:  string(payload),
	}); err != nil {
		return nil, fmt.Errorf("enqueue op: %w", err)
	}
	r.sched.Schedule(ctx)
	return r.db.GetComment(localID)
}

// Feed returns the cached feed, newest first, unsynced local posts included.
func (r *Repo) Feed() ([]store.Post, error) {
	return r.db.ListFeed()
}

// Comments returns the cached comments for a post, oldest first.
func (r *Repo) Comments(postServerID string) ([]store.Comment, error) {
	return r.db.ListComments(postServerID)
}

// LiveFeed streams feed snapshots: current state immediately, then on
// every change, with a background poll while subscribed.
func (r *Repo) LiveFeed() (<-chan []store.Post, func()) {
	out := make(chan []store.Post, 1)

	emit := func() {
		feed, err := r.db.ListFeed()
		if err != nil {
			r.log.Error("list feed", zap.Error(err))
			return
		}
		poller.PushLatest(out, feed)
	}
	emit()

	events, unsub := r.bus.Subscribe("post.", 32)
	releasePoll := r.pollers.Acquire("feed", func(ctx context.Context) {
		poller.Loop(ctx, r.feedPoll, r.net, r.log, func(ctx context.Context) error {
			dtos, err := r.remote.FetchPosts(ctx, r.self.UserID)
			if err != nil {
				return err
			}
			return r.rec.IngestPosts(dtos)
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

// LiveComments streams comment snapshots for one post.
func (r *Repo) LiveComments(postServerID string) (<-chan []store.Comment, func()) {
	out := make(chan []store.Comment, 1)

	emit := func() {
		comments, err := r.db.ListComments(postServerID)
		if err != nil {
			r.log.Error("list comments", zap.Error(err))
			return
		}
		poller.PushLatest(out, comments)
	}
	emit()

	events, unsub := r.bus.Subscribe("comment.", 32)
	releasePoll := r.pollers.Acquire("comments:"+postServerID, func(ctx context.Context) {
		poller.Loop(ctx, r.feedPoll, r.net, r.log, func(ctx context.Context) error {
			dtos, err := r.remote.FetchComments(ctx, postServerID)
			if err != nil {
				return err
			}
			return r.rec.IngestComments(postServerID, dtos)
		})
	})

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-events:
				if scope, ok := ev.Payload.(string); ok && scope != postServerID {
					continue
				}
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

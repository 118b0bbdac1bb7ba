// Package outbox drains the persistent pending-operation queue against the
// remote service. Replays are idempotent: each op carries the original
// client timestamp, so the server (and the dedup pass on the next poll)
// recognizes a retry of an already-applied write.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/store"
)

// Remote is the slice of the service client the worker replays against.
type Remote interface {
	SendMessage(ctx context.Context, req *remote.SendMessageRequest) (*remote.SendMessageResponse, error)
	UploadPost(ctx context.Context, req *remote.UploadPostRequest) (*remote.UploadResponse, error)
	UploadStory(ctx context.Context, req *remote.UploadStoryRequest) (*remote.UploadResponse, error)
	ToggleLike(ctx context.Context, postID, userID string, like bool) (*remote.LikeResponse, error)
	AddComment(ctx context.Context, req *remote.AddCommentRequest) (*remote.UploadResponse, error)
}

// LikePayload is the queued form of a like toggle. It carries the
// pre-toggle aggregate so a terminal rejection can restore it exactly.
type LikePayload struct {
	PostServerID string `json:"postServerId"`
	UserID       string `json:"userId"`
	Like         bool   `json:"like"`
	PrevLikes    int    `json:"prevLikes"`
	PrevLiked    bool   `json:"prevLiked"`
}

// Worker replays pending ops in enqueue order. Drains are single-flight:
// Schedule during an active drain arms one follow-up run instead of
// stacking concurrent drains.
type Worker struct {
	db     *store.DB
	remote Remote
	bus    *bus.Bus
	log    *zap.Logger

	mu      sync.Mutex
	running bool
	rearm   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker.
func NewWorker(db *store.DB, r Remote, b *bus.Bus, log *zap.Logger) *Worker {
	return &Worker{db: db, remote: r, bus: b, log: log}
}

// Start subscribes the worker to connectivity events and kicks an initial
// drain for anything left over from the previous run.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	ch, unsub := w.bus.Subscribe("net.", 16)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Kind == bus.KindNetOnline {
					w.Schedule(ctx)
				}
			}
		}
	}()

	w.Schedule(ctx)
}

// Stop halts background work. Ops still pending stay queued for the next
// process start.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Schedule requests a drain. Calls are coalesced: at most one drain runs
// at a time, and any number of Schedule calls during it collapse into a
// single follow-up drain.
func (w *Worker) Schedule(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.rearm = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			if err := w.Drain(ctx); err != nil {
				w.log.Warn("drain stopped", zap.Error(err))
			}
			w.mu.Lock()
			if !w.rearm {
				w.running = false
				w.mu.Unlock()
				return
			}
			w.rearm = false
			w.mu.Unlock()
		}
	}()
}

// Drain replays every pending op in FIFO order. A transient failure stops
// the drain and keeps the remaining queue intact; a terminal rejection
// reverts the local write, drops the op and continues.
func (w *Worker) Drain(ctx context.Context) error {
	ops, err := w.db.PendingOps()
	if err != nil {
		return fmt.Errorf("load pending ops: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	for i := range ops {
		op := &ops[i]
		err := w.replay(ctx, op)
		if err == nil {
			if derr := w.db.DeleteOp(op.OpID); derr != nil {
				return fmt.Errorf("delete op %s: %w", op.OpID, derr)
			}
			continue
		}
		if remote.IsRejected(err) {
			w.log.Warn("op rejected by service",
				zap.String("op_id", op.OpID),
				zap.String("kind", op.Kind),
				zap.Error(err))
			if rerr := w.revert(op); rerr != nil {
				w.log.Error("revert failed", zap.String("op_id", op.OpID), zap.Error(rerr))
			}
			if derr := w.db.DeleteOp(op.OpID); derr != nil {
				return fmt.Errorf("delete rejected op %s: %w", op.OpID, derr)
			}
			if op.Kind == store.OpSendMessage {
				w.bus.Publish(bus.Now(bus.KindMessageSendFailed, op.LocalRef))
			}
			w.bus.Publish(bus.Now(bus.KindSyncRejected, op.OpID))
			continue
		}
		// Transient. Stop here so replay order is preserved on retry.
		return fmt.Errorf("replay op %s (%s): %w", op.OpID, op.Kind, err)
	}

	w.log.Info("pending queue drained", zap.Int("ops", len(ops)))
	w.bus.Publish(bus.Now(bus.KindSyncDrained, len(ops)))
	return nil
}

func (w *Worker) replay(ctx context.Context, op *store.PendingOp) error {
	switch op.Kind {
	case store.OpSendMessage:
		return w.replaySendMessage(ctx, op)
	case store.OpCreatePost:
		return w.replayCreatePost(ctx, op)
	case store.OpCreateStory:
		return w.replayCreateStory(ctx, op)
	case store.OpToggleLike:
		return w.replayToggleLike(ctx, op)
	case store.OpAddComment:
		return w.replayAddComment(ctx, op)
	default:
		w.log.Error("unknown op kind dropped", zap.String("kind", op.Kind))
		return nil
	}
}

func (w *Worker) replaySendMessage(ctx context.Context, op *store.PendingOp) error {
	msg, err := w.db.GetMessage(op.LocalRef)
	if err != nil {
		return err
	}
	// The row may be gone (vanish clear) or already synced (the poll's
	// dedup matched it first). Either way the upload is moot.
	if msg == nil || msg.SyncStatus == store.StatusSynced {
		return nil
	}

	var req remote.SendMessageRequest
	if err := json.Unmarshal([]byte(op.Payload), &req); err != nil {
		return &remote.RejectedError{Reason: fmt.Sprintf("corrupt payload: %v", err)}
	}
	resp, err := w.remote.SendMessage(ctx, &req)
	if err != nil {
		return err
	}
	if err := w.db.MarkMessageSynced(op.LocalRef, resp.ID, resp.MediaURL); err != nil {
		return err
	}
	w.bus.Publish(bus.Now(bus.KindMessageSendAck, op.LocalRef))
	w.bus.Publish(bus.Now(bus.KindMessageUpserted, op.ScopeID))
	return nil
}

func (w *Worker) replayCreatePost(ctx context.Context, op *store.PendingOp) error {
	post, err := w.db.GetPost(op.LocalRef)
	if err != nil {
		return err
	}
	if post == nil || post.SyncStatus == store.StatusSynced {
		return nil
	}

	var req remote.UploadPostRequest
	if err := json.Unmarshal([]byte(op.Payload), &req); err != nil {
		return &remote.RejectedError{Reason: fmt.Sprintf("corrupt payload: %v", err)}
	}
	resp, err := w.remote.UploadPost(ctx, &req)
	if err != nil {
		return err
	}
	if err := w.db.MarkPostSynced(op.LocalRef, resp.ID, resp.MediaURL); err != nil {
		return err
	}
	w.bus.Publish(bus.Now(bus.KindPostUpserted, ""))
	return nil
}

func (w *Worker) replayCreateStory(ctx context.Context, op *store.PendingOp) error {
	story, err := w.db.GetStory(op.LocalRef)
	if err != nil {
		return err
	}
	if story == nil || story.SyncStatus == store.StatusSynced {
		return nil
	}

	var req remote.UploadStoryRequest
	if err := json.Unmarshal([]byte(op.Payload), &req); err != nil {
		return &remote.RejectedError{Reason: fmt.Sprintf("corrupt payload: %v", err)}
	}
	resp, err := w.remote.UploadStory(ctx, &req)
	if err != nil {
		return err
	}
	if err := w.db.MarkStorySynced(op.LocalRef, resp.ID, resp.MediaURL); err != nil {
		return err
	}
	w.bus.Publish(bus.Now(bus.KindStoryUpserted, ""))
	return nil
}

func (w *Worker) replayToggleLike(ctx context.Context, op *store.PendingOp) error {
	var p LikePayload
	if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
		return &remote.RejectedError{Reason: fmt.Sprintf("corrupt payload: %v", err)}
	}
	resp, err := w.remote.ToggleLike(ctx, p.PostServerID, p.UserID, p.Like)
	if err != nil {
		return err
	}
	// The response carries the authoritative aggregate.
	if err := w.db.UpdateLikeStatus(p.PostServerID, resp.LikesCount, resp.LikedByUser); err != nil {
		return err
	}
	w.bus.Publish(bus.Now(bus.KindPostUpserted, p.PostServerID))
	return nil
}

func (w *Worker) replayAddComment(ctx context.Context, op *store.PendingOp) error {
	comment, err := w.db.GetComment(op.LocalRef)
	if err != nil {
		return err
	}
	if comment == nil || comment.SyncStatus == store.StatusSynced {
		return nil
	}

	var req remote.AddCommentRequest
	if err := json.Unmarshal([]byte(op.Payload), &req); err != nil {
		return &remote.RejectedError{Reason: fmt.Sprintf("corrupt payload: %v", err)}
	}
	resp, err := w.remote.AddComment(ctx, &req)
	if err != nil {
		return err
	}
	if err := w.db.MarkCommentSynced(op.LocalRef, resp.ID); err != nil {
		return err
	}
	w.bus.Publish(bus.Now(bus.KindCommentUpserted, comment.PostID))
	return nil
}

// revert undoes the optimistic local write behind a terminally rejected op.
func (w *Worker) revert(op *store.PendingOp) error {
	switch op.Kind {
	case store.OpSendMessage:
		return w.db.DeleteLocalMessage(op.LocalRef)
	case store.OpCreatePost:
		return w.db.DeleteLocalPost(op.LocalRef)
	case store.OpCreateStory:
		return w.db.DeleteLocalStory(op.LocalRef)
	case store.OpAddComment:
		return w.db.DeleteComment(op.LocalRef)
	case store.OpToggleLike:
		var p LikePayload
		if err := json.Unmarshal([]byte(op.Payload), &p); err != nil {
			return nil
		}
		return w.db.UpdateLikeStatus(p.PostServerID, p.PrevLikes, p.PrevLiked)
	default:
		return nil
	}
}

// Package messaging is the chat facade. Reads always come from the local
// store; writes land locally first and reach the service either inline or
// through the pending queue. Live subscriptions poll the service for the
// scope they watch and re-emit on any local change.
package messaging

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

// Remote is the slice of the service client the chat facade uses.
type Remote interface {
	SendMessage(ctx context.Context, req *remote.SendMessageRequest) (*remote.SendMessageResponse, error)
	FetchMessages(ctx context.Context, user1, user2 string) (*remote.MessagesResponse, error)
	FetchChats(ctx context.Context, userID string) ([]remote.ChatDTO, error)
	EditMessage(ctx context.Context, serverID int64, text, senderID string) error
	DeleteMessage(ctx context.Context, serverID int64, senderID string) error
	ToggleVanish(ctx context.Context, user1, user2 string, enable bool) error
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

// Repo is the chat repository.
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

	msgPoll  time.Duration
	chatPoll time.Duration
}

// NewRepo creates the chat repository.
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
		msgPoll:  time.Duration(cfg.MessagePollMs) * time.Millisecond,
		chatPoll: time.Duration(cfg.ChatListPollMs) * time.Millisecond,
	}
}

// Send writes a message locally and uploads it, inline when the service is
// reachable, otherwise through the pending queue. The returned message
// reflects the row's state after the attempt: synced on an inline success,
// pending when queued. A terminal rejection removes the local row and
// surfaces the service's reason.
func (r *Repo) Send(ctx context.Context, otherUserID, kind, body, mediaPath, postID string) (*store.Message, error) {
	chatID := store.ChatID(r.self.UserID, otherUserID)
	createdAt := time.Now().UnixMilli()

	localID, err := r.db.InsertLocalMessage(&store.Message{
		ChatID:     chatID,
		SenderID:   r.self.UserID,
		ReceiverID: otherUserID,
		Kind:       kind,
		Body:       body,
		MediaURL:   mediaPath,
		PostID:     postID,
		CreatedAt:  createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("insert local message: %w", err)
	}
	if err := r.db.UpsertChat(&store.Chat{
		ChatID:          chatID,
		OtherUserID:     otherUserID,
		LastMessageText: body,
		LastMessageAt:   createdAt,
	}); err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}
	r.bus.Publish(bus.Now(bus.KindMessageUpserted, chatID))

	req := &remote.SendMessageRequest{
		SenderID:   r.self.UserID,
		ReceiverID: otherUserID,
		Text:       body,
		Kind:       kind,
		PostID:     postID,
		CreatedAt:  createdAt,
		MediaPath:  mediaPath,
	}

	if r.net.Online() {
		resp, err := r.remote.SendMessage(ctx, req)
		switch {
		case err == nil:
			r.net.Report(true)
			if err := r.db.MarkMessageSynced(localID, resp.ID, resp.MediaURL); err != nil {
				return nil, fmt.Errorf("mark synced: %w", err)
			}
			r.bus.Publish(bus.Now(bus.KindMessageSendAck, localID))
			return r.db.GetMessage(localID)
		case remote.IsRejected(err):
			_ = r.db.DeleteLocalMessage(localID)
			r.bus.Publish(bus.Now(bus.KindMessageUpserted, chatID))
			return nil, err
		default:
			r.log.Debug("inline send failed, queueing", zap.Error(err))
			r.net.Report(false)
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := r.db.MarkMessagePending(localID); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}
	if err := r.db.EnqueueOp(&store.PendingOp{
		OpID:     uuid.NewString(),
		Kind:     store.OpSendMessage,
		LocalRef: localID,
		ScopeID:  chatID,
		Payload:  string(payload),
	}); err != nil {
		return nil, fmt.Errorf("enqueue op: %w", err)
	}
	r.sched.Schedule(ctx)
	return r.db.GetMessage(localID)
}

// Edit rewrites a sent message's text. Only synced messages can be edited;
// the service enforces its own time window and a RejectedError passes the
// refusal through with the local row untouched.
func (r *Repo) Edit(ctx context.Context, localID int64, text string) error {
	msg, err := r.db.GetMessage(localID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %d not found", localID)
	}
	if msg.ServerID == 0 {
		return fmt.Errorf("message %d not yet synced", localID)
	}
	if err := r.remote.EditMessage(ctx, msg.ServerID, text, r.self.UserID); err != nil {
		if !remote.IsRejected(err) {
			r.net.Report(false)
		}
		return err
	}
	r.net.Report(true)
	if err := r.db.ApplyMessageEdit(localID, text, time.Now().UnixMilli()); err != nil {
		return err
	}
	r.bus.Publish(bus.Now(bus.KindMessageUpserted, msg.ChatID))
	return nil
}

// Delete tombstones a sent message, subject to the same service window as
// edits.
func (r *Repo) Delete(ctx context.Context, localID int64) error {
	msg, err := r.db.GetMessage(localID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %d not found", localID)
	}
	if msg.ServerID == 0 {
		return fmt.Errorf("message %d not yet synced", localID)
	}
	if err := r.remote.DeleteMessage(ctx, msg.ServerID, r.self.UserID); err != nil {
		if !remote.IsRejected(err) {
			r.net.Report(false)
		}
		return err
	}
	r.net.Report(true)
	if err := r.db.MarkMessageDeleted(localID); err != nil {
		return err
	}
	r.bus.Publish(bus.Now(bus.KindMessageUpserted, msg.ChatID))
	return nil
}

// ToggleVanish flips vanish mode for a chat. Turning it off clears the
// vanish messages locally and records the clear time so later fetches,
// which still carry those messages, do not resurrect them.
func (r *Repo) ToggleVanish(ctx context.Context, otherUserID string, enable bool) error {
	chatID := store.ChatID(r.self.UserID, otherUserID)
	if err := r.remote.ToggleVanish(ctx, r.self.UserID, otherUserID, enable); err != nil {
		if !remote.IsRejected(err) {
			r.net.Report(false)
		}
		return err
	}
	r.net.Report(true)
	if err := r.db.SetVanishMode(chatID, enable); err != nil {
		return err
	}
	if !enable {
		if err := r.db.DeleteVanishMessages(chatID); err != nil {
			return err
		}
		if err := r.db.SetVanishClearedAt(chatID, time.Now().UnixMilli()); err != nil {
			return err
		}
	}
	r.bus.Publish(bus.Now(bus.KindMessageUpserted, chatID))
	return nil
}

// Messages returns the cached conversation, oldest first.
func (r *Repo) Messages(otherUserID string) ([]store.Message, error) {
	return r.db.ListMessages(store.ChatID(r.self.UserID, otherUserID))
}

// Chats returns the cached chat list, most recent first.
func (r *Repo) Chats() ([]store.Chat, error) {
	return r.db.ListChats(200, 0)
}

// Search runs a full-text query over cached messages. An empty chat scope
// searches every conversation.
func (r *Repo) Search(query, otherUserID string, limit int) ([]store.SearchResult, error) {
	chatID := ""
	if otherUserID != "" {
		chatID = store.ChatID(r.self.UserID, otherUserID)
	}
	return r.db.SearchMessages(query, chatID, limit)
}

// LiveMessages streams conversation snapshots. The current cached state is
// emitted immediately; afterwards every local change to the chat re-emits,
// and a background poll keeps the scope fresh while anyone is subscribed.
// The channel always holds the latest snapshot; stale ones are dropped.
func (r *Repo) LiveMessages(otherUserID string) (<-chan []store.Message, func()) {
	chatID := store.ChatID(r.self.UserID, otherUserID)
	out := make(chan []store.Message, 1)

	emit := func() {
		msgs, err := r.db.ListMessages(chatID)
		if err != nil {
			r.log.Error("list messages", zap.Error(err))
			return
		}
		poller.PushLatest(out, msgs)
	}
	emit()

	events, unsub := r.bus.Subscribe("message.", 32)
	releasePoll := r.pollers.Acquire("messages:"+chatID, func(ctx context.Context) {
		poller.Loop(ctx, r.msgPoll, r.net, r.log, func(ctx context.Context) error {
			resp, err := r.remote.FetchMessages(ctx, r.self.UserID, otherUserID)
			if err != nil {
				return err
			}
			return r.rec.IngestMessages(chatID, resp)
		})
	})

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-events:
				if scope, ok := ev.Payload.(string); ok && scope != chatID {
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

// LiveChats streams chat list snapshots with the same contract as
// LiveMessages.
func (r *Repo) LiveChats() (<-chan []store.Chat, func()) {
	out := make(chan []store.Chat, 1)

	emit := func() {
		chats, err := r.Chats()
		if err != nil {
			r.log.Error("list chats", zap.Error(err))
			return
		}
		poller.PushLatest(out, chats)
	}
	emit()

	events, unsub := r.bus.Subscribe("", 32)
	releasePoll := r.pollers.Acquire("chats", func(ctx context.Context) {
		poller.Loop(ctx, r.chatPoll, r.net, r.log, func(ctx context.Context) error {
			dtos, err := r.remote.FetchChats(ctx, r.self.UserID)
			if err != nil {
				return err
			}
			return r.rec.IngestChats(r.self.UserID, dtos)
		})
	})

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case ev := <-events:
				switch ev.Kind {
				case bus.KindChatUpserted, bus.KindMessageUpserted, bus.KindMessageSendAck:
					emit()
				}
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

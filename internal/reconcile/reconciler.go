// Package reconcile folds server state into the local store without ever
// duplicating a record the client itself created. Every ingest path is
// idempotent; replaying the same server payload converges to the same rows.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sociallyhq/socially/internal/bus"
	"github.com/sociallyhq/socially/internal/remote"
	"github.com/sociallyhq/socially/internal/store"
)

// Reconciler merges fetched server records with local optimistic ones.
type Reconciler struct {
	db        *store.DB
	bus       *bus.Bus
	log       *zap.Logger
	tolerance int64
}

// NewReconciler creates a reconciler. tolerance is the dedup window in
// milliseconds when matching a server record against local unsynced rows;
// 0 requires an exact created-at match.
func NewReconciler(db *store.DB, b *bus.Bus, log *zap.Logger, toleranceMs int64) *Reconciler {
	return &Reconciler{db: db, bus: b, log: log, tolerance: toleranceMs}
}

// IngestMessages merges one chat's canonical server state. For each server
// message exactly one of three things happens: an already-known row is
// refreshed, an unsynced local row is adopted (claiming the server id and
// retiring its pending upload), or a brand new row is inserted.
func (r *Reconciler) IngestMessages(chatID string, resp *remote.MessagesResponse) error {
	prev, err := r.db.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	clearedAt, err := r.db.VanishClearedAt(chatID)
	if err != nil {
		return fmt.Errorf("load vanish clear time: %w", err)
	}

	changed := false
	for i := range resp.Messages {
		adopted, err := r.ingestMessage(chatID, &resp.Messages[i], clearedAt)
		if err != nil {
			return err
		}
		if adopted {
			changed = true
		}
	}

	if err := r.db.SetVanishMode(chatID, resp.VanishMode); err != nil {
		return fmt.Errorf("set vanish mode: %w", err)
	}
	// The service keeps vanish messages on record after the mode is
	// switched off. Clear them locally on the transition and remember
	// the moment so later fetches do not resurrect them.
	if prev != nil && prev.VanishMode && !resp.VanishMode {
		if err := r.db.DeleteVanishMessages(chatID); err != nil {
			return fmt.Errorf("clear vanish messages: %w", err)
		}
		if err := r.db.SetVanishClearedAt(chatID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record vanish clear: %w", err)
		}
		changed = true
	}

	if changed {
		r.bus.Publish(bus.Now(bus.KindMessageUpserted, chatID))
	}
	return nil
}

func (r *Reconciler) ingestMessage(chatID string, dto *remote.MessageDTO, clearedAt int64) (bool, error) {
	if isVanishKind(dto.Kind) && dto.CreatedAt < clearedAt {
		return false, nil
	}

	existing, err := r.db.GetMessageByServerID(chatID, dto.ID)
	if err != nil {
		return false, fmt.Errorf("check server id: %w", err)
	}
	if existing != nil {
		deleted := dto.IsDeleted != 0
		if existing.Body == dto.Text && existing.MediaURL == dto.MediaURL &&
			existing.EditedAt == dto.EditedAt && existing.Deleted == deleted {
			return false, nil
		}
		if err := r.db.RefreshServerMessage(chatID, dto.ID, dto.Text, dto.MediaURL, deleted, dto.EditedAt); err != nil {
			return false, fmt.Errorf("refresh message: %w", err)
		}
		return true, nil
	}

	match, err := r.db.FindUnsyncedMatch(chatID, dto.SenderID, dto.Text, dto.CreatedAt, r.tolerance)
	if err != nil {
		return false, fmt.Errorf("find local match: %w", err)
	}
	if match != nil {
		if err := r.db.MarkMessageSynced(match.LocalID, dto.ID, dto.MediaURL); err != nil {
			return false, fmt.Errorf("adopt local message: %w", err)
		}
		if err := r.db.DeleteOpsForRef(store.OpSendMessage, match.LocalID); err != nil {
			return false, fmt.Errorf("retire pending upload: %w", err)
		}
		r.log.Debug("adopted local message",
			zap.Int64("local_id", match.LocalID),
			zap.Int64("server_id", dto.ID))
		return true, nil
	}

	msg := &store.Message{
		ServerID:   dto.ID,
		ChatID:     chatID,
		SenderID:   dto.SenderID,
		ReceiverID: otherParty(chatID, dto.SenderID),
		Kind:       dto.Kind,
		Body:       dto.Text,
		MediaURL:   dto.MediaURL,
		PostID:     dto.PostID,
		CreatedAt:  dto.CreatedAt,
		EditedAt:   dto.EditedAt,
		Deleted:    dto.IsDeleted != 0,
		SyncStatus: store.StatusSynced,
	}
	if err := r.db.InsertServerMessage(msg); err != nil {
		return false, fmt.Errorf("insert server message: %w", err)
	}
	return true, nil
}

// IngestChats merges the server chat list for the local user. Usernames
// and avatars land in the users table too so presence and search can
// resolve display names without another fetch.
func (r *Reconciler) IngestChats(selfID string, dtos []remote.ChatDTO) error {
	changed := false
	users := make([]store.User, 0, len(dtos))
	for i := range dtos {
		dto := &dtos[i]
		chat := &store.Chat{
			ChatID:          store.ChatID(selfID, dto.OtherUserID),
			ServerChatID:    dto.ServerChatID,
			OtherUserID:     dto.OtherUserID,
			OtherUsername:   dto.OtherUsername,
			OtherAvatarURL:  dto.OtherAvatarURL,
			LastMessageText: dto.LastMessageText,
			LastMessageAt:   dto.LastMessageAt,
		}
		if err := r.db.UpsertChat(chat); err != nil {
			return fmt.Errorf("upsert chat %s: %w", chat.ChatID, err)
		}
		changed = true
		users = append(users, store.User{
			UID:       dto.OtherUserID,
			Username:  dto.OtherUsername,
			AvatarURL: dto.OtherAvatarURL,
		})
	}
	if len(users) > 0 {
		if err := r.db.BulkUpsertUsers(users); err != nil {
			return fmt.Errorf("upsert users: %w", err)
		}
	}
	if changed {
		r.bus.Publish(bus.Now(bus.KindChatUpserted, selfID))
	}
	return nil
}

// IngestPosts merges the feed. Server aggregates (like and comment counts,
// the caller's like flag) always win over local guesses.
func (r *Reconciler) IngestPosts(dtos []remote.PostDTO) error {
	changed := false
	for i := range dtos {
		dto := &dtos[i]
		adopted, err := r.ingestPost(dto)
		if err != nil {
			return err
		}
		if adopted {
			changed = true
		}
	}
	if changed {
		r.bus.Publish(bus.Now(bus.KindPostUpserted, ""))
	}
	return nil
}

func (r *Reconciler) ingestPost(dto *remote.PostDTO) (bool, error) {
	existing, err := r.db.GetPostByServerID(dto.ID)
	if err != nil {
		return false, fmt.Errorf("lookup post: %w", err)
	}
	if existing == nil {
		match, err := r.db.FindUnsyncedPostMatch(dto.UserID, dto.Caption, dto.CreatedAt, r.tolerance)
		if err != nil {
			return false, fmt.Errorf("find local post: %w", err)
		}
		if match != nil {
			if err := r.db.MarkPostSynced(match.LocalID, dto.ID, dto.MediaURL); err != nil {
				return false, fmt.Errorf("adopt local post: %w", err)
			}
			if err := r.db.DeleteOpsForRef(store.OpCreatePost, match.LocalID); err != nil {
				return false, fmt.Errorf("retire pending post: %w", err)
			}
		}
	}
	post := &store.Post{
		ServerID:      dto.ID,
		OwnerID:       dto.UserID,
		Username:      dto.Username,
		AvatarURL:     dto.AvatarURL,
		Caption:       dto.Caption,
		MediaURL:      dto.MediaURL,
		LikesCount:    dto.LikesCount,
		CommentsCount: dto.CommentsCount,
		LikedByMe:     dto.LikedByUser,
		CreatedAt:     dto.CreatedAt,
		SyncStatus:    store.StatusSynced,
	}
	if err := r.db.UpsertServerPost(post); err != nil {
		return false, fmt.Errorf("upsert post: %w", err)
	}
	return true, nil
}

// IngestStories merges active stories and drops rows whose expiry passed.
func (r *Reconciler) IngestStories(dtos []remote.StoryDTO, nowMs int64) error {
	changed := false
	for i := range dtos {
		dto := &dtos[i]
		existing, err := r.db.GetStoryByServerID(dto.ID)
		if err != nil {
			return fmt.Errorf("lookup story: %w", err)
		}
		if existing == nil {
			match, err := r.db.FindUnsyncedStoryMatch(dto.UserID, dto.CreatedAt, r.tolerance)
			if err != nil {
				return fmt.Errorf("find local story: %w", err)
			}
			if match != nil {
				if err := r.db.MarkStorySynced(match.LocalID, dto.ID, dto.MediaURL); err != nil {
					return fmt.Errorf("adopt local story: %w", err)
				}
				if err := r.db.DeleteOpsForRef(store.OpCreateStory, match.LocalID); err != nil {
					return fmt.Errorf("retire pending story: %w", err)
				}
			}
		}
		story := &store.Story{
			ServerID:   dto.ID,
			OwnerID:    dto.UserID,
			Username:   dto.Username,
			AvatarURL:  dto.AvatarURL,
			MediaURL:   dto.MediaURL,
			MediaType:  dto.MediaType,
			CreatedAt:  dto.CreatedAt,
			ExpiresAt:  dto.ExpiresAt,
			SyncStatus: store.StatusSynced,
		}
		if err := r.db.UpsertServerStory(story); err != nil {
			return fmt.Errorf("upsert story: %w", err)
		}
		changed = true
	}
	if _, err := r.db.PruneExpiredStories(nowMs); err != nil {
		return fmt.Errorf("prune stories: %w", err)
	}
	if changed {
		r.bus.Publish(bus.Now(bus.KindStoryUpserted, ""))
	}
	return nil
}

// IngestComments merges one post's comments.
func (r *Reconciler) IngestComments(postID string, dtos []remote.CommentDTO) error {
	changed := false
	for i := range dtos {
		dto := &dtos[i]
		existing, err := r.db.GetCommentByServerID(postID, dto.ID)
		if err != nil {
			return fmt.Errorf("lookup comment: %w", err)
		}
		if existing == nil {
			match, err := r.db.FindUnsyncedCommentMatch(postID, dto.UserID, dto.Text, dto.CreatedAt, r.tolerance)
			if err != nil {
				return fmt.Errorf("find local comment: %w", err)
			}
			if match != nil {
				if err := r.db.MarkCommentSynced(match.LocalID, dto.ID); err != nil {
					return fmt.Errorf("adopt local comment: %w", err)
				}
				if err := r.db.DeleteOpsForRef(store.OpAddComment, match.LocalID); err != nil {
					return fmt.Errorf("retire pending comment: %w", err)
				}
			}
		}
		comment := &store.Comment{
			ServerID:   dto.ID,
			PostID:     postID,
			OwnerID:    dto.UserID,
			Username:   dto.Username,
			AvatarURL:  dto.AvatarURL,
			Body:       dto.Text,
			CreatedAt:  dto.CreatedAt,
			SyncStatus: store.StatusSynced,
		}
		if err := r.db.UpsertServerComment(comment); err != nil {
			return fmt.Errorf("upsert comment: %w", err)
		}
		changed = true
	}
	if changed {
		r.bus.Publish(bus.Now(bus.KindCommentUpserted, postID))
	}
	return nil
}

func isVanishKind(kind string) bool {
	return kind == store.KindVanish || kind == store.KindVanishImage
}

func otherParty(chatID, senderID string) string {
	a, b, _ := strings.Cut(chatID, "_")
	if a == senderID {
		return b
	}
	return a
}

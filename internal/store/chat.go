package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat summary. Empty incoming display
// fields never clobber known values; the preview only advances in time.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, server_chat_id, other_user_id, other_username, other_avatar_url,
			last_message_text, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			server_chat_id = CASE WHEN excluded.server_chat_id != 0 THEN excluded.server_chat_id ELSE chats.server_chat_id END,
			other_user_id = CASE WHEN excluded.other_user_id != '' THEN excluded.other_user_id ELSE chats.other_user_id END,
			other_username = CASE WHEN excluded.other_username != '' THEN excluded.other_username ELSE chats.other_username END,
			other_avatar_url = CASE WHEN excluded.other_avatar_url != '' THEN excluded.other_avatar_url ELSE chats.other_avatar_url END,
			last_message_text = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_text ELSE chats.last_message_text END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ChatID, c.ServerChatID, c.OtherUserID, c.OtherUsername, c.OtherAvatarURL,
		c.LastMessageText, c.LastMessageAt, now)
	return err
}

// SetVanishMode flips the vanish-mode flag for a chat.
func (db *DB) SetVanishMode(chatID string, enabled bool) error {
	_, err := db.Exec(`UPDATE chats SET vanish_mode = ?, updated_at = ? WHERE chat_id = ?`,
		enabled, time.Now().UnixMilli(), chatID)
	return err
}

// ListChats returns chats sorted by last message timestamp descending.
// Display names fall back to the cached user directory when the chat row
// itself has none: chat.other_username -> users.username -> other_user_id.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.chat_id, COALESCE(c.server_chat_id, 0), c.other_user_id,
			COALESCE(NULLIF(c.other_username,''), NULLIF(u.username,''), c.other_user_id) AS display_name,
			COALESCE(NULLIF(c.other_avatar_url,''), u.avatar_url, '') AS avatar,
			c.last_message_text, c.last_message_at, c.vanish_mode
		FROM chats c
		LEFT JOIN users u ON c.other_user_id = u.uid
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.ServerChatID, &c.OtherUserID, &c.OtherUsername,
			&c.OtherAvatarURL, &c.LastMessageText, &c.LastMessageAt, &c.VanishMode); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id.
func (db *DB) GetChat(chatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT c.chat_id, COALESCE(c.server_chat_id, 0), c.other_user_id,
			COALESCE(NULLIF(c.other_username,''), NULLIF(u.username,''), c.other_user_id) AS display_name,
			COALESCE(NULLIF(c.other_avatar_url,''), u.avatar_url, '') AS avatar,
			c.last_message_text, c.last_message_at, c.vanish_mode
		FROM chats c
		LEFT JOIN users u ON c.other_user_id = u.uid
		WHERE c.chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.ServerChatID, &c.OtherUserID, &c.OtherUsername,
			&c.OtherAvatarURL, &c.LastMessageText, &c.LastMessageAt, &c.VanishMode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

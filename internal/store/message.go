package store

import (
	"database/sql"
	"fmt"
)

const messageCols = `local_id, COALESCE(server_id, 0), chat_id, sender_id, receiver_id,
	kind, body, media_url, post_id, created_at, edited_at, deleted, sync_status`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.LocalID, &m.ServerID, &m.ChatID, &m.SenderID, &m.ReceiverID,
		&m.Kind, &m.Body, &m.MediaURL, &m.PostID, &m.CreatedAt, &m.EditedAt,
		&m.Deleted, &m.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertLocalMessage inserts an optimistic local message and returns its
// engine-assigned local id. The row starts in status local; the caller either
// promotes it inline after a successful send or marks it pending.
func (db *DB) InsertLocalMessage(m *Message) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO messages (chat_id, sender_id, receiver_id, kind, body, media_url, post_id, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.SenderID, m.ReceiverID, m.Kind, m.Body, m.MediaURL, m.PostID, m.CreatedAt, StatusLocal)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkMessagePending moves a local message into the pending-upload state.
// A no-op for rows already pending or synced (status never moves backward).
func (db *DB) MarkMessagePending(localID int64) error {
	_, err := db.Exec(`UPDATE messages SET sync_status = ? WHERE local_id = ? AND sync_status = ?`,
		StatusPending, localID, StatusLocal)
	return err
}

// MarkMessageSynced promotes a row to synced in place, filling the server id
// and the server-rewritten media URL. The server id is assigned at most once:
// an already-set value is kept.
func (db *DB) MarkMessageSynced(localID, serverID int64, mediaURL string) error {
	_, err := db.Exec(`
		UPDATE messages
		SET server_id = COALESCE(server_id, ?),
		    media_url = CASE WHEN ? != '' THEN ? ELSE media_url END,
		    sync_status = ?
		WHERE local_id = ?`,
		serverID, mediaURL, mediaURL, StatusSynced, localID)
	return err
}

// HasMessageWithServerID reports whether a chat already holds a row for the
// given server record.
func (db *DB) HasMessageWithServerID(chatID string, serverID int64) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND server_id = ?`,
		chatID, serverID).Scan(&n)
	return n > 0, err
}

// InsertServerMessage ingests a server-origin message as a synced row.
// Idempotent on (chat_id, server_id): re-ingesting refreshes the
// server-authoritative fields instead of creating a second row.
func (db *DB) InsertServerMessage(m *Message) error {
	if m.ServerID == 0 {
		return fmt.Errorf("server message without server id")
	}
	_, err := db.Exec(`
		INSERT INTO messages (server_id, chat_id, sender_id, receiver_id, kind, body, media_url, post_id, created_at, edited_at, deleted, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, server_id) WHERE server_id IS NOT NULL DO UPDATE SET
			body = excluded.body,
			media_url = excluded.media_url,
			edited_at = excluded.edited_at,
			deleted = excluded.deleted`,
		m.ServerID, m.ChatID, m.SenderID, m.ReceiverID, m.Kind, m.Body, m.MediaURL,
		m.PostID, m.CreatedAt, m.EditedAt, m.Deleted, StatusSynced)
	return err
}

// RefreshServerMessage overwrites the server-authoritative fields of an
// already-known server record (edits and deletions discovered by polling).
func (db *DB) RefreshServerMessage(chatID string, serverID int64, body, mediaURL string, deleted bool, editedAt int64) error {
	_, err := db.Exec(`
		UPDATE messages SET body = ?, media_url = ?, deleted = ?, edited_at = ?
		WHERE chat_id = ? AND server_id = ?`,
		body, mediaURL, deleted, editedAt, chatID, serverID)
	return err
}

// FindUnsyncedMatch looks for a locally-created, not-yet-synced message that
// matches a server record's natural key: same sender, same body, created-at
// within the tolerance window. toleranceMs of 0 demands an exact timestamp,
// which holds whenever the client stamped created_at once and the server
// echoed it back.
func (db *DB) FindUnsyncedMatch(chatID, senderID, body string, createdAt, toleranceMs int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageCols+`
		FROM messages
		WHERE chat_id = ? AND sender_id = ? AND body = ?
		  AND sync_status IN (?, ?)
		  AND ABS(created_at - ?) <= ?
		ORDER BY ABS(created_at - ?) ASC, local_id ASC
		LIMIT 1`,
		chatID, senderID, body, StatusLocal, StatusPending, createdAt, toleranceMs, createdAt))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage returns a single message by local id.
func (db *DB) GetMessage(localID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessageByServerID returns a single message by chat and server id.
func (db *DB) GetMessageByServerID(chatID string, serverID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageCols+` FROM messages WHERE chat_id = ? AND server_id = ?`, chatID, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns all messages for a chat ordered by created_at ascending.
func (db *DB) ListMessages(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, local_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ApplyMessageEdit rewrites a message body after the service accepted the
// edit.
func (db *DB) ApplyMessageEdit(localID int64, body string, editedAt int64) error {
	_, err := db.Exec(`UPDATE messages SET body = ?, edited_at = ? WHERE local_id = ?`,
		body, editedAt, localID)
	return err
}

// MarkMessageDeleted tombstones a message after the service accepted the
// delete. The row is kept so the chat renders the placeholder.
func (db *DB) MarkMessageDeleted(localID int64) error {
	_, err := db.Exec(`UPDATE messages SET deleted = 1, body = '' WHERE local_id = ?`, localID)
	return err
}

// DeleteLocalMessage removes a not-yet-synced message, used when the
// service terminally rejects its upload. Synced rows are left untouched.
func (db *DB) DeleteLocalMessage(localID int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE local_id = ? AND sync_status != ?`,
		localID, StatusSynced)
	return err
}

// DeleteVanishMessages removes vanish-mode messages for a chat.
func (db *DB) DeleteVanishMessages(chatID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE chat_id = ? AND kind IN (?, ?)`,
		chatID, KindVanish, KindVanishImage)
	return err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

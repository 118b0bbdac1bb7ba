package store

import (
	"database/sql"
	"fmt"
)

const storyCols = `local_id, COALESCE(server_id, ''), owner_id, username, avatar_url,
	media_url, media_type, created_at, expires_at, sync_status`

func scanStory(row interface{ Scan(...any) error }) (*Story, error) {
	var s Story
	err := row.Scan(&s.LocalID, &s.ServerID, &s.OwnerID, &s.Username, &s.AvatarURL,
		&s.MediaURL, &s.MediaType, &s.CreatedAt, &s.ExpiresAt, &s.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertLocalStory inserts an optimistic local story and returns its local id.
func (db *DB) InsertLocalStory(s *Story) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO stories (owner_id, username, avatar_url, media_url, media_type, created_at, expires_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.OwnerID, s.Username, s.AvatarURL, s.MediaURL, s.MediaType, s.CreatedAt, s.ExpiresAt, StatusLocal)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkStoryPending moves a local story into the pending-upload state.
func (db *DB) MarkStoryPending(localID int64) error {
	_, err := db.Exec(`UPDATE stories SET sync_status = ? WHERE local_id = ? AND sync_status = ?`,
		StatusPending, localID, StatusLocal)
	return err
}

// MarkStorySynced promotes a story to synced with its server id and the
// canonical media URL.
func (db *DB) MarkStorySynced(localID int64, serverID, mediaURL string) error {
	_, err := db.Exec(`
		UPDATE stories
		SET server_id = COALESCE(server_id, ?),
		    media_url = CASE WHEN ? != '' THEN ? ELSE media_url END,
		    sync_status = ?
		WHERE local_id = ?`,
		serverID, mediaURL, mediaURL, StatusSynced, localID)
	return err
}

// UpsertServerStory ingests a server-origin story, idempotent on server id.
func (db *DB) UpsertServerStory(s *Story) error {
	if s.ServerID == "" {
		return fmt.Errorf("server story without server id")
	}
	_, err := db.Exec(`
		INSERT INTO stories (server_id, owner_id, username, avatar_url, media_url, media_type, created_at, expires_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id) WHERE server_id IS NOT NULL DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			media_url = excluded.media_url,
			media_type = excluded.media_type,
			expires_at = excluded.expires_at`,
		s.ServerID, s.OwnerID, s.Username, s.AvatarURL, s.MediaURL, s.MediaType,
		s.CreatedAt, s.ExpiresAt, StatusSynced)
	return err
}

// FindUnsyncedStoryMatch looks for a locally-created, not-yet-synced story
// matching a server record's natural key (owner, created-at within tolerance).
func (db *DB) FindUnsyncedStoryMatch(ownerID string, createdAt, toleranceMs int64) (*Story, error) {
	s, err := scanStory(db.QueryRow(`
		SELECT `+storyCols+`
		FROM stories
		WHERE owner_id = ?
		  AND sync_status IN (?, ?)
		  AND ABS(created_at - ?) <= ?
		ORDER BY ABS(created_at - ?) ASC, local_id ASC
		LIMIT 1`,
		ownerID, StatusLocal, StatusPending, createdAt, toleranceMs, createdAt))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetStory returns a single story by local id.
func (db *DB) GetStory(localID int64) (*Story, error) {
	s, err := scanStory(db.QueryRow(`SELECT `+storyCols+` FROM stories WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteLocalStory removes a not-yet-synced story, used when the service
// terminally rejects its upload. Synced rows are left untouched.
func (db *DB) DeleteLocalStory(localID int64) error {
	_, err := db.Exec(`DELETE FROM stories WHERE local_id = ? AND sync_status != ?`,
		localID, StatusSynced)
	return err
}

// GetStoryByServerID returns a story by its server id, nil when unknown.
func (db *DB) GetStoryByServerID(serverID string) (*Story, error) {
	s, err := scanStory(db.QueryRow(`SELECT `+storyCols+` FROM stories WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListActiveStories returns unexpired stories ordered newest first. Local
// unsynced stories are always included regardless of expiry.
func (db *DB) ListActiveStories(nowMs int64) ([]Story, error) {
	rows, err := db.Query(`
		SELECT `+storyCols+`
		FROM stories
		WHERE expires_at > ? OR sync_status != ?
		ORDER BY created_at DESC, local_id DESC`, nowMs, StatusSynced)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stories []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

// PruneExpiredStories deletes synced stories past their expiry.
func (db *DB) PruneExpiredStories(nowMs int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM stories WHERE expires_at <= ? AND sync_status = ?`,
		nowMs, StatusSynced)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package store

import (
	"database/sql"
	"fmt"
)

const commentCols = `local_id, COALESCE(server_id, ''), post_id, owner_id, username,
	avatar_url, body, created_at, sync_status`

func scanComment(row interface{ Scan(...any) error }) (*Comment, error) {
	var c Comment
	err := row.Scan(&c.LocalID, &c.ServerID, &c.PostID, &c.OwnerID, &c.Username,
		&c.AvatarURL, &c.Body, &c.CreatedAt, &c.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertLocalComment inserts an optimistic local comment and returns its
// local id. The caller bumps the post's comment count separately.
func (db *DB) InsertLocalComment(c *Comment) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO comments (post_id, owner_id, username, avatar_url, body, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.PostID, c.OwnerID, c.Username, c.AvatarURL, c.Body, c.CreatedAt, StatusLocal)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkCommentPending moves a local comment into the pending-upload state.
func (db *DB) MarkCommentPending(localID int64) error {
	_, err := db.Exec(`UPDATE comments SET sync_status = ? WHERE local_id = ? AND sync_status = ?`,
		StatusPending, localID, StatusLocal)
	return err
}

// MarkCommentSynced promotes a comment to synced with its server id.
func (db *DB) MarkCommentSynced(localID int64, serverID string) error {
	_, err := db.Exec(`
		UPDATE comments
		SET server_id = COALESCE(server_id, ?), sync_status = ?
		WHERE local_id = ?`,
		serverID, StatusSynced, localID)
	return err
}

// UpsertServerComment ingests a server-origin comment, idempotent on
// (post_id, server_id).
func (db *DB) UpsertServerComment(c *Comment) error {
	if c.ServerID == "" {
		return fmt.Errorf("server comment without server id")
	}
	_, err := db.Exec(`
		INSERT INTO comments (server_id, post_id, owner_id, username, avatar_url, body, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id, server_id) WHERE server_id IS NOT NULL DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			body = excluded.body`,
		c.ServerID, c.PostID, c.OwnerID, c.Username, c.AvatarURL, c.Body, c.CreatedAt, StatusSynced)
	return err
}

// FindUnsyncedCommentMatch looks for a locally-created, not-yet-synced
// comment matching a server record's natural key.
func (db *DB) FindUnsyncedCommentMatch(postID, ownerID, body string, createdAt, toleranceMs int64) (*Comment, error) {
	c, err := scanComment(db.QueryRow(`
		SELECT `+commentCols+`
		FROM comments
		WHERE post_id = ? AND owner_id = ? AND body = ?
		  AND sync_status IN (?, ?)
		  AND ABS(created_at - ?) <= ?
		ORDER BY ABS(created_at - ?) ASC, local_id ASC
		LIMIT 1`,
		postID, ownerID, body, StatusLocal, StatusPending, createdAt, toleranceMs, createdAt))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetComment returns a single comment by local id.
func (db *DB) GetComment(localID int64) (*Comment, error) {
	c, err := scanComment(db.QueryRow(`SELECT `+commentCols+` FROM comments WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommentByServerID returns a comment by its server id, nil when unknown.
func (db *DB) GetCommentByServerID(postID, serverID string) (*Comment, error) {
	c, err := scanComment(db.QueryRow(`
		SELECT `+commentCols+` FROM comments WHERE post_id = ? AND server_id = ?`,
		postID, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteComment removes a comment row. Used when a terminal rejection
// reverts an optimistic insert.
func (db *DB) DeleteComment(localID int64) error {
	_, err := db.Exec(`DELETE FROM comments WHERE local_id = ?`, localID)
	return err
}

// ListComments returns comments for a post ordered by created_at ascending.
func (db *DB) ListComments(postID string) ([]Comment, error) {
	rows, err := db.Query(`
		SELECT `+commentCols+`
		FROM comments
		WHERE post_id = ?
		ORDER BY created_at ASC, local_id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var comments []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

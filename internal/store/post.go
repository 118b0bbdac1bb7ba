package store

import (
	"database/sql"
	"fmt"
)

const postCols = `local_id, COALESCE(server_id, ''), owner_id, username, avatar_url,
	media_url, caption, likes_count, comments_count, liked_by_me, created_at, sync_status`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	err := row.Scan(&p.LocalID, &p.ServerID, &p.OwnerID, &p.Username, &p.AvatarURL,
		&p.MediaURL, &p.Caption, &p.LikesCount, &p.CommentsCount, &p.LikedByMe,
		&p.CreatedAt, &p.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertLocalPost inserts an optimistic local post and returns its local id.
func (db *DB) InsertLocalPost(p *Post) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO posts (owner_id, username, avatar_url, media_url, caption, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.OwnerID, p.Username, p.AvatarURL, p.MediaURL, p.Caption, p.CreatedAt, StatusLocal)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkPostPending moves a local post into the pending-upload state.
func (db *DB) MarkPostPending(localID int64) error {
	_, err := db.Exec(`UPDATE posts SET sync_status = ? WHERE local_id = ? AND sync_status = ?`,
		StatusPending, localID, StatusLocal)
	return err
}

// MarkPostSynced promotes a post to synced with its server id and the
// canonical media URL. The server id is assigned at most once.
func (db *DB) MarkPostSynced(localID int64, serverID, mediaURL string) error {
	_, err := db.Exec(`
		UPDATE posts
		SET server_id = COALESCE(server_id, ?),
		    media_url = CASE WHEN ? != '' THEN ? ELSE media_url END,
		    sync_status = ?
		WHERE local_id = ?`,
		serverID, mediaURL, mediaURL, StatusSynced, localID)
	return err
}

// UpsertServerPost ingests a server-origin post, idempotent on server id.
func (db *DB) UpsertServerPost(p *Post) error {
	if p.ServerID == "" {
		return fmt.Errorf("server post without server id")
	}
	_, err := db.Exec(`
		INSERT INTO posts (server_id, owner_id, username, avatar_url, media_url, caption,
			likes_count, comments_count, liked_by_me, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id) WHERE server_id IS NOT NULL DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			media_url = excluded.media_url,
			caption = excluded.caption,
			likes_count = excluded.likes_count,
			comments_count = excluded.comments_count,
			liked_by_me = excluded.liked_by_me`,
		p.ServerID, p.OwnerID, p.Username, p.AvatarURL, p.MediaURL, p.Caption,
		p.LikesCount, p.CommentsCount, p.LikedByMe, p.CreatedAt, StatusSynced)
	return err
}

// FindUnsyncedPostMatch looks for a locally-created, not-yet-synced post
// matching a server record's natural key (owner, caption, created-at within
// tolerance).
func (db *DB) FindUnsyncedPostMatch(ownerID, caption string, createdAt, toleranceMs int64) (*Post, error) {
	p, err := scanPost(db.QueryRow(`
		SELECT `+postCols+`
		FROM posts
		WHERE owner_id = ? AND caption = ?
		  AND sync_status IN (?, ?)
		  AND ABS(created_at - ?) <= ?
		ORDER BY ABS(created_at - ?) ASC, local_id ASC
		LIMIT 1`,
		ownerID, caption, StatusLocal, StatusPending, createdAt, toleranceMs, createdAt))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateLikeStatus overwrites the like aggregate for a post identified by
// server id.
func (db *DB) UpdateLikeStatus(serverID string, likesCount int, likedByMe bool) error {
	_, err := db.Exec(`UPDATE posts SET likes_count = ?, liked_by_me = ? WHERE server_id = ?`,
		likesCount, likedByMe, serverID)
	return err
}

// GetPost returns a single post by local id.
func (db *DB) GetPost(localID int64) (*Post, error) {
	p, err := scanPost(db.QueryRow(`SELECT `+postCols+` FROM posts WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteLocalPost removes a not-yet-synced post, used when the service
// terminally rejects its upload. Synced rows are left untouched.
func (db *DB) DeleteLocalPost(localID int64) error {
	_, err := db.Exec(`DELETE FROM posts WHERE local_id = ? AND sync_status != ?`,
		localID, StatusSynced)
	return err
}

// GetPostByServerID returns a single post by server id.
func (db *DB) GetPostByServerID(serverID string) (*Post, error) {
	p, err := scanPost(db.QueryRow(`SELECT `+postCols+` FROM posts WHERE server_id = ?`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListFeed returns all cached posts ordered by created_at descending,
// local unsynced posts included so the author sees their own post instantly.
func (db *DB) ListFeed() ([]Post, error) {
	rows, err := db.Query(`SELECT ` + postCols + ` FROM posts ORDER BY created_at DESC, local_id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a cached user profile. Empty incoming
// fields never clobber known values.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (uid, username, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			updated_at = excluded.updated_at`,
		u.UID, u.Username, u.AvatarURL, now)
	return err
}

// BulkUpsertUsers inserts or updates multiple user profiles in one transaction.
func (db *DB) BulkUpsertUsers(users []User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users (uid, username, avatar_url, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(uid) DO UPDATE SET
				username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
				updated_at = excluded.updated_at`,
			u.UID, u.Username, u.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.UID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a cached user profile by uid.
func (db *DB) GetUser(uid string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT uid, username, avatar_url FROM users WHERE uid = ?`, uid).
		Scan(&u.UID, &u.Username, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

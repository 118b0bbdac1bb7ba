package store

import (
	"database/sql"
	"strconv"
	"time"
)

// SetState stores a sync checkpoint or meta value.
func (db *DB) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetState retrieves a sync checkpoint value. Returns "" when unset.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetVanishClearedAt records when a chat's vanish messages were last
// cleared. The service keeps those messages on record after the mode is
// switched off, so refetches must be filtered against this moment.
func (db *DB) SetVanishClearedAt(chatID string, ts int64) error {
	return db.SetState("vanish_cleared:"+chatID, strconv.FormatInt(ts, 10))
}

// VanishClearedAt returns the last vanish clear time for a chat, 0 when
// the chat was never cleared.
func (db *DB) VanishClearedAt(chatID string) (int64, error) {
	v, err := db.GetState("vanish_cleared:" + chatID)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

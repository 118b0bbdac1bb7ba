package store

// SearchMessages performs a full-text search on cached message bodies.
// Purely local; works offline.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.local_id, COALESCE(m.server_id, 0), m.chat_id, m.sender_id, m.receiver_id,
		       m.kind, m.body, m.media_url, m.post_id, m.created_at, m.edited_at,
		       m.deleted, m.sync_status,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.local_id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.LocalID, &r.Message.ServerID, &r.Message.ChatID,
			&r.Message.SenderID, &r.Message.ReceiverID, &r.Message.Kind,
			&r.Message.Body, &r.Message.MediaURL, &r.Message.PostID,
			&r.Message.CreatedAt, &r.Message.EditedAt, &r.Message.Deleted,
			&r.Message.SyncStatus, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

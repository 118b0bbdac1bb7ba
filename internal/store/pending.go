package store

import (
	"database/sql"
	"time"
)

// EnqueueOp adds a pending operation to the upload queue. At most one
// unresolved op exists per (kind, local row): re-enqueueing replaces the
// payload while keeping the original op id and position, so an offline
// like toggled twice coalesces into its final state.
func (db *DB) EnqueueOp(op *PendingOp) error {
	if op.EnqueuedAt == 0 {
		op.EnqueuedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO pending_ops (op_id, kind, local_ref, scope_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, local_ref) DO UPDATE SET
			payload = excluded.payload`,
		op.OpID, op.Kind, op.LocalRef, op.ScopeID, op.Payload, op.EnqueuedAt)
	return err
}

// PendingOps returns the full queue in enqueue order. Global FIFO implies
// FIFO within each scope, which is the ordering the sync worker must honor.
func (db *DB) PendingOps() ([]PendingOp, error) {
	rows, err := db.Query(`
		SELECT op_id, kind, local_ref, scope_id, payload, enqueued_at
		FROM pending_ops ORDER BY enqueued_at ASC, op_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []PendingOp
	for rows.Next() {
		var op PendingOp
		if err := rows.Scan(&op.OpID, &op.Kind, &op.LocalRef, &op.ScopeID, &op.Payload, &op.EnqueuedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetOp returns a pending operation by id.
func (db *DB) GetOp(opID string) (*PendingOp, error) {
	var op PendingOp
	err := db.QueryRow(`
		SELECT op_id, kind, local_ref, scope_id, payload, enqueued_at
		FROM pending_ops WHERE op_id = ?`, opID).
		Scan(&op.OpID, &op.Kind, &op.LocalRef, &op.ScopeID, &op.Payload, &op.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// DeleteOp removes a pending operation once its remote call succeeded or
// was terminally rejected.
func (db *DB) DeleteOp(opID string) error {
	_, err := db.Exec(`DELETE FROM pending_ops WHERE op_id = ?`, opID)
	return err
}

// DeleteOpsForRef removes any pending operation pointing at a local row.
// Used when dedup promotes the row through an independently-polled server
// record, making the queued upload moot.
func (db *DB) DeleteOpsForRef(kind string, localRef int64) error {
	_, err := db.Exec(`DELETE FROM pending_ops WHERE kind = ? AND local_ref = ?`, kind, localRef)
	return err
}

// PendingOpCount returns the queue depth.
func (db *DB) PendingOpCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_ops`).Scan(&count)
	return count, err
}

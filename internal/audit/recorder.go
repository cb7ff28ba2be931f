package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder appends events to the audit trail. Implementations are one-way:
// the caller logs and swallows a Record failure so graph mutations never
// roll back on an audit outage.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// PostgresRecorder writes events into audit_logs.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder returns a recorder backed by the given pool.
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

// Record persists the event.
func (r *PostgresRecorder) Record(ctx context.Context, event Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: recorder not initialised")
	}
	if event.Action == "" || event.Collection == "" || event.ObjectID == "" {
		return errors.New("audit: event requires action/collection/object_id")
	}
	var changes []byte
	if event.Changes != nil {
		var err error
		changes, err = json.Marshal(event.Changes)
		if err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, collection, object_id, detail, changes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		event.ID, event.ActorID, string(event.Action), event.Collection, event.ObjectID, event.Detail, changes, event.At)
	return err
}

// NopRecorder discards events. Useful in tests and when the trail is
// disabled.
type NopRecorder struct{}

// Record does nothing.
func (NopRecorder) Record(context.Context, Event) error { return nil }

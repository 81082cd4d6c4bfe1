package db

import (
	"context"

	"reportly/internal/types"
)

// EventArchiveRepo stores gzip-compressed raw webhook payloads keyed by the
// processor's event id. The archive exists so failed events can be manually
// replayed with full context; ON CONFLICT DO NOTHING keeps replayed
// deliveries from duplicating rows.
type EventArchiveRepo struct {
	db DBTX
}

// NewEventArchiveRepo creates a new EventArchiveRepo backed by the given
// database connection (pool or transaction).
func NewEventArchiveRepo(db DBTX) *EventArchiveRepo {
	return &EventArchiveRepo{db: db}
}

// Store persists one compressed payload. Idempotent on event id.
func (r *EventArchiveRepo) Store(ctx context.Context, eventID, eventType string, compressed []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_event_archive (event_id, event_type, payload_gz, received_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, compressed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive webhook event", err)
	}
	return nil
}

// Fetch returns one archived payload for manual replay.
func (r *EventArchiveRepo) Fetch(ctx context.Context, eventID string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload_gz FROM webhook_event_archive WHERE event_id = $1`,
		eventID,
	).Scan(&payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch archived event", err)
	}
	return payload, nil
}

package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResolutionLastWriteWins is the only resolution policy the engine applies.
const ResolutionLastWriteWins = "last_write_wins"

// Sync history statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
)

// Conflict is a queued write that lost to a newer cloud version.
type Conflict struct {
	ID         string          `db:"id" json:"id"`
	TableName  string          `db:"table_name" json:"table_name"`
	RecordID   string          `db:"record_id" json:"record_id"`
	LocalData  json.RawMessage `db:"local_data" json:"local_data"`
	CloudData  json.RawMessage `db:"cloud_data" json:"cloud_data"`
	Resolution string          `db:"resolution" json:"resolution"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// NewConflict fills in the id, resolution and creation time.
func NewConflict(table, recordID string, local, cloud any) (*Conflict, error) {
	l, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}
	c, err := json.Marshal(cloud)
	if err != nil {
		return nil, err
	}
	return &Conflict{
		ID:         uuid.New().String(),
		TableName:  table,
		RecordID:   recordID,
		LocalData:  l,
		CloudData:  c,
		Resolution: ResolutionLastWriteWins,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// SyncHistory is one drain of the pending queue.
type SyncHistory struct {
	ID           string         `db:"id" json:"id"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at" json:"-"`
	Synced       int            `db:"synced" json:"synced"`
	Conflicts    int            `db:"conflicts" json:"conflicts"`
	Errors       int            `db:"errors" json:"errors"`
	Status       string         `db:"status" json:"status"`
	ErrorMessage sql.NullString `db:"error_message" json:"-"`
}

// MarshalJSON flattens the nullable columns.
func (h SyncHistory) MarshalJSON() ([]byte, error) {
	type alias SyncHistory
	out := struct {
		alias
		CompletedAt  *time.Time `json:"completed_at,omitempty"`
		ErrorMessage string     `json:"error_message,omitempty"`
	}{alias: alias(h)}
	if h.CompletedAt.Valid {
		out.CompletedAt = &h.CompletedAt.Time
	}
	out.ErrorMessage = h.ErrorMessage.String
	return json.Marshal(out)
}

package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"groundzero-sync-service/internal/backend"
)

type Operation string

const (
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case Insert, Update, Delete:
		return true
	}
	return false
}

// PendingOperation is a write that has not been confirmed by the cloud yet.
// It is never mutated once enqueued.
type PendingOperation struct {
	ID             uuid.UUID      `json:"id"`
	Table          string         `json:"table"`
	Operation      Operation      `json:"operation"`
	Payload        backend.Record `json:"payload"`
	LocalUpdatedAt time.Time      `json:"local_updated_at"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
}

// RecordID is the id of the entity the operation targets.
func (op PendingOperation) RecordID() (string, bool) {
	return op.Payload.ID()
}

// Validate checks the invariants enqueue relies on.
func (op PendingOperation) Validate() error {
	if err := backend.CheckTable(op.Table); err != nil {
		return err
	}
	if !op.Operation.Valid() {
		return fmt.Errorf("queue: unknown operation %q", op.Operation)
	}
	if op.Operation != Insert {
		if _, ok := op.RecordID(); !ok {
			return fmt.Errorf("queue: %s on %s needs payload id", op.Operation, op.Table)
		}
	}
	return nil
}

func (op PendingOperation) String() string {
	id, _ := op.RecordID()
	return fmt.Sprintf("%s %s/%s (%s)", op.Operation, op.Table, id, op.ID)
}

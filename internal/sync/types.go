package sync

import (
	"fmt"
	"time"

	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/queue"
)

// Result is the outcome of one drain. Skipped is set when another drain was
// already running and nothing was attempted.
type Result struct {
	Synced      int       `json:"synced"`
	Conflicts   int       `json:"conflicts"`
	Errors      []string  `json:"errors"`
	Skipped     bool      `json:"skipped,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Empty reports whether the drain touched nothing.
func (r Result) Empty() bool {
	return r.Synced == 0 && r.Conflicts == 0 && len(r.Errors) == 0
}

// Status is the aggregated view served to operators.
type Status struct {
	Mode        connection.Mode `json:"mode"`
	Reachable   bool            `json:"reachable"`
	ForcedLAN   bool            `json:"forced_lan"`
	LANEndpoint string          `json:"lan_endpoint"`
	LANHealthy  bool            `json:"lan_healthy"`
	LANSocket   bool            `json:"lan_socket"`
	Pending     int             `json:"pending"`
	Syncing     bool            `json:"syncing"`
	LastResult  *Result         `json:"last_result,omitempty"`
}

// opError formats a per-item failure as "{table}/{operation}: {msg}".
func opError(op queue.PendingOperation, err error) string {
	return fmt.Sprintf("%s/%s: %v", op.Table, op.Operation, err)
}

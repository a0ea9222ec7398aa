// Package backend defines the contracts shared by the cloud and LAN data
// backends: records, query options and the error taxonomy.
package backend

import (
	"context"
	"regexp"
)

// Table names used by the sync layer itself.
const (
	AuditLogsTable      = "audit_logs"
	ConflictEventsTable = "conflict_events"
)

// DefaultTimestampColumn is the server-maintained last-modified column every
// syncable table carries.
const DefaultTimestampColumn = "updated_at"

// Order sorts a fetch by one column.
type Order struct {
	Column    string
	Ascending bool
}

// ILike is a case-insensitive pattern match on one column.
type ILike struct {
	Column  string
	Pattern string
}

// QueryOptions narrows a Fetch. Filters are equality matches.
type QueryOptions struct {
	Filters map[string]any
	OrderBy *Order
	Limit   int
	ILike   *ILike
	IsNull  string
}

// Backend is the read/write surface both the cloud and the LAN server offer.
type Backend interface {
	Fetch(ctx context.Context, table string, opts QueryOptions) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) error
	Update(ctx context.Context, table, id string, patch Record) error
	Delete(ctx context.Context, table, id string) error
}

// CloudBackend adds the point lookup the sync engine needs for conflict checks.
// Get returns ErrNotFound when no row has the id.
type CloudBackend interface {
	Backend
	Get(ctx context.Context, table, id string) (Record, error)
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a table or column name.
func ValidIdentifier(s string) bool {
	return len(s) <= 63 && identRe.MatchString(s)
}

// CheckTable returns a ConfigurationError for table names that are not plain
// lower-case identifiers.
func CheckTable(table string) error {
	if !ValidIdentifier(table) {
		return &ConfigurationError{Field: "table", Reason: "invalid table name " + quote(table)}
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

// Package lanserver is a reference implementation of the on-site fallback
// server: generic table CRUD over MySQL plus a change socket.
package lanserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/database"
)

// ErrUnknownTable is returned for tables the server was not configured with.
var ErrUnknownTable = errors.New("unknown table")

// Repository reads and writes arbitrary rows keyed by an "id" column.
type Repository struct {
	db     *database.Database
	tables map[string]bool
}

// NewRepository serves only the listed tables, or any valid table name when
// the list is empty.
func NewRepository(db *database.Database, tables []string) *Repository {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &Repository{db: db, tables: allowed}
}

func (r *Repository) check(table string) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	if len(r.tables) > 0 && !r.tables[table] {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return nil
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}

func (r *Repository) List(ctx context.Context, table string, filters map[string]string) ([]backend.Record, error) {
	if err := r.check(table); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if !backend.ValidIdentifier(k) {
			return nil, &backend.ConfigurationError{Field: "filter", Reason: "invalid column " + k}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	query := "SELECT * FROM " + quoteIdent(table)
	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		conds := make([]string, len(keys))
		for i, k := range keys {
			conds[i] = quoteIdent(k) + " = ?"
			args = append(args, filters[k])
		}
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return r.query(ctx, query, args...)
}

func (r *Repository) Get(ctx context.Context, table, id string) (backend.Record, error) {
	if err := r.check(table); err != nil {
		return nil, err
	}
	recs, err := r.query(ctx, "SELECT * FROM "+quoteIdent(table)+" WHERE `id` = ?", id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, backend.ErrNotFound
	}
	return recs[0], nil
}

func (r *Repository) Insert(ctx context.Context, table string, rec backend.Record) error {
	if err := r.check(table); err != nil {
		return err
	}
	if len(rec) == 0 {
		return &backend.ConfigurationError{Field: "record", Reason: "empty"}
	}

	cols, args, err := columns(rec)
	if err != nil {
		return err
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), marks)

	_, err = r.db.DB.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) Update(ctx context.Context, table, id string, patch backend.Record) error {
	if err := r.check(table); err != nil {
		return err
	}
	patch = patch.Clone()
	delete(patch, "id")
	if len(patch) == 0 {
		return &backend.ConfigurationError{Field: "patch", Reason: "empty"}
	}

	cols, args, err := columns(patch)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE `id` = ?", quoteIdent(table), strings.Join(sets, ", "))

	res, err := r.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for unchanged rows too; only a missing row is an error.
		if _, gerr := r.Get(ctx, table, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// Delete is idempotent: deleting a missing row succeeds.
func (r *Repository) Delete(ctx context.Context, table, id string) error {
	if err := r.check(table); err != nil {
		return err
	}
	_, err := r.db.DB.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)+" WHERE `id` = ?", id)
	return err
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]backend.Record, error) {
	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []backend.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(backend.Record, len(cols))
		for i, c := range cols {
			rec[c] = normalize(vals[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// columns sorts the record's keys and encodes nested values as JSON text.
func columns(rec backend.Record) ([]string, []any, error) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if !backend.ValidIdentifier(k) {
			return nil, nil, &backend.ConfigurationError{Field: "record", Reason: "invalid column " + k}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = quoteIdent(k)
		switch v := rec[k].(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, nil, err
			}
			args[i] = string(raw)
		default:
			args[i] = v
		}
	}
	return cols, args, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

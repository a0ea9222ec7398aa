package cloud

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"groundzero-sync-service/internal/backend"
)

func ident(name string) (string, error) {
	if !backend.ValidIdentifier(name) {
		return "", &backend.ConfigurationError{Field: "identifier", Reason: fmt.Sprintf("invalid name %q", name)}
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildSelect renders a row_to_json select honouring every QueryOptions field.
func buildSelect(table string, opts backend.QueryOptions) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}

	var (
		sb    strings.Builder
		where []string
		args  []any
	)
	sb.WriteString("SELECT row_to_json(t) FROM ")
	sb.WriteString(tbl)
	sb.WriteString(" AS t")

	for _, k := range sortedKeys(opts.Filters) {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		args = append(args, opts.Filters[k])
		where = append(where, fmt.Sprintf("t.%s = $%d", col, len(args)))
	}
	if opts.ILike != nil {
		col, err := ident(opts.ILike.Column)
		if err != nil {
			return "", nil, err
		}
		args = append(args, opts.ILike.Pattern)
		where = append(where, fmt.Sprintf("t.%s ILIKE $%d", col, len(args)))
	}
	if opts.IsNull != "" {
		col, err := ident(opts.IsNull)
		if err != nil {
			return "", nil, err
		}
		where = append(where, fmt.Sprintf("t.%s IS NULL", col))
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	if opts.OrderBy != nil {
		col, err := ident(opts.OrderBy.Column)
		if err != nil {
			return "", nil, err
		}
		dir := "DESC"
		if opts.OrderBy.Ascending {
			dir = "ASC"
		}
		fmt.Fprintf(&sb, " ORDER BY t.%s %s", col, dir)
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}
	return sb.String(), args, nil
}

func buildGet(table, id string) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	return "SELECT row_to_json(t) FROM " + tbl + ` AS t WHERE t."id" = $1`, []any{id}, nil
}

// buildInsert replays idempotently: a row that already exists is left alone.
func buildInsert(table string, rec backend.Record) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	if len(rec) == 0 {
		return "", nil, fmt.Errorf("insert into %s: empty record", table)
	}

	keys := sortedKeys(rec)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		cols[i] = col
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[k]
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, ok := rec["id"]; ok {
		q += ` ON CONFLICT ("id") DO NOTHING`
	}
	return q, args, nil
}

// buildUpdate never rewrites the id column.
func buildUpdate(table, id string, patch backend.Record) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}

	var (
		sets []string
		args []any
	)
	for _, k := range sortedKeys(patch) {
		if k == "id" {
			continue
		}
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		args = append(args, patch[k])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 {
		return "", nil, fmt.Errorf("update %s/%s: empty patch", table, id)
	}
	args = append(args, id)
	return fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = $%d`, tbl, strings.Join(sets, ", "), len(args)), args, nil
}

func buildDelete(table, id string) (string, []any, error) {
	tbl, err := ident(table)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + tbl + ` WHERE "id" = $1`, []any{id}, nil
}

package backend

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one row, keyed by column name.
type Record map[string]any

// ID returns the record's "id" column as a string.
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case fmt.Stringer:
		s := id.String()
		return s, s != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int, int32, int64:
		return fmt.Sprint(id), true
	}
	return "", false
}

// Timestamp parses the named column as a point in time.
func (r Record) Timestamp(column string) (time.Time, bool) {
	v, ok := r[column]
	if !ok {
		return time.Time{}, false
	}
	return ParseTime(v)
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var textLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime accepts time.Time, RFC3339 strings, Postgres text timestamps and
// Unix milliseconds (numeric or numeric string).
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), !t.IsZero()
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range textLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	return time.Time{}, false
}

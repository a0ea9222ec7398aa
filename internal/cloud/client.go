// Package cloud is the primary hosted backend: a Postgres database reached
// through pgx, with LISTEN/NOTIFY as its native change feed.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"groundzero-sync-service/internal/backend"
)

// DB is the part of *pgxpool.Pool the client uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db   DB
	pool *pgxpool.Pool
}

var _ backend.CloudBackend = (*Client)(nil)

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool, pool: pool}
}

func (c *Client) Fetch(ctx context.Context, table string, opts backend.QueryOptions) ([]backend.Record, error) {
	q, args, err := buildSelect(table, opts)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.Query(ctx, q, args...)
	if err != nil {
		return nil, backend.Transient("cloud fetch "+table, err)
	}
	defer rows.Close()

	out := []backend.Record{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, backend.Transient("cloud fetch "+table, err)
		}
		rec, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("cloud fetch %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Transient("cloud fetch "+table, err)
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, table, id string) (backend.Record, error) {
	q, args, err := buildGet(table, id)
	if err != nil {
		return nil, err
	}

	var raw []byte
	if err := c.db.QueryRow(ctx, q, args...).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, backend.Transient("cloud get "+table, err)
	}
	return decodeRow(raw)
}

func (c *Client) Insert(ctx context.Context, table string, rec backend.Record) error {
	q, args, err := buildInsert(table, rec)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(ctx, q, args...)
	return backend.Transient("cloud insert "+table, err)
}

func (c *Client) Update(ctx context.Context, table, id string, patch backend.Record) error {
	q, args, err := buildUpdate(table, id, patch)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(ctx, q, args...)
	return backend.Transient("cloud update "+table, err)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	q, args, err := buildDelete(table, id)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(ctx, q, args...)
	return backend.Transient("cloud delete "+table, err)
}

// Ping checks the cloud is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.pool == nil {
		return errors.New("cloud: no pool")
	}
	return c.pool.Ping(ctx)
}

func decodeRow(raw []byte) (backend.Record, error) {
	var rec backend.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return rec, nil
}

// Package lan is the HTTP client for the on-site fallback server.
package lan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/connection"
)

const DefaultTimeout = 5 * time.Second

// Client talks to the LAN server at whatever endpoint the controller holds at
// call time. Every request is bounded by the client timeout.
type Client struct {
	state   connection.State
	http    *http.Client
	timeout time.Duration
}

var _ backend.Backend = (*Client)(nil)

func New(state connection.State, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		state:   state,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Fetch only forwards equality filters; the LAN server ignores the other
// query options.
func (c *Client) Fetch(ctx context.Context, table string, opts backend.QueryOptions) ([]backend.Record, error) {
	if err := backend.CheckTable(table); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range opts.Filters {
		q.Set(k, fmt.Sprint(v))
	}

	var out []backend.Record
	if err := c.do(ctx, http.MethodGet, tablePath(table), q, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []backend.Record{}
	}
	return out, nil
}

func (c *Client) Insert(ctx context.Context, table string, rec backend.Record) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, tablePath(table), nil, rec, nil)
}

func (c *Client) Update(ctx context.Context, table, id string, patch backend.Record) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, recordPath(table, id), nil, patch, nil)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	if err := backend.CheckTable(table); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, recordPath(table, id), nil, nil, nil)
}

// Ping succeeds on any HTTP response: an answering server is reachable even
// if it rejects the path.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Transient("lan ping", err)
	}
	resp.Body.Close()
	return nil
}

// SocketURL is the ws(s) address of the LAN server's change socket.
func SocketURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (c *Client) base() string {
	return strings.TrimRight(c.state.LANEndpoint(), "/")
}

func tablePath(table string) string {
	return "/api/" + table
}

func recordPath(table, id string) string {
	return "/api/" + table + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := "lan " + strings.ToLower(method) + " " + path

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(buf)
	}

	target := c.base() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backend.Transient(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

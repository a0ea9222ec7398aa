package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/backend/backendtest"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/database"
	"groundzero-sync-service/internal/dataaccess"
	"groundzero-sync-service/internal/kv"
	"groundzero-sync-service/internal/queue"
	"groundzero-sync-service/internal/realtime"
	"groundzero-sync-service/internal/store"
	"groundzero-sync-service/internal/sync"
)

type testEnv struct {
	server *httptest.Server
	ctrl   *connection.Controller
	cloud  *backendtest.Memory
	dist   *realtime.Distributor
	token  string
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	state, err := kv.NewFileStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, err)
	q := queue.New(state)

	ctrl, err := connection.NewController(ctx, state, connection.Options{
		DefaultLANEndpoint: config.DefaultLANEndpoint,
		InitialReachable:   true,
	})
	require.NoError(t, err)

	db, err := database.NewSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	audit, err := store.NewSQLStore(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	cloud := backendtest.NewMemory()
	lan := backendtest.NewMemory()
	engine := sync.NewEngine(q, cloud, audit, sync.LastWriteWins{TimestampColumn: "updated_at"}, "updated_at")
	manager := sync.NewManager(ctrl, q, engine, nil)
	t.Cleanup(manager.Stop)

	router := dataaccess.NewRouter(ctrl, cloud, lan, q, dataaccess.Options{})
	dist := realtime.NewDistributor(nil, nil, "")
	t.Cleanup(dist.Close)

	h := NewHandler(cfg, manager, ctrl, router, dist, audit)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, ctrl: ctrl, cloud: cloud, dist: dist, token: cfg.AuthToken}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AuthToken: "secret"})
	env.token = ""
	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AuthToken: "secret"})

	resp := env.do(t, http.MethodGet, "/api/v1/mode", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.token = "wrong"
	resp = env.do(t, http.MethodGet, "/api/v1/mode", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestModeEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	snap := decode[connection.Snapshot](t, env.do(t, http.MethodGet, "/api/v1/mode", nil))
	assert.Equal(t, connection.ModeCloud, snap.Mode)
	assert.Equal(t, config.DefaultLANEndpoint, snap.LANEndpoint)

	forced := true
	endpoint := "http://10.0.0.5:3001"
	resp := env.do(t, http.MethodPut, "/api/v1/mode", modeRequest{ForcedLAN: &forced, LANEndpoint: &endpoint})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap = decode[connection.Snapshot](t, resp)
	assert.Equal(t, connection.ModeForcedLAN, snap.Mode)
	assert.Equal(t, endpoint, snap.LANEndpoint)

	bad := "ftp://nowhere"
	resp = env.do(t, http.MethodPut, "/api/v1/mode", modeRequest{LANEndpoint: &bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, endpoint, env.ctrl.LANEndpoint())
}

func TestOfflineWritesSyncOnTrigger(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp := env.do(t, http.MethodPut, "/api/v1/network", networkRequest{Online: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, connection.ModeLAN, env.ctrl.Mode())

	resp = env.do(t, http.MethodPost, "/api/v1/data/camps", map[string]any{"id": "C1", "name": "Hub"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	status := decode[sync.Status](t, env.do(t, http.MethodGet, "/api/v1/sync/status", nil))
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, connection.ModeLAN, status.Mode)

	resp = env.do(t, http.MethodPost, "/api/v1/sync/trigger", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Coming back online drains on its own; trigger afterwards finds nothing.
	env.do(t, http.MethodPut, "/api/v1/network", networkRequest{Online: true})
	require.Eventually(t, func() bool {
		st := decode[sync.Status](t, env.do(t, http.MethodGet, "/api/v1/sync/status", nil))
		return st.Pending == 0 && !st.Syncing
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, env.cloud.Len("camps"))

	resp = env.do(t, http.MethodPost, "/api/v1/sync/trigger", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[sync.Result](t, resp)
	assert.False(t, res.Skipped)

	history := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/sync/history", nil))
	require.NotEmpty(t, history)
	assert.Equal(t, store.StatusCompleted, history[0]["status"])
}

func TestDataEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	env.cloud.Put("shipments", backend.Record{"id": "S1", "status": "pending"})
	env.cloud.Put("shipments", backend.Record{"id": "S2", "status": "delivered"})

	recs := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/data/shipments?status=pending", nil))
	require.Len(t, recs, 1)
	assert.Equal(t, "S1", recs[0]["id"])

	resp := env.do(t, http.MethodPatch, "/api/v1/data/shipments/S1", map[string]any{"status": "delivered"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	row, _ := env.cloud.Row("shipments", "S1")
	assert.Equal(t, "delivered", row["status"])

	resp = env.do(t, http.MethodDelete, "/api/v1/data/shipments/S2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, env.cloud.Len("shipments"))

	resp = env.do(t, http.MethodGet, "/api/v1/data/Bad-Table", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/data/shipments?ilike=nocolon", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConflictsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	conflicts := decode[[]store.Conflict](t, env.do(t, http.MethodGet, "/api/v1/conflicts?table=camps", nil))
	assert.Empty(t, conflicts)
}

func TestQueryOptions(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=open&order=name&ascending=true&limit=5&ilike=name:%25hub%25&is_null=closed_at", nil)
	opts, err := queryOptions(req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "open"}, opts.Filters)
	assert.Equal(t, &backend.Order{Column: "name", Ascending: true}, opts.OrderBy)
	assert.Equal(t, 5, opts.Limit)
	assert.Equal(t, &backend.ILike{Column: "name", Pattern: "%hub%"}, opts.ILike)
	assert.Equal(t, "closed_at", opts.IsNull)
}

func TestRealtimeWebsocket(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/v1/realtime/camps"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.dist.Subscribers("camps") == 1 }, 2*time.Second, 10*time.Millisecond)
	env.dist.Publish(backend.Change{Table: "camps", Type: backend.ChangeUpdate, RecordID: "C1"})

	var got backend.Change
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, "C1", got.RecordID)
	assert.Equal(t, backend.ChangeUpdate, got.Type)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return env.dist.Subscribers("camps") == 0 }, 2*time.Second, 10*time.Millisecond)
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/engine"
	"github.com/dd0wney/rowdb/internal/health"
	"github.com/dd0wney/rowdb/internal/runtime"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.NodeAddr = "127.0.0.1"
	cfg.DataDir = t.TempDir()
	cfg.Network.BeaconPort = 0

	rt, err := runtime.New(&cfg, nil)
	require.NoError(t, err)
	eng := engine.New(rt)
	return NewServer(":0", eng, rt.Metrics, health.NewChecker(), nil)
}

func TestHandleQueryRunsMultipleStatements(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]string{
		"query": "create database shop; create table shop.items; insert into shop.items (name) values('widget')",
	})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []engine.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	for _, r := range resp.Results {
		require.True(t, r.Executed, r.Error)
	}
}

func TestHandleQueryRejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	rec := httptest.NewRecorder()

	s.handleQuery(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.checker.HTTPHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSplitStatementsDropsEmpty(t *testing.T) {
	got := splitStatements("show databases; ; select * from a.b ;")
	require.Equal(t, []string{"show databases", "select * from a.b"}, got)
}

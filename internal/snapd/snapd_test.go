package snapd

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeDaemon serves handler on a unix socket and returns the socket
// path.
func startFakeDaemon(t *testing.T, handler http.Handler) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "snapd.socket")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return socketPath
}

func TestNilClientDegrades(t *testing.T) {
	var client *Client

	assert.False(t, client.Available())
	assert.NoError(t, client.SetProxy(context.Background(), "http://p:3128", ""))

	ok, err := client.RefreshAvailable(context.Background(), "stagehand")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.Refresh(context.Background(), "stagehand")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDiscoverWithoutSocket(t *testing.T) {
	client := Discover(filepath.Join(t.TempDir(), "missing.socket"))
	assert.Nil(t, client)
}

func TestSetProxy(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v2/snaps/system/conf", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"type": "sync", "status-code": 200, "result": nil})
	})

	client := New(startFakeDaemon(t, mux))
	err := client.SetProxy(context.Background(), "http://proxy:3128", "http://proxy:3129")
	require.NoError(t, err)

	assert.Equal(t, "http://proxy:3128", gotBody["proxy.http"])
	assert.Equal(t, "http://proxy:3129", gotBody["proxy.https"])
}

func TestRefreshAvailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/find", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "refresh", r.URL.Query().Get("select"))
		json.NewEncoder(w).Encode(map[string]any{
			"type":        "sync",
			"status-code": 200,
			"result":      []map[string]any{{"name": "stagehand"}, {"name": "core22"}},
		})
	})

	client := New(startFakeDaemon(t, mux))

	ok, err := client.RefreshAvailable(context.Background(), "stagehand")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.RefreshAvailable(context.Background(), "other-snap")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshReturnsChangeID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/snaps/stagehand", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh", body["action"])
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"type": "async", "status-code": 202, "change": "42"})
	})
	mux.HandleFunc("GET /v2/changes/42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"type":        "sync",
			"status-code": 200,
			"result":      map[string]any{"status": "Done"},
		})
	})

	client := New(startFakeDaemon(t, mux))

	changeID, err := client.Refresh(context.Background(), "stagehand")
	require.NoError(t, err)
	assert.Equal(t, "42", changeID)

	status, err := client.ChangeStatus(context.Background(), changeID)
	require.NoError(t, err)
	assert.Equal(t, "Done", status)
}

func TestSwitchChannel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/snaps/stagehand", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "switch", body["action"])
		assert.Equal(t, "latest/edge", body["channel"])
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"type": "async", "status-code": 202, "change": "7"})
	})

	client := New(startFakeDaemon(t, mux))

	changeID, err := client.Switch(context.Background(), "stagehand", "latest/edge")
	require.NoError(t, err)
	assert.Equal(t, "7", changeID)
}

func TestErrorStatusSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"type": "error", "status-code": 404})
	})

	client := New(startFakeDaemon(t, mux))
	_, err := client.Refresh(context.Background(), "stagehand")
	assert.Error(t, err)
}

package statestore

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New("/var/lib/stagehand", WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	return store
}

func TestStoreTextRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteText(ServerStateFile, "Waiting"))

	got, err := store.ReadText(ServerStateFile)
	require.NoError(t, err)
	assert.Equal(t, "Waiting", got)
}

func TestStoreTrimsTrailingNewline(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteText(ServerStateFile, "Running\n"))

	got, err := store.ReadText(ServerStateFile)
	require.NoError(t, err)
	assert.Equal(t, "Running", got)
}

func TestStoreJSONRoundTrip(t *testing.T) {
	store := newTestStore(t)

	type progress struct {
		Configured bool   `json:"configured"`
		Layout     string `json:"layout"`
	}

	require.NoError(t, store.WriteJSON("keyboard.json", progress{Configured: true, Layout: "us"}))

	var got progress
	require.NoError(t, store.ReadJSON("keyboard.json", &got))
	assert.Equal(t, progress{Configured: true, Layout: "us"}, got)
}

func TestStoreStamp(t *testing.T) {
	store := newTestStore(t)

	assert.False(t, store.Exists(EarlyCommandsStamp))
	require.NoError(t, store.Stamp(EarlyCommandsStamp))
	assert.True(t, store.Exists(EarlyCommandsStamp))
}

func TestStoreReadMissingFact(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ReadText(InstallerUserFile)
	assert.Error(t, err)
}

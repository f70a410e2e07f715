package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/types"
)

func newRecordedShutdown(rt *Runtime) (*ShutdownController, chan string) {
	verbs := make(chan string, 2)
	shutdown := NewShutdownController(rt, WithSystemctl(func(ctx context.Context, verb string) error {
		verbs <- verb
		return nil
	}))
	return shutdown, verbs
}

func TestShutdownAutoFiresWhenUnattended(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\n")

	shutdown, verbs := newRecordedShutdown(rt)
	require.NoError(t, shutdown.Start(context.Background()))
	require.NoError(t, rt.State.Transition(types.StateDone))

	select {
	case verb := <-verbs:
		assert.Equal(t, "reboot", verb)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown never fired")
	}
}

func TestShutdownInteractiveWaitsForClient(t *testing.T) {
	rt := newTestRuntime(t)

	shutdown, verbs := newRecordedShutdown(rt)
	require.NoError(t, shutdown.Start(context.Background()))
	require.NoError(t, rt.State.Transition(types.StateDone))

	select {
	case verb := <-verbs:
		t.Fatalf("interactive run shut down by itself: %s", verb)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, shutdown.SetData(context.Background(), json.RawMessage(`{"mode": "poweroff"}`)))
	select {
	case verb := <-verbs:
		assert.Equal(t, "poweroff", verb)
	case <-time.After(5 * time.Second):
		t.Fatal("client request did not shut down")
	}
}

func TestShutdownNeverFiresOnError(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\n")

	shutdown, verbs := newRecordedShutdown(rt)
	require.NoError(t, shutdown.Start(context.Background()))
	require.NoError(t, rt.State.Transition(types.StateError))

	select {
	case verb := <-verbs:
		t.Fatalf("failed run shut down: %s", verb)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestShutdownFiresOnce(t *testing.T) {
	rt := newTestRuntime(t)

	shutdown, verbs := newRecordedShutdown(rt)
	require.NoError(t, shutdown.SetData(context.Background(), json.RawMessage(`{}`)))
	require.NoError(t, shutdown.SetData(context.Background(), json.RawMessage(`{}`)))

	assert.Len(t, verbs, 1)
}

func TestShutdownModeFromSection(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\nshutdown: poweroff\n")

	shutdown, _ := newRecordedShutdown(rt)
	require.NoError(t, shutdown.SetupAutoinstall(context.Background()))

	assert.Equal(t, ShutdownPoweroff, shutdown.Mode())
	assert.Equal(t, "poweroff", shutdown.MakeAutoinstall())

	data, err := shutdown.GetData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ShutdownData{Mode: ShutdownPoweroff}, data)
}

func TestShutdownRejectsBadMode(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\nshutdown: halt\n")

	shutdown, verbs := newRecordedShutdown(rt)
	assert.Error(t, shutdown.SetupAutoinstall(context.Background()))

	var apiErr *types.APIError
	err := shutdown.SetData(context.Background(), json.RawMessage(`{"mode": "halt"}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Empty(t, verbs, "a rejected request must not shut down")
}

func TestShutdownDryRunExits(t *testing.T) {
	rt := newTestRuntime(t)
	rt.DryRun = true

	exits := make(chan struct{}, 1)
	rt.Exit = func() { exits <- struct{}{} }

	shutdown, verbs := newRecordedShutdown(rt)
	require.NoError(t, shutdown.SetData(context.Background(), json.RawMessage(`{}`)))

	select {
	case <-exits:
	default:
		t.Fatal("dry-run shutdown must exit the server")
	}
	assert.Empty(t, verbs, "dry runs never touch systemctl")
}

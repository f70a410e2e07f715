package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/pkg/logger"
	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/autoinstall"
	"github.com/provisionhq/stagehand/internal/eventhub"
	"github.com/provisionhq/stagehand/internal/models"
	"github.com/provisionhq/stagehand/internal/statemachine"
	"github.com/provisionhq/stagehand/internal/statestore"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	store, err := statestore.New("/state", statestore.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	return &Runtime{
		Logger: logger.NewDiscardLogger(),
		State:  statemachine.New(),
		Models: models.NewTracker(),
		Hub:    eventhub.New(),
		Store:  store,
	}
}

func loadAutoinstall(t *testing.T, rt *Runtime, doc string) {
	t.Helper()
	cfg, err := autoinstall.Load([]byte(doc))
	require.NoError(t, err)
	rt.SetAutoinstall(cfg)
}

func TestInteractivityDerivation(t *testing.T) {
	tests := []struct {
		name         string
		doc          string
		wantLocale   bool
		wantKeyboard bool
	}{
		{
			name:       "no config means fully interactive",
			wantLocale: true, wantKeyboard: true,
		},
		{
			name:       "config without interactive sections means unattended",
			doc:        "version: 1\n",
			wantLocale: false, wantKeyboard: false,
		},
		{
			name:       "named sections are interactive",
			doc:        "version: 1\ninteractive-sections: [locale]\n",
			wantLocale: true, wantKeyboard: false,
		},
		{
			name:       "wildcard covers every keyed stage",
			doc:        "version: 1\ninteractive-sections: ['*']\n",
			wantLocale: true, wantKeyboard: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t)
			if tt.doc != "" {
				loadAutoinstall(t, rt, tt.doc)
			}
			locale := NewLocaleController(rt)
			keyboard := NewKeyboardController(rt)
			install := NewInstallController(rt)

			assert.Equal(t, tt.wantLocale, locale.Interactive())
			assert.Equal(t, tt.wantKeyboard, keyboard.Interactive())
			assert.False(t, install.Interactive(), "the install stage is never driven by a client")
		})
	}
}

func TestBaseWithoutEndpointRejectsData(t *testing.T) {
	rt := newTestRuntime(t)
	early := NewEarlyController(rt)

	var apiErr *types.APIError
	_, err := early.GetData(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	err = early.SetData(context.Background(), json.RawMessage(`{}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRuntimeInteractive(t *testing.T) {
	rt := newTestRuntime(t)
	assert.True(t, rt.Interactive(), "no config means interactive")

	loadAutoinstall(t, rt, "version: 1\n")
	assert.False(t, rt.Interactive())

	rt = newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\ninteractive-sections: [ssh]\n")
	assert.True(t, rt.Interactive())
}

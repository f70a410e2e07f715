package controllers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryStageOrder(t *testing.T) {
	rt := newTestRuntime(t)
	r := NewRegistry(rt)

	var names []string
	for _, c := range r.All() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{
		"early", "reporting", "error", "locale", "refresh", "keyboard",
		"source", "network", "proxy", "mirror", "storage", "identity",
		"ssh", "timezone", "install", "updates", "late", "shutdown",
	}, names)
}

func TestRegistryLookups(t *testing.T) {
	rt := newTestRuntime(t)
	r := NewRegistry(rt)

	locale, err := r.ByName("locale")
	require.NoError(t, err)
	assert.Equal(t, "locale", locale.Name())

	_, err = r.ByName("partitioning")
	assert.ErrorContains(t, err, `no stage named "partitioning"`)

	storage, err := r.ByEndpoint("storage")
	require.NoError(t, err)
	assert.Equal(t, "filesystem", storage.ModelName())

	_, err = r.ByEndpoint("install")
	assert.ErrorContains(t, err, "no stage serving endpoint")

	install, err := r.ByName("install")
	require.NoError(t, err)
	assert.Empty(t, install.Endpoint())

	assert.Equal(t, []string{
		"locale", "refresh", "keyboard", "source", "network", "proxy",
		"mirror", "storage", "identity", "ssh", "timezone", "updates",
		"shutdown",
	}, r.Endpoints())
}

func TestRegistryMakeAutoinstall(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, `version: 1
locale: fr_FR.UTF-8
early-commands:
  - echo starting
`)

	r := NewRegistry(rt)
	require.NoError(t, r.SetupAutoinstall(context.Background()))

	out := r.MakeAutoinstall()
	assert.Equal(t, 1, out["version"])
	assert.Equal(t, "fr_FR.UTF-8", out["locale"])
	assert.NotNil(t, out["early-commands"])
	assert.NotContains(t, out, "keyboard", "untouched stages contribute nothing")
	assert.NotContains(t, out, "ssh")
}

func TestApplyAutoinstallSkipsInteractiveStages(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, `version: 1
locale: fr_FR.UTF-8
keyboard:
  layout: de
interactive-sections:
  - locale
`)

	r := NewRegistry(rt)
	require.NoError(t, r.SetupAutoinstall(context.Background()))
	require.NoError(t, r.ApplyAutoinstall(context.Background()))

	assert.True(t, rt.Models.IsConfigured("keyboard"))
	assert.True(t, rt.Models.IsConfigured("filesystem"), "defaulted stages still configure")
	assert.False(t, rt.Models.IsConfigured("locale"), "interactive stages wait for a client")

	locale, err := r.ByName("locale")
	require.NoError(t, err)
	assert.Equal(t, "fr_FR.UTF-8", locale.(*LocaleController).Locale(),
		"interactive stages still ingest their section as the starting value")
}

func TestInteractiveSectionsExpansion(t *testing.T) {
	t.Run("no config", func(t *testing.T) {
		rt := newTestRuntime(t)
		r := NewRegistry(rt)
		assert.Nil(t, r.InteractiveSections())
	})

	t.Run("explicit list passes through", func(t *testing.T) {
		rt := newTestRuntime(t)
		loadAutoinstall(t, rt, "version: 1\ninteractive-sections:\n  - ssh\n  - identity\n")
		r := NewRegistry(rt)
		assert.Equal(t, []string{"ssh", "identity"}, r.InteractiveSections())
	})

	t.Run("wildcard expands to keyed interactive stages", func(t *testing.T) {
		rt := newTestRuntime(t)
		loadAutoinstall(t, rt, "version: 1\ninteractive-sections:\n  - '*'\n")
		r := NewRegistry(rt)
		assert.Equal(t, []string{
			"locale", "refresh-installer", "keyboard", "source", "network",
			"proxy", "mirror", "storage", "identity", "ssh", "timezone",
			"updates",
		}, r.InteractiveSections())
	})

	t.Run("wildcard in a longer list is a literal name", func(t *testing.T) {
		rt := newTestRuntime(t)
		loadAutoinstall(t, rt, "version: 1\ninteractive-sections:\n  - locale\n  - '*'\n")
		r := NewRegistry(rt)
		assert.Equal(t, []string{"locale", "*"}, r.InteractiveSections())
	})
}

func TestMarkConfigured(t *testing.T) {
	rt := newTestRuntime(t)
	r := NewRegistry(rt)

	require.NoError(t, r.MarkConfigured(context.Background(), []string{"locale", "ssh"}))
	assert.True(t, rt.Models.IsConfigured("locale"))
	assert.True(t, rt.Models.IsConfigured("ssh"))

	err := r.MarkConfigured(context.Background(), []string{"keyboard", "bogus"})
	require.Error(t, err)
	assert.False(t, rt.Models.IsConfigured("keyboard"), "unknown names fail before any stage is touched")
}

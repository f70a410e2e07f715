package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/types"
)

func TestSetForVariant(t *testing.T) {
	set := NewSet([]string{"network", "source"}, map[types.Variant][]string{
		types.VariantDesktop: {"timezone"},
	})

	server := set.ForVariant(types.VariantServer)
	assert.True(t, server["network"])
	assert.False(t, server["timezone"])

	desktop := set.ForVariant(types.VariantDesktop)
	assert.True(t, desktop["timezone"])
}

func TestIsPostinstallOnlyDependsOnVariant(t *testing.T) {
	tracker := NewTracker(WithVariant(types.VariantServer))

	assert.True(t, tracker.IsPostinstallOnly("identity"))
	assert.True(t, tracker.IsPostinstallOnly("timezone"), "timezone is post-install for server")
	assert.False(t, tracker.IsPostinstallOnly("network"))
	assert.False(t, tracker.IsPostinstallOnly("install"), "unknown models are not post-install only")

	tracker.SetVariant(types.VariantDesktop)
	assert.False(t, tracker.IsPostinstallOnly("timezone"), "timezone moves to the install phase for desktop")
}

func TestConfiguredIsIdempotent(t *testing.T) {
	tracker := NewTracker()

	tracker.Configured("network")
	tracker.Configured("network")
	assert.True(t, tracker.IsConfigured("network"))
	assert.False(t, tracker.IsConfigured("source"))
}

func TestWaitInstallConfigured(t *testing.T) {
	tracker := NewTracker(WithVariant(types.VariantServer))

	done := make(chan struct{})
	go func() {
		require.NoError(t, tracker.WaitInstallConfigured(context.Background()))
		close(done)
	}()

	for _, name := range []string{"filesystem", "keyboard", "mirror", "network", "proxy"} {
		tracker.Configured(name)
	}

	select {
	case <-done:
		t.Fatal("released before the last install model was configured")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, tracker.InstallConfigured())

	tracker.Configured("source")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not released after the install set completed")
	}
	assert.True(t, tracker.InstallConfigured())
}

func TestConfirmReleasesWaiter(t *testing.T) {
	tracker := NewTracker()

	done := make(chan struct{})
	go func() {
		require.NoError(t, tracker.WaitConfirmation(context.Background()))
		close(done)
	}()

	assert.False(t, tracker.Confirmed())
	tracker.Confirm()
	tracker.Confirm()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("confirmation did not release the waiter")
	}
	assert.True(t, tracker.Confirmed())
}

func TestWaitHonorsContext(t *testing.T) {
	tracker := NewTracker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := tracker.WaitConfirmation(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

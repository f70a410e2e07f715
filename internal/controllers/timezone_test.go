package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/geoip"
)

type failingLookup struct{}

func (failingLookup) Fetch(ctx context.Context) ([]byte, error) {
	return nil, errors.New("no route to lookup service")
}

func TestTimezoneGeoIPResolution(t *testing.T) {
	rt := newTestRuntime(t)
	rt.GeoIP = staticGeoIP(geoipBerlin)
	loadAutoinstall(t, rt, "version: 1\ntimezone: geoip\n")

	tz := NewTimezoneController(rt)
	require.NoError(t, tz.SetupAutoinstall(context.Background()))
	assert.Empty(t, tz.Data().Timezone, "lookup waits for the apply phase")

	require.NoError(t, tz.ApplyAutoinstall(context.Background()))
	assert.Equal(t, TimezoneData{Timezone: "Europe/Berlin", FromGeoIP: true}, tz.Data())

	assert.Equal(t, "geoip", tz.MakeAutoinstall(), "a geoip request round-trips as geoip")
}

func TestTimezoneGeoIPFallsBackToUTC(t *testing.T) {
	rt := newTestRuntime(t)
	rt.GeoIP = geoip.New(geoip.WithStrategy(failingLookup{}))
	loadAutoinstall(t, rt, "version: 1\ntimezone: geoip\n")

	tz := NewTimezoneController(rt)
	require.NoError(t, tz.SetupAutoinstall(context.Background()))
	require.NoError(t, tz.ApplyAutoinstall(context.Background()))

	assert.Equal(t, TimezoneData{Timezone: "Etc/UTC", FromGeoIP: true}, tz.Data())
}

func TestTimezoneExplicitValue(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\ntimezone: Europe/Paris\n")

	tz := NewTimezoneController(rt)
	require.NoError(t, tz.SetupAutoinstall(context.Background()))
	require.NoError(t, tz.ApplyAutoinstall(context.Background()))

	assert.Equal(t, TimezoneData{Timezone: "Europe/Paris"}, tz.Data())
	assert.Equal(t, "Europe/Paris", tz.MakeAutoinstall())
}

func TestTimezoneRejectsBadSection(t *testing.T) {
	rt := newTestRuntime(t)
	loadAutoinstall(t, rt, "version: 1\ntimezone: not a zone\n")

	tz := NewTimezoneController(rt)
	assert.Error(t, tz.SetupAutoinstall(context.Background()))
}

func TestTimezoneSetData(t *testing.T) {
	rt := newTestRuntime(t)
	rt.GeoIP = staticGeoIP(geoipBerlin)
	tz := NewTimezoneController(rt)

	require.NoError(t, tz.SetData(context.Background(), json.RawMessage(`"geoip"`)))
	assert.Equal(t, TimezoneData{Timezone: "Europe/Berlin", FromGeoIP: true}, tz.Data())
	assert.True(t, rt.Models.IsConfigured("timezone"))

	require.NoError(t, tz.SetData(context.Background(), json.RawMessage(`"America/Sao_Paulo"`)))
	assert.Equal(t, TimezoneData{Timezone: "America/Sao_Paulo"}, tz.Data())

	require.NoError(t, tz.SetData(context.Background(), json.RawMessage(`""`)))
	assert.Empty(t, tz.Data().Timezone, "an empty request clears the choice")

	var apiErr *types.APIError
	err := tz.SetData(context.Background(), json.RawMessage(`"not a zone"`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestTimezoneGetDataResolvesLazily(t *testing.T) {
	rt := newTestRuntime(t)
	rt.GeoIP = staticGeoIP(geoipBerlin)
	loadAutoinstall(t, rt, "version: 1\ntimezone: geoip\n")

	tz := NewTimezoneController(rt)
	require.NoError(t, tz.SetupAutoinstall(context.Background()))

	got, err := tz.GetData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TimezoneData{Timezone: "Europe/Berlin", FromGeoIP: true}, got)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/autoinstall"
	"github.com/provisionhq/stagehand/internal/controllers"
	"github.com/provisionhq/stagehand/internal/eventhub"
	"github.com/provisionhq/stagehand/internal/models"
	"github.com/provisionhq/stagehand/internal/report"
	"github.com/provisionhq/stagehand/internal/statemachine"
	"github.com/provisionhq/stagehand/internal/statestore"
)

// fakeOrchestrator answers the meta endpoints from the shared runtime
// without a real server run behind them.
type fakeOrchestrator struct {
	rt *controllers.Runtime

	mu       sync.Mutex
	tty      string
	restarts int
	sshInfo  *types.SSHInfo
}

func (f *fakeOrchestrator) Status() types.ApplicationStatus {
	return types.ApplicationStatus{State: f.rt.State.CurrentState()}
}

func (f *fakeOrchestrator) Confirm(ctx context.Context, tty string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tty = tty
	f.rt.Models.Confirm()
	return nil
}

func (f *fakeOrchestrator) RequestRestart() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
}

func (f *fakeOrchestrator) SSHInfo(ctx context.Context) (*types.SSHInfo, error) {
	return f.sshInfo, nil
}

type testAPI struct {
	api      *API
	rt       *controllers.Runtime
	registry *controllers.Registry
	store    *statestore.Store
	reports  *report.Reporter
	orch     *fakeOrchestrator
	router   *mux.Router
}

// newTestAPI builds the API over an in-memory state directory. doc is the
// autoinstall document for the run, "" for a fully interactive one.
func newTestAPI(t *testing.T, doc string) *testAPI {
	t.Helper()

	fsys := afero.NewMemMapFs()
	store, err := statestore.New("/state", statestore.WithFs(fsys))
	require.NoError(t, err)
	reports, err := report.NewReporter("/state/crashes", report.WithFs(fsys))
	require.NoError(t, err)

	rt := &controllers.Runtime{
		State:   statemachine.New(),
		Models:  models.NewTracker(),
		Hub:     eventhub.New(),
		Store:   store,
		Reports: reports,
	}
	if doc != "" {
		cfg, err := autoinstall.Load([]byte(doc))
		require.NoError(t, err)
		rt.SetAutoinstall(cfg)
	}

	registry := controllers.NewRegistry(rt)
	orch := &fakeOrchestrator{rt: rt}
	a, err := New(orch, registry, rt)
	require.NoError(t, err)

	router := mux.NewRouter()
	a.RegisterRoutes(router)

	return &testAPI{
		api:      a,
		rt:       rt,
		registry: registry,
		store:    store,
		reports:  reports,
		orch:     orch,
		router:   router,
	}
}

func (ta *testAPI) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

var viewHeaders = map[string]string{HeaderMakeViewRequest: "yes"}

func TestGateSkipsNonInteractiveStageViews(t *testing.T) {
	ta := newTestAPI(t, "version: 1\n")

	rec := ta.do(t, "GET", "/identity", "", viewHeaders)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skip", rec.Header().Get(HeaderStatus))
	assert.JSONEq(t, `{}`, rec.Body.String(), "the stage handler must not answer a skipped view")
}

func TestGateServesInteractiveStageViews(t *testing.T) {
	ta := newTestAPI(t, "version: 1\ninteractive-sections: [identity]\n")

	rec := ta.do(t, "GET", "/identity", "", viewHeaders)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderStatus))
	assert.NotEqual(t, "{}", strings.TrimSpace(rec.Body.String()), "the stage handler should have answered")
}

func TestGateDemandsConfirmationForPostinstallViews(t *testing.T) {
	// Fully interactive run parked at the confirmation gate.
	ta := newTestAPI(t, "")
	require.NoError(t, ta.rt.State.Transition(types.StateNeedsConfirmation))

	// Identity is configured after the point of no return, so its view has
	// to wait for the confirmation.
	rec := ta.do(t, "GET", "/identity", "", viewHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirm", rec.Header().Get(HeaderStatus))
	assert.JSONEq(t, `{}`, rec.Body.String(), "the stage handler must not answer while confirmation is pending")

	// Keyboard belongs to the pre-confirmation phase and stays reachable.
	rec = ta.do(t, "GET", "/keyboard", "", viewHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderStatus))
}

func TestGateConfirmMarkerClearsAfterConfirmation(t *testing.T) {
	ta := newTestAPI(t, "")
	require.NoError(t, ta.rt.State.Transition(types.StateNeedsConfirmation))

	rec := ta.do(t, "GET", "/identity", "", viewHeaders)
	require.Equal(t, "confirm", rec.Header().Get(HeaderStatus))

	require.NoError(t, ta.rt.State.Transition(types.StateRunning))

	rec = ta.do(t, "GET", "/identity", "", viewHeaders)
	assert.Empty(t, rec.Header().Get(HeaderStatus))
}

func TestGateTurnsPanicsIntoErrorReports(t *testing.T) {
	ta := newTestAPI(t, "")
	ta.router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("wires crossed")
	}).Methods("GET")

	rec := ta.do(t, "GET", "/boom", "", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code, "a crashed handler still answers")

	var apiErr types.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Contains(t, apiErr.Message, "wires crossed")

	var ref types.ErrorReportRef
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get(HeaderErrorReport)), &ref))
	assert.Equal(t, types.ErrorReportKindServerRequestFail, ref.Kind)

	reports := ta.reports.List()
	require.Len(t, reports, 1, "exactly one report per fault")
	_, ok := ta.reports.Get(ref.Ref)
	assert.True(t, ok, "the referenced report must be retrievable")

	rec = ta.do(t, "GET", "/errors/"+ref.Ref, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateAnnotatesSelfUpdate(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "GET", "/meta/status", "", nil)
	assert.Equal(t, "no", rec.Header().Get(HeaderUpdated))

	require.NoError(t, ta.store.Stamp(statestore.UpdatedStamp))

	rec = ta.do(t, "GET", "/meta/status", "", nil)
	assert.Equal(t, "yes", rec.Header().Get(HeaderUpdated))
}

func TestStatusLongPollReleasesOnTransition(t *testing.T) {
	ta := newTestAPI(t, "")
	srv := httptest.NewServer(ta.router)
	defer srv.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	done := make(chan types.ApplicationStatus, 1)
	go func() {
		resp, err := client.Get(srv.URL + "/meta/status?cur=" + string(types.StateStartingUp))
		if err != nil {
			close(done)
			return
		}
		defer resp.Body.Close()
		var status types.ApplicationStatus
		if json.NewDecoder(resp.Body).Decode(&status) == nil {
			done <- status
		} else {
			close(done)
		}
	}()

	// Give the poller time to block before the transition releases it.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ta.rt.State.Transition(types.StateCloudInitWait))

	select {
	case status, ok := <-done:
		require.True(t, ok, "long poll failed")
		assert.Equal(t, types.StateCloudInitWait, status.State)
	case <-time.After(5 * time.Second):
		t.Fatal("long poll never released after the transition")
	}
}

func TestStatusRejectsUnknownPollState(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "GET", "/meta/status?cur=Daydreaming", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmRecordsTTYAndAnswersStatus(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "POST", "/meta/confirm", `{"tty":"/dev/tty1"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/dev/tty1", ta.orch.tty)
	assert.True(t, ta.rt.Models.Confirmed())
}

func TestRestartEndpointForwardsToOrchestrator(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "POST", "/meta/restart", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ta.orch.restarts)
}

func TestMarkConfiguredByEndpointName(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "POST", "/meta/mark-configured", `{"endpoint_names":["locale","keyboard"]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ta.rt.Models.IsConfigured("locale"))
	assert.True(t, ta.rt.Models.IsConfigured("keyboard"))

	rec = ta.do(t, "POST", "/meta/mark-configured", `{"endpoint_names":["nonesuch"]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientVariantRoundTrip(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "GET", "/meta/client-variant", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf("%q", types.VariantServer), rec.Body.String())

	rec = ta.do(t, "POST", "/meta/client-variant", `{"variant":"desktop"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.VariantDesktop, ta.rt.Models.Variant())

	rec = ta.do(t, "POST", "/meta/client-variant", `{"variant":"toaster"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInteractiveSectionsExpandedPerRequest(t *testing.T) {
	ta := newTestAPI(t, "version: 1\ninteractive-sections: ['*']\n")

	rec := ta.do(t, "GET", "/meta/interactive-sections", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sections []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sections))
	assert.Contains(t, sections, "identity")
	assert.Contains(t, sections, "keyboard")
	assert.NotContains(t, sections, "early-commands", "forced non-interactive stages never expand")
}

func TestSSHInfoEndpoint(t *testing.T) {
	ta := newTestAPI(t, "")
	ta.orch.sshInfo = &types.SSHInfo{
		Username:     "installer",
		PasswordKind: types.PasswordKindKnown,
		Password:     "plungerduck",
	}

	rec := ta.do(t, "GET", "/meta/ssh-info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info types.SSHInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "installer", info.Username)
	assert.Equal(t, types.PasswordKindKnown, info.PasswordKind)
}

func TestFreeOnlyToggle(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "GET", "/meta/free-only", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "false", rec.Body.String())

	rec = ta.do(t, "POST", "/meta/free-only", `{"enable":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", rec.Body.String())
	assert.True(t, ta.registry.Mirror().FreeOnly())
}

func TestStageConfiguredEndpoint(t *testing.T) {
	ta := newTestAPI(t, "")

	rec := ta.do(t, "POST", "/locale/configured", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ta.rt.Models.IsConfigured("locale"))
}

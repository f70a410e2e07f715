package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/controllers"
	"github.com/provisionhq/stagehand/internal/statestore"
)

const (
	// HeaderMakeViewRequest marks requests made on behalf of a client view.
	// The gate answers those for stages the client should not show.
	HeaderMakeViewRequest = "x-make-view-request"
	// HeaderStatus carries the gate's answer: "skip" or "confirm".
	HeaderStatus = "x-status"
	// HeaderUpdated reports whether the server binary has self-updated.
	HeaderUpdated = "x-updated"
	// HeaderErrorReport carries the reference of a report synthesized for a
	// crashed handler.
	HeaderErrorReport = "x-error-report"
)

const (
	viewStatusSkip    = "skip"
	viewStatusConfirm = "confirm"
)

// gate fronts every route. It short-circuits view requests for stages the
// client should skip or confirm first, annotates self-update awareness, and
// turns handler panics into error reports instead of dropped connections.
func (a *API) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stage := a.endpointStage(r)

		defer func() {
			cause := recover()
			if cause == nil {
				return
			}
			err := fmt.Errorf("handler panic: %v", cause)
			a.logError(r, err, "request handler panicked")
			if a.rt.Reports != nil {
				name := ""
				if stage != nil {
					name = stage.Name()
				}
				rep := a.rt.Reports.Make(types.ErrorReportKindServerRequestFail, name, false, err)
				if refJSON, marshalErr := json.Marshal(rep.Ref()); marshalErr == nil {
					w.Header().Set(HeaderErrorReport, string(refJSON))
				}
			}
			a.jsonError(w, r, types.NewInternalServerError(err))
		}()

		if a.rt.Store != nil {
			updated := "no"
			if a.rt.Store.Exists(statestore.UpdatedStamp) {
				updated = "yes"
			}
			w.Header().Set(HeaderUpdated, updated)
		}

		if stage != nil && r.Header.Get(HeaderMakeViewRequest) == "yes" {
			if status := a.viewStatus(stage); status != "" {
				w.Header().Set(HeaderStatus, status)
				a.json(w, r, http.StatusOK, struct{}{})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// endpointStage resolves the stage addressed by the request path, nil when
// the first path segment is not a served stage endpoint.
func (a *API) endpointStage(r *http.Request) controllers.Controller {
	seg := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if seg == "" {
		return nil
	}
	stage, err := a.registry.ByEndpoint(seg)
	if err != nil {
		return nil
	}
	return stage
}

// viewStatus decides whether a client view for the stage should be shown at
// all. Non-interactive stages are skipped outright. While the run is parked
// at NeedsConfirmation, the first postinstall-only screen the client walks
// to must show the confirmation instead.
func (a *API) viewStatus(stage controllers.Controller) string {
	if !stage.Interactive() {
		return viewStatusSkip
	}
	if a.rt.State.CurrentState() == types.StateNeedsConfirmation &&
		stage.ModelName() != "" &&
		a.rt.Models.IsPostinstallOnly(stage.ModelName()) {
		return viewStatusConfirm
	}
	return ""
}

package api

import (
	"net/http"

	"github.com/provisionhq/stagehand/api/types"
)

// getStatus serves the run snapshot. With ?cur=<state> it long-polls:
// the response is held until the state differs from cur, so clients track
// progress without busy-waiting.
func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	if cur := r.URL.Query().Get("cur"); cur != "" {
		from := types.ApplicationState(cur)
		if err := types.ValidateApplicationState(from); err != nil {
			a.jsonError(w, r, types.NewBadRequestError(err))
			return
		}
		if _, err := a.rt.State.Wait(r.Context(), from); err != nil {
			a.logError(r, err, "status wait interrupted")
			a.jsonError(w, r, err)
			return
		}
	}
	a.json(w, r, http.StatusOK, a.server.Status())
}

func (a *API) postConfirm(w http.ResponseWriter, r *http.Request) {
	var request types.ConfirmRequest
	if err := a.bindJSON(w, r, &request); err != nil {
		return
	}
	if err := a.server.Confirm(r.Context(), request.TTY); err != nil {
		a.logError(r, err, "failed to confirm installation")
		a.jsonError(w, r, err)
		return
	}
	a.json(w, r, http.StatusOK, a.server.Status())
}

func (a *API) postRestart(w http.ResponseWriter, r *http.Request) {
	a.server.RequestRestart()
	a.json(w, r, http.StatusOK, struct{}{})
}

func (a *API) postMarkConfigured(w http.ResponseWriter, r *http.Request) {
	var request types.MarkConfiguredRequest
	if err := a.bindJSON(w, r, &request); err != nil {
		return
	}
	if err := a.registry.MarkConfigured(r.Context(), request.EndpointNames); err != nil {
		a.logError(r, err, "failed to mark endpoints configured")
		a.jsonError(w, r, types.NewBadRequestError(err))
		return
	}
	a.json(w, r, http.StatusOK, struct{}{})
}

func (a *API) getClientVariant(w http.ResponseWriter, r *http.Request) {
	a.json(w, r, http.StatusOK, a.rt.Models.Variant())
}

func (a *API) postClientVariant(w http.ResponseWriter, r *http.Request) {
	var request types.SetVariantRequest
	if err := a.bindJSON(w, r, &request); err != nil {
		return
	}
	if err := types.ValidateVariant(request.Variant); err != nil {
		a.jsonError(w, r, types.NewBadRequestError(err))
		return
	}
	a.rt.Models.SetVariant(request.Variant)
	a.json(w, r, http.StatusOK, a.rt.Models.Variant())
}

func (a *API) getSSHInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.server.SSHInfo(r.Context())
	if err != nil {
		a.logError(r, err, "failed to collect ssh info")
		a.jsonError(w, r, err)
		return
	}
	a.json(w, r, http.StatusOK, info)
}

func (a *API) getFreeOnly(w http.ResponseWriter, r *http.Request) {
	a.json(w, r, http.StatusOK, a.registry.Mirror().FreeOnly())
}

func (a *API) postFreeOnly(w http.ResponseWriter, r *http.Request) {
	var request types.SetFreeOnlyRequest
	if err := a.bindJSON(w, r, &request); err != nil {
		return
	}
	a.registry.Mirror().SetFreeOnly(request.Enable)
	a.json(w, r, http.StatusOK, a.registry.Mirror().FreeOnly())
}

// getInteractiveSections reports which autoinstall keys a client should
// walk. The wildcard expansion is recomputed on every request: earlier
// stages applying configuration can change the answer.
func (a *API) getInteractiveSections(w http.ResponseWriter, r *http.Request) {
	a.json(w, r, http.StatusOK, a.registry.InteractiveSections())
}

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/controllers"
)

func (a *API) getStageData(stage controllers.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := stage.GetData(r.Context())
		if err != nil {
			a.logError(r, err, fmt.Sprintf("failed to get %s data", stage.Name()))
			a.jsonError(w, r, err)
			return
		}
		a.json(w, r, http.StatusOK, data)
	}
}

// postStageData hands the raw body to the stage and answers with the
// stage's effective data, so clients see what their POST settled to.
func (a *API) postStageData(stage controllers.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			a.logError(r, err, fmt.Sprintf("failed to read %s request body", stage.Name()))
			a.jsonError(w, r, types.NewBadRequestError(err))
			return
		}
		if err := stage.SetData(r.Context(), json.RawMessage(body)); err != nil {
			a.logError(r, err, fmt.Sprintf("failed to set %s data", stage.Name()))
			a.jsonError(w, r, err)
			return
		}
		data, err := stage.GetData(r.Context())
		if err != nil {
			a.logError(r, err, fmt.Sprintf("failed to get %s data", stage.Name()))
			a.jsonError(w, r, err)
			return
		}
		a.json(w, r, http.StatusOK, data)
	}
}

func (a *API) postStageConfigured(stage controllers.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := stage.Configured(r.Context()); err != nil {
			a.logError(r, err, fmt.Sprintf("failed to mark %s configured", stage.Name()))
			a.jsonError(w, r, err)
			return
		}
		a.json(w, r, http.StatusOK, struct{}{})
	}
}

package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/provisionhq/stagehand/api/types"
	"github.com/provisionhq/stagehand/internal/report"
)

func (a *API) getErrorReports(w http.ResponseWriter, r *http.Request) {
	reports := []report.Report{}
	if a.rt.Reports != nil {
		reports = a.rt.Reports.List()
	}
	a.json(w, r, http.StatusOK, reports)
}

func (a *API) getErrorReport(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if a.rt.Reports == nil {
		a.jsonError(w, r, types.NewNotFoundError(fmt.Errorf("no error report %q", ref)))
		return
	}
	rep, ok := a.rt.Reports.Get(ref)
	if !ok {
		a.jsonError(w, r, types.NewNotFoundError(fmt.Errorf("no error report %q", ref)))
		return
	}
	a.json(w, r, http.StatusOK, rep)
}

package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers the routes for the API. A router is passed in to
// allow for the routes to be registered on a subrouter.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.Use(a.gate)

	metaRouter := router.PathPrefix("/meta").Subrouter()
	metaRouter.HandleFunc("/status", a.getStatus).Methods("GET")
	metaRouter.HandleFunc("/confirm", a.postConfirm).Methods("POST")
	metaRouter.HandleFunc("/restart", a.postRestart).Methods("POST")
	metaRouter.HandleFunc("/mark-configured", a.postMarkConfigured).Methods("POST")
	metaRouter.HandleFunc("/client-variant", a.getClientVariant).Methods("GET")
	metaRouter.HandleFunc("/client-variant", a.postClientVariant).Methods("POST")
	metaRouter.HandleFunc("/ssh-info", a.getSSHInfo).Methods("GET")
	metaRouter.HandleFunc("/free-only", a.getFreeOnly).Methods("GET")
	metaRouter.HandleFunc("/free-only", a.postFreeOnly).Methods("POST")
	metaRouter.HandleFunc("/interactive-sections", a.getInteractiveSections).Methods("GET")

	router.HandleFunc("/errors", a.getErrorReports).Methods("GET")
	router.HandleFunc("/errors/{ref}", a.getErrorReport).Methods("GET")

	a.registerStageRoutes(router)
}

// registerStageRoutes derives one GET/POST pair plus a configured trigger
// per served stage endpoint, in lifecycle order.
func (a *API) registerStageRoutes(router *mux.Router) {
	for _, endpoint := range a.registry.Endpoints() {
		stage, err := a.registry.ByEndpoint(endpoint)
		if err != nil {
			continue
		}
		router.HandleFunc("/"+endpoint, a.getStageData(stage)).Methods("GET")
		router.HandleFunc("/"+endpoint, a.postStageData(stage)).Methods("POST")
		router.HandleFunc("/"+endpoint+"/configured", a.postStageConfigured(stage)).Methods("POST")
	}
}

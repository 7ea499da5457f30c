// Package http serves a read-only JSON view of the drivers in a
// cloudbrain.Core.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloudbrain"
)

// Handler returns an http.Handler for the API. Everything but /metrics needs
// one of authTokens.
func Handler(ctx context.Context, core *cloudbrain.Core, authTokens []string) http.Handler {
	api := mux.NewRouter()
	api.Handle("/drivers", handleDrivers(ctx, core)).Methods("GET")
	api.Handle("/drivers/{name}/instances", handleInstances(ctx, core)).Methods("GET")
	api.Handle("/drivers/{name}/active-instances", handleActiveInstances(ctx, core)).Methods("GET")
	api.Handle("/drivers/{name}/occupancy", handleOccupancy(ctx, core)).Methods("GET")

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.PathPrefix("/drivers").Handler(&authWrapper{
		tokens:  authTokens,
		handler: &serialHandler{handler: api},
		ctx:     ctx,
	})

	return r
}

// serialHandler serves one request at a time. Drivers are not safe for
// concurrent use.
type serialHandler struct {
	mu      sync.Mutex
	handler http.Handler
}

func (h *serialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler.ServeHTTP(w, r)
}

func requestContext(ctx context.Context, r *http.Request) context.Context {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New()
	}
	return cbcontext.FromRequestID(ctx, requestID)
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	cbcontext.LoggerFromContext(ctx).WithFields(logrus.Fields{
		"response": status,
		"err":      err,
	}).Info("request failed")

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := &ErrorResponse{Errors: make([]string, 0, 1)}
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
	}

	json.NewEncoder(w).Encode(resp)
}

func respondOk(ctx context.Context, w http.ResponseWriter, body interface{}) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)

	cbcontext.LoggerFromContext(ctx).WithField("response", http.StatusOK).Debug("request served")
}

// An ErrorResponse is returned by the HTTP API when an error occurs.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

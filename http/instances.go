package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/travis-ci/cloud-driver/cloud"
	"github.com/travis-ci/cloud-driver/cloudbrain"
)

// An InstanceResponse describes one instance.
type InstanceResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Task      string  `json:"task,omitempty"`
	IPAddress *string `json:"ip_address"`
}

// A SizeResponse describes one size and how many more instances of it fit.
type SizeResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CPU       int    `json:"cpu"`
	RAM       int    `json:"ram"`
	Disk      int    `json:"disk"`
	Total     *int   `json:"total"`
	Remaining *int   `json:"remaining"`
}

func handleDrivers(ctx context.Context, core *cloudbrain.Core) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondOk(requestContext(ctx, r), w, map[string][]string{"drivers": core.DriverNames()})
	})
}

func handleInstances(ctx context.Context, core *cloudbrain.Core) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, meta, ok := metaFor(ctx, core, w, r)
		if !ok {
			return
		}

		instances, err := meta.AllInstances()
		if err != nil {
			respondError(ctx, w, http.StatusBadGateway, err)
			return
		}
		respondOk(ctx, w, instancesToResponse(instances))
	})
}

func handleActiveInstances(ctx context.Context, core *cloudbrain.Core) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, meta, ok := metaFor(ctx, core, w, r)
		if !ok {
			return
		}

		instances, err := meta.TestLinks()
		if err != nil {
			respondError(ctx, w, http.StatusBadGateway, err)
			return
		}
		respondOk(ctx, w, instancesToResponse(instances))
	})
}

func handleOccupancy(ctx context.Context, core *cloudbrain.Core) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, meta, ok := metaFor(ctx, core, w, r)
		if !ok {
			return
		}

		sizes, err := meta.Occupancy()
		if errors.Is(err, cloud.ErrNotImplemented) {
			respondError(ctx, w, http.StatusNotImplemented, err)
			return
		}
		if err != nil {
			respondError(ctx, w, http.StatusBadGateway, err)
			return
		}

		body := make([]*SizeResponse, 0, len(sizes))
		for _, size := range sizes {
			resp := &SizeResponse{
				ID:   size.ID,
				Name: size.Name,
				CPU:  size.CPU,
				RAM:  size.RAM,
				Disk: size.Disk,
			}
			if size.Occupancy != nil {
				resp.Total = &size.Occupancy.Total
				resp.Remaining = &size.Occupancy.Remaining
			}
			body = append(body, resp)
		}
		respondOk(ctx, w, body)
	})
}

func metaFor(ctx context.Context, core *cloudbrain.Core, w http.ResponseWriter, r *http.Request) (context.Context, *cloudbrain.Meta, bool) {
	ctx = requestContext(ctx, r)

	meta, err := core.Meta(ctx, mux.Vars(r)["name"])
	if err != nil {
		respondError(ctx, w, http.StatusNotFound, err)
		return ctx, nil, false
	}
	return ctx, meta, true
}

func instancesToResponse(instances []*cloud.Instance) []*InstanceResponse {
	body := make([]*InstanceResponse, 0, len(instances))
	for _, inst := range instances {
		resp := &InstanceResponse{
			ID:     inst.ID,
			Name:   inst.Name,
			Status: inst.Status,
			Task:   inst.Task,
		}
		if inst.IP != "" {
			ip := inst.IP
			resp.IPAddress = &ip
		}
		body = append(body, resp)
	}
	return body
}

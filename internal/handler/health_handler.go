package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sms-bridge/internal/client"
	"sms-bridge/internal/resilience"
)

// HealthHandler reports component health for load balancers and operators.
type HealthHandler struct {
	redis    *client.RedisClient
	postgres *client.PostgresClient
	manager  *resilience.Manager
}

func NewHealthHandler(redis *client.RedisClient, postgres *client.PostgresClient,
	manager *resilience.Manager) *HealthHandler {

	return &HealthHandler{
		redis:    redis,
		postgres: postgres,
		manager:  manager,
	}
}

type healthStatus struct {
	Status     string            `json:"status"`
	State      string            `json:"state"`
	StateSince time.Time         `json:"state_since"`
	Checks     map[string]string `json:"checks"`
}

// HealthCheck probes each dependency with a short timeout. Any failure, or a
// non-normal availability state, yields 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{
		Status:     "healthy",
		State:      h.manager.State().String(),
		StateSince: h.manager.LastTransition(),
		Checks:     map[string]string{},
	}

	if err := h.redis.HealthCheck(ctx); err != nil {
		status.Checks["fast_store"] = err.Error()
	} else {
		status.Checks["fast_store"] = "ok"
	}

	if err := h.postgres.HealthCheck(ctx); err != nil {
		status.Checks["durable_store"] = err.Error()
	} else {
		status.Checks["durable_store"] = "ok"
	}

	httpStatus := http.StatusOK
	if h.manager.State() != resilience.StateNormal {
		status.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	for _, check := range status.Checks {
		if check != "ok" {
			status.Status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(status)
}

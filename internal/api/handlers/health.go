// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import "net/http"

// HealthHandler serves the aggregated health snapshot.
type HealthHandler struct {
	svc Service
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(svc Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Get probes the CLI and reports server health. Unhealthy states answer
// 503 so load balancers and launchd-style supervisors can act on it.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	status := h.svc.HealthCheck(r.Context())

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

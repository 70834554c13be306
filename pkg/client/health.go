// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// HealthClient probes the server's health endpoint.
//
// The endpoint is unauthenticated so supervisors can use it directly;
// through this client it shares the configured base URL.
//
// Access this client through [Client.Health]:
//
//	health, err := client.Health.Get(ctx)
type HealthClient struct {
	c *Client
}

// Get returns the current health snapshot.
//
// A snapshot is returned even when the server reports unhealthy (the
// endpoint answers 503 with the same body); callers should check
// [Health.Healthy] rather than rely on the error.
func (h *HealthClient) Get(ctx context.Context) (*Health, error) {
	data, err := h.c.get(ctx, "/health")
	if err != nil {
		return nil, err
	}

	var health Health
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health status: %w", err)
	}

	return &health, nil
}

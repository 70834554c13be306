// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// EventClient reads the server's retained event history.
//
// Events record everything that happened inside sessions: assistant
// output, tool use, permission prompts, process lifecycle. For a live
// feed, connect a WebSocket to /api/v1/events/ws with the same query
// parameters; this client covers the history endpoint.
//
// Access this client through [Client.Events]:
//
//	events, err := client.Events.History(ctx, &client.HistoryOptions{Limit: 50})
type EventClient struct {
	c *Client
}

// HistoryOptions narrows an event history query.
type HistoryOptions struct {
	// Session restricts results to one session.
	Session string

	// Kinds restricts results to these event kinds (see the Kind*
	// constants). Unknown names are rejected by the server.
	Kinds []string

	// Limit caps the result to the most recent n events.
	Limit int
}

// History returns retained events in chronological order (oldest first).
//
// Example:
//
//	events, err := client.Events.History(ctx, &client.HistoryOptions{
//	    Session: sessionID,
//	    Kinds:   []string{client.KindAssistantMessage},
//	})
func (e *EventClient) History(ctx context.Context, opts *HistoryOptions) ([]Event, error) {
	path := "/api/v1/events"

	if opts != nil {
		params := url.Values{}
		if opts.Session != "" {
			params.Set("session", opts.Session)
		}
		if len(opts.Kinds) > 0 {
			params.Set("kinds", strings.Join(opts.Kinds, ","))
		}
		if opts.Limit > 0 {
			params.Set("limit", fmt.Sprintf("%d", opts.Limit))
		}
		if len(params) > 0 {
			path += "?" + params.Encode()
		}
	}

	data, err := e.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	return events, nil
}

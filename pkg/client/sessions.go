// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionClient inspects and terminates conversation sessions.
//
// Access this client through [Client.Sessions]:
//
//	sessions, err := client.Sessions.List(ctx)
type SessionClient struct {
	c *Client
}

// List returns all registered sessions.
//
// Example:
//
//	sessions, err := client.Sessions.List(ctx)
//	for _, s := range sessions {
//	    fmt.Printf("%s: %s\n", s.ID, s.WorkingDir)
//	}
func (s *SessionClient) List(ctx context.Context) ([]Session, error) {
	data, err := s.c.get(ctx, "/api/v1/sessions")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}

	return sessions, nil
}

// Get returns a single session.
//
// The id may be the server-assigned session id or the CLI's own
// conversation id. Returns an error if neither matches.
func (s *SessionClient) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.c.get(ctx, "/api/v1/sessions/"+id)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &session, nil
}

// Kill terminates a session, cancelling any in-flight turn.
//
// The reason is recorded on the session's cancellation event; empty
// defaults to "user requested" on the server.
func (s *SessionClient) Kill(ctx context.Context, id, reason string) error {
	var body interface{}
	if reason != "" {
		body = map[string]string{"reason": reason}
	}

	_, err := s.c.deleteJSON(ctx, "/api/v1/sessions/"+id, body)
	return err
}

// Background tells the server the client moved this conversation to the
// background. The session keeps running; the flag informs the server's
// routing and expiry decisions. Returns the refreshed snapshot.
func (s *SessionClient) Background(ctx context.Context, id string) (*Session, error) {
	return s.mark(ctx, id, "background")
}

// Foreground clears the backgrounded flag and refreshes the session's
// activity clock. Returns the refreshed snapshot.
func (s *SessionClient) Foreground(ctx context.Context, id string) (*Session, error) {
	return s.mark(ctx, id, "foreground")
}

func (s *SessionClient) mark(ctx context.Context, id, action string) (*Session, error) {
	data, err := s.c.postJSON(ctx, "/api/v1/sessions/"+id+"/"+action, nil)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &session, nil
}

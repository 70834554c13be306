// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// CommandClient submits prompts and answers permission requests.
//
// Process blocks for the whole conversation turn, which can take minutes
// for large prompts; pass a context with a generous deadline and raise the
// client timeout with [WithTimeout].
//
// Access this client through [Client.Commands]:
//
//	result, err := client.Commands.Process(ctx, client.CommandRequest{...})
type CommandClient struct {
	c *Client
}

// Process submits a prompt and blocks until the turn finishes or parks on
// a permission request.
//
// An empty SessionID starts a new conversation; the assigned id comes back
// in the result. When the result has PermissionPending set, the turn is
// waiting on [CommandClient.Permission].
//
// Example:
//
//	result, err := client.Commands.Process(ctx, client.CommandRequest{
//	    Prompt:           "add error handling to main.go",
//	    WorkingDirectory: "/home/user/project",
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Result)
func (cc *CommandClient) Process(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	data, err := cc.c.postJSON(ctx, "/api/v1/command", req)
	if err != nil {
		return nil, err
	}

	var result CommandResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse command result: %w", err)
	}

	return &result, nil
}

// Permission answers a pending permission request.
//
// Recognized decisions ("approve", "yes", "deny", "no", and friends) are
// forwarded to the waiting turn and the outcome has Delivered set. Any
// other text is treated as the user's next prompt instead: the server
// runs it as a regular turn and the outcome's Turn field carries that
// turn's result. Set remember to persist an approval for the rest of the
// session.
func (cc *CommandClient) Permission(ctx context.Context, sessionID, response string, remember bool) (*PermissionOutcome, error) {
	body := map[string]interface{}{
		"sessionId": sessionID,
		"response":  response,
	}
	if remember {
		body["remember"] = true
	}

	data, err := cc.c.postJSON(ctx, "/api/v1/permission", body)
	if err != nil {
		return nil, err
	}

	// The server replies {"delivered": true} for forwarded decisions and
	// with a full command result when the text was rerouted as a prompt.
	var delivered struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.Unmarshal(data, &delivered); err == nil && delivered.Delivered {
		return &PermissionOutcome{Delivered: true}, nil
	}

	var result CommandResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse permission outcome: %w", err)
	}

	return &PermissionOutcome{Turn: &result}, nil
}

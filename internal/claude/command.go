// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"strings"
)

// PermissionPolicy controls how the CLI gates tool use for a turn.
type PermissionPolicy struct {
	// SkipPermissions bypasses all gating. When set, the mode and tool
	// lists are ignored; the two styles are mutually exclusive on the
	// command line.
	SkipPermissions bool
	Mode            string
	AllowedTools    []string
	DisallowedTools []string
}

// CommandSpec describes one CLI invocation.
type CommandSpec struct {
	Prompt     string
	WorkingDir string

	// ResumeID resumes the conversation the CLI knows by this id. Empty
	// starts a fresh conversation.
	ResumeID string

	Policy    PermissionPolicy
	ExtraArgs []string
}

// BuildArgs assembles the argument list for one turn. The prompt is always
// the final positional argument.
func BuildArgs(spec CommandSpec) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if spec.Policy.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	} else {
		if spec.Policy.Mode != "" {
			args = append(args, "--permission-mode", spec.Policy.Mode)
		}
		if len(spec.Policy.AllowedTools) > 0 {
			args = append(args, "--allowedTools", strings.Join(spec.Policy.AllowedTools, ","))
		}
		if len(spec.Policy.DisallowedTools) > 0 {
			args = append(args, "--disallowedTools", strings.Join(spec.Policy.DisallowedTools, ","))
		}
	}

	if spec.ResumeID != "" {
		args = append(args, "--resume", spec.ResumeID)
	}

	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.Prompt)
	return args
}

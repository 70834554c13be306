// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsFresh(t *testing.T) {
	args := BuildArgs(CommandSpec{
		Prompt: "hello there",
		Policy: PermissionPolicy{Mode: "default"},
	})
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--permission-mode", "default",
		"hello there",
	}, args)
}

func TestBuildArgsResume(t *testing.T) {
	args := BuildArgs(CommandSpec{
		Prompt:   "continue",
		ResumeID: "ext-123",
		Policy:   PermissionPolicy{Mode: "acceptEdits"},
	})
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--permission-mode", "acceptEdits",
		"--resume", "ext-123",
		"continue",
	}, args)
}

func TestBuildArgsToolLists(t *testing.T) {
	args := BuildArgs(CommandSpec{
		Prompt: "go",
		Policy: PermissionPolicy{
			Mode:            "default",
			AllowedTools:    []string{"Read", "Grep"},
			DisallowedTools: []string{"Bash"},
		},
	})
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--permission-mode", "default",
		"--allowedTools", "Read,Grep",
		"--disallowedTools", "Bash",
		"go",
	}, args)
}

func TestBuildArgsSkipPermissionsWinsOverLists(t *testing.T) {
	// The two gating styles are mutually exclusive; skip suppresses the
	// mode and tool lists entirely.
	args := BuildArgs(CommandSpec{
		Prompt: "go",
		Policy: PermissionPolicy{
			SkipPermissions: true,
			Mode:            "default",
			AllowedTools:    []string{"Read"},
			DisallowedTools: []string{"Bash"},
		},
	})
	assert.Equal(t, []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--dangerously-skip-permissions",
		"go",
	}, args)
	assert.NotContains(t, args, "--permission-mode")
	assert.NotContains(t, args, "--allowedTools")
}

func TestBuildArgsExtraArgsBeforePrompt(t *testing.T) {
	args := BuildArgs(CommandSpec{
		Prompt:    "prompt text",
		ExtraArgs: []string{"--model", "opus"},
		Policy:    PermissionPolicy{SkipPermissions: true},
	})
	assert.Equal(t, "prompt text", args[len(args)-1])
	assert.Equal(t, []string{"--model", "opus"}, args[len(args)-3:len(args)-1])
}

func TestBuildArgsPromptAlwaysLast(t *testing.T) {
	specs := []CommandSpec{
		{Prompt: "p1"},
		{Prompt: "p2", ResumeID: "ext-1"},
		{Prompt: "p3", Policy: PermissionPolicy{SkipPermissions: true}},
		{Prompt: "--not-a-flag", Policy: PermissionPolicy{Mode: "plan"}},
	}
	for _, spec := range specs {
		args := BuildArgs(spec)
		assert.Equal(t, spec.Prompt, args[len(args)-1])
	}
}

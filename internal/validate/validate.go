// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package validate rejects unsafe client input before any subprocess is
// spawned: prompt text, working directories, session id tokens, and
// attachment filenames.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPromptLen bounds prompt text, in bytes.
	MaxPromptLen = 100000

	// MaxSessionIDLen bounds session id tokens.
	MaxSessionIDLen = 128

	// MaxFilenameLen bounds sanitized attachment filenames.
	MaxFilenameLen = 128
)

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Error describes a rejected input field. Violation marks inputs that look
// like deliberate escape attempts (path traversal, unsafe roots) rather
// than ordinary bad input; callers surface those as security events.
type Error struct {
	Field     string
	Reason    string
	Violation bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsViolation reports whether err is a security violation.
func IsViolation(err error) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Violation
	}
	return false
}

// Prompt validates prompt text.
func Prompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &Error{Field: "prompt", Reason: "must not be empty"}
	}
	if len(prompt) > MaxPromptLen {
		return &Error{Field: "prompt", Reason: fmt.Sprintf("exceeds %d bytes", MaxPromptLen)}
	}
	if !utf8.ValidString(prompt) {
		return &Error{Field: "prompt", Reason: "must be valid UTF-8"}
	}
	for _, r := range prompt {
		if r == 0 {
			return &Error{Field: "prompt", Reason: "contains null byte", Violation: true}
		}
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return &Error{Field: "prompt", Reason: "contains control characters"}
		}
	}
	return nil
}

// SessionID validates a client-supplied session id token.
func SessionID(id string) error {
	if id == "" {
		return &Error{Field: "sessionId", Reason: "must not be empty"}
	}
	if len(id) > MaxSessionIDLen {
		return &Error{Field: "sessionId", Reason: fmt.Sprintf("exceeds %d characters", MaxSessionIDLen)}
	}
	if !sessionIDRe.MatchString(id) {
		return &Error{Field: "sessionId", Reason: "contains invalid characters"}
	}
	return nil
}

// WorkingDirectory validates a working directory and returns it cleaned.
// The path must be absolute, free of traversal segments, and must exist as
// a directory. When safeRoot is non-empty the path must live under it.
func WorkingDirectory(dir, safeRoot string) (string, error) {
	if dir == "" {
		return "", &Error{Field: "workingDirectory", Reason: "must not be empty"}
	}
	if strings.ContainsRune(dir, 0) {
		return "", &Error{Field: "workingDirectory", Reason: "contains null byte", Violation: true}
	}
	if !filepath.IsAbs(dir) {
		return "", &Error{Field: "workingDirectory", Reason: "must be an absolute path"}
	}

	// Traversal segments are rejected before cleaning so "/safe/../etc"
	// is reported as an escape attempt, not silently normalized
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		if part == ".." {
			return "", &Error{Field: "workingDirectory", Reason: "contains path traversal", Violation: true}
		}
	}

	cleaned := filepath.Clean(dir)

	if safeRoot != "" && !withinRoot(cleaned, safeRoot) {
		return "", &Error{Field: "workingDirectory", Reason: fmt.Sprintf("outside allowed root %s", safeRoot), Violation: true}
	}

	info, err := os.Stat(cleaned)
	if err != nil {
		return "", &Error{Field: "workingDirectory", Reason: "does not exist"}
	}
	if !info.IsDir() {
		return "", &Error{Field: "workingDirectory", Reason: "is not a directory"}
	}

	return cleaned, nil
}

// Filename sanitizes an attachment filename for use in a temp path. The
// result contains no path separators or control characters and is never
// empty.
func Filename(name string) string {
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "attachment"
	}
	if len(out) > MaxFilenameLen {
		out = out[len(out)-MaxFilenameLen:]
	}
	return out
}

func withinRoot(path, root string) bool {
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package attach stages client-supplied attachments as temp files for the
// duration of one command. Staged files are handed to the CLI by path and
// removed through a cleanup handle the caller must always invoke.
package attach

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dock108/aicli-companion-sub014/internal/validate"
)

// filePrefix marks files this package owns inside the temp root.
const filePrefix = "aicli-"

// Attachment is a client-supplied file payload.
type Attachment struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64, optionally with a data: URI header
}

// Staged holds the on-disk result of staging one request's attachments.
type Staged struct {
	Paths []string

	once    sync.Once
	cleanup func()
}

// Cleanup removes all staged files. It is idempotent and safe to defer
// unconditionally; callers must invoke it on every exit path.
func (s *Staged) Cleanup() {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.cleanup()
		}
	})
}

// BuildPrompt appends the staged-file manifest line to the user prompt so
// the subprocess knows to read the files from disk. Without attachments
// the prompt is returned unchanged.
func (s *Staged) BuildPrompt(prompt string) string {
	if len(s.Paths) == 0 {
		return prompt
	}
	return prompt + "\n\n[Attached files: " + strings.Join(s.Paths, ", ") + "]"
}

// Stager writes attachments to a configured temp root.
type Stager struct {
	tempDir  string
	maxSize  int64
	maxCount int
}

// NewStager creates a stager. maxSize bounds each decoded attachment;
// maxCount bounds attachments per request.
func NewStager(tempDir string, maxSize int64, maxCount int) *Stager {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Stager{tempDir: tempDir, maxSize: maxSize, maxCount: maxCount}
}

// Stage decodes and writes the attachments, returning staged paths and a
// cleanup handle. Empty input returns an empty Staged whose Cleanup is a
// no-op. On any error, files already written are removed before returning.
func (s *Stager) Stage(attachments []Attachment) (*Staged, error) {
	if len(attachments) == 0 {
		return &Staged{}, nil
	}
	if s.maxCount > 0 && len(attachments) > s.maxCount {
		return &Staged{}, fmt.Errorf("too many attachments: %d (max %d)", len(attachments), s.maxCount)
	}

	// Attachments decode and write independently; the first failure wins
	// and everything already on disk is removed.
	paths := make([]string, len(attachments))
	var g errgroup.Group
	g.SetLimit(4)
	for i, att := range attachments {
		g.Go(func() error {
			data, err := decode(att.Data)
			if err != nil {
				return fmt.Errorf("attachment %d (%s): %w", i, att.Name, err)
			}
			if s.maxSize > 0 && int64(len(data)) > s.maxSize {
				return fmt.Errorf("attachment %d (%s): %d bytes exceeds limit %d", i, att.Name, len(data), s.maxSize)
			}
			path := filepath.Join(s.tempDir, stagedName(att.Name))
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("attachment %d (%s): write: %w", i, att.Name, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range paths {
			if p != "" {
				os.Remove(p)
			}
		}
		return &Staged{}, err
	}

	staged := &Staged{Paths: paths}
	staged.cleanup = func() {
		for _, p := range staged.Paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log.Printf("attach: remove %s: %v", p, err)
			}
		}
	}
	return staged, nil
}

// SweepStale removes leftover staged files older than maxAge from the temp
// root. Run at startup so files orphaned by a crashed prior run are not
// kept forever.
func (s *Stager) SweepStale(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		log.Printf("attach: sweep %s: %v", s.tempDir, err)
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tempDir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		log.Printf("attach: removed %d stale staged file(s) from %s", removed, s.tempDir)
	}
	return removed
}

// stagedName builds a collision-resistant filename: timestamp, random
// suffix, then the sanitized original name.
func stagedName(original string) string {
	var buf [4]byte
	rand.Read(buf[:])
	return fmt.Sprintf("%s%d-%s-%s", filePrefix, time.Now().UnixNano(), hex.EncodeToString(buf[:]), validate.Filename(original))
}

// decode handles plain base64 and data: URIs ("data:image/png;base64,...").
func decode(data string) ([]byte, error) {
	if idx := strings.Index(data, "base64,"); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+len("base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return decoded, nil
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// companionctl is a command-line tool for inspecting a running companion server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dock108/aicli-companion-sub014/pkg/client"
)

var (
	version    = "1.0"
	apiURL     = "http://localhost:3001"
	jsonOutput = false

	// API client instance
	apiClient *client.Client
)

func main() {
	// Check for COMPANION_API environment variable
	if env := os.Getenv("COMPANION_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	// Initialize API client
	var opts []client.Option
	if token := os.Getenv("COMPANION_TOKEN"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	apiClient = client.New(apiURL, opts...)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(args)
	case "sessions":
		err = cmdSessions(args)
	case "kill":
		err = cmdKill(args)
	case "events":
		err = cmdEvents(args)
	case "version", "-v", "--version":
		fmt.Printf("companionctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`companionctl - Inspect a running companion server

Usage:
  companionctl [-json] <command> [arguments]

Global Flags:
  -json              Output in JSON format

Environment:
  COMPANION_API      Base URL of the companion API (default: http://localhost:3001)
  COMPANION_TOKEN    Bearer token, when the server has auth_token set

Commands:
  status                   Show server health and CLI availability
  sessions [id]            List active sessions, or show one session
  kill <id> [options]      Terminate a session
    -reason <text>         Reason recorded on the cancellation event

  events [options]         Show recent events (default: 50)
    -n N                   Number of events
    -session <id>          Only events for this session
    -kinds <a,b>           Only these event kinds (e.g., assistantMessage,toolUse)

  version                  Show version
  help                     Show this help`)
}

// printJSON outputs any value as formatted JSON
func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func cmdStatus(args []string) error {
	ctx := context.Background()

	health, err := apiClient.Health.Get(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(health)
		return nil
	}

	state := "healthy"
	if !health.Healthy {
		state = "unhealthy"
	}
	fmt.Printf("Server: %s (%s)\n", state, apiURL)
	if health.ClaudeVersion != "" {
		fmt.Printf("  CLI version: %s\n", health.ClaudeVersion)
	}
	if health.ClaudeError != "" {
		fmt.Printf("  CLI error: %s\n", health.ClaudeError)
	}
	fmt.Printf("  Active sessions: %d\n", health.ActiveSessions)
	if health.HostRSSBytes > 0 {
		fmt.Printf("  Memory: %.1f MB\n", float64(health.HostRSSBytes)/(1024*1024))
	}
	if len(health.OrphanPIDs) > 0 {
		pids := make([]string, len(health.OrphanPIDs))
		for i, pid := range health.OrphanPIDs {
			pids[i] = strconv.Itoa(pid)
		}
		fmt.Printf("  Orphan PIDs: %s\n", strings.Join(pids, ", "))
	}

	return nil
}

func cmdSessions(args []string) error {
	ctx := context.Background()

	if len(args) > 0 {
		// Specific session
		sess, err := apiClient.Sessions.Get(ctx, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(sess)
			return nil
		}

		printSessionDetail(sess)
		return nil
	}

	// All sessions
	sessions, err := apiClient.Sessions.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sessions)
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("No active sessions")
		return nil
	}

	fmt.Printf("%-14s %-38s %-6s %-20s %s\n", "ID", "CLAUDE ID", "BUSY", "LAST ACTIVITY", "WORKDIR")
	fmt.Println(strings.Repeat("-", 110))
	for _, sess := range sessions {
		claudeID := sess.ClaudeID
		if claudeID == "" {
			claudeID = "-"
		}
		busy := "-"
		if sess.Executing {
			busy = "*"
		}
		fmt.Printf("%-14s %-38s %-6s %-20s %s\n",
			sess.ID,
			claudeID,
			busy,
			sess.LastActivity.Format("2006-01-02 15:04:05"),
			sess.WorkingDir,
		)
	}

	return nil
}

func printSessionDetail(sess *client.Session) {
	fmt.Printf("Session: %s\n", sess.ID)
	if sess.ClaudeID != "" {
		fmt.Printf("  Claude ID: %s\n", sess.ClaudeID)
	}
	fmt.Printf("  Working dir: %s\n", sess.WorkingDir)
	fmt.Printf("  Created: %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Last activity: %s\n", sess.LastActivity.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Executing: %t\n", sess.Executing)
	if sess.PID > 0 {
		fmt.Printf("  PID: %d\n", sess.PID)
	}
	if sess.Backgrounded {
		fmt.Println("  Backgrounded: true")
	}
}

func cmdKill(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: companionctl kill <id> [-reason <text>]")
	}

	id := args[0]
	reason := ""

	for i := 1; i < len(args); i++ {
		if args[i] == "-reason" && i+1 < len(args) {
			i++
			reason = args[i]
		}
	}

	ctx := context.Background()
	if err := apiClient.Sessions.Kill(ctx, id, reason); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Killed session: %s\n", id)
	}

	return nil
}

func cmdEvents(args []string) error {
	opts := &client.HistoryOptions{Limit: 50}

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-n" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for -n: %s", args[i])
			}
			opts.Limit = n
		case args[i] == "-session" && i+1 < len(args):
			i++
			opts.Session = args[i]
		case args[i] == "-kinds" && i+1 < len(args):
			i++
			opts.Kinds = strings.Split(args[i], ",")
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	ctx := context.Background()
	events, err := apiClient.Events.History(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(events)
		return nil
	}

	fmt.Printf("%-21s %-20s %-14s %s\n", "TIME", "TYPE", "SESSION", "DETAILS")
	fmt.Println(strings.Repeat("-", 100))
	for _, evt := range events {
		fmt.Printf("%-21s %-20s %-14s %s\n",
			evt.Timestamp.Format("2006-01-02 15:04:05"),
			evt.Type,
			evt.SessionID,
			formatEventDetails(evt),
		)
	}

	return nil
}

// formatEventDetails builds a compact one-line summary of an event payload.
func formatEventDetails(evt client.Event) string {
	if len(evt.Data) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		return ""
	}

	parts := []string{}
	for k, v := range payload {
		s := fmt.Sprintf("%v", v)
		if len(s) > 40 {
			s = s[:40] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, s))
	}
	return strings.Join(parts, " ")
}

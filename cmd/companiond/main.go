// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// companiond bridges chat clients to the claude CLI over HTTP and WebSocket.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dock108/aicli-companion-sub014/internal/app"
	"github.com/dock108/aicli-companion-sub014/internal/config"
)

var (
	version = "1.0"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("companiond %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified. Running without one is fine:
	// every setting has a default.
	if configPath == "" {
		loader := config.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "companiond init" command
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: companiond init [options]

Create a new companion.hjson configuration file in the current directory.

This command walks you through setting up a companion server configuration
with interactive prompts. The generated file is fully commented to help you
understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Server port (defaults to 3001)
  - Auth token (generated for you, or empty to disable auth)
  - Permission mode for CLI tool use
  - Directory that working directories must live under

Examples:
  companiond init           Create config with interactive prompts

After running init:
  1. Review and edit companion.hjson as needed
  2. Run: ./companiond
  3. Point your client at: http://localhost:3001`)
		return nil
	}

	configFile := "companion.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Companion Server Configuration Setup")
	fmt.Println("=====================================")
	fmt.Println()
	fmt.Println("This will create a companion.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	// Question 1: Port
	portStr := prompt(reader, "Server port", "3001")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 3001
	}

	// Question 2: Auth token
	generated := randomToken()
	fmt.Println()
	fmt.Println("Clients must send this token as a bearer token. Leave empty to disable auth")
	fmt.Println("(only safe when the server is bound to localhost).")
	token := prompt(reader, "Auth token", generated)

	// Question 3: Permission mode
	fmt.Println()
	fmt.Println("How should the CLI handle tool permissions?")
	fmt.Println("  default           - ask for each tool use (interactive approval from clients)")
	fmt.Println("  acceptEdits       - auto-approve file edits")
	fmt.Println("  bypassPermissions - auto-approve everything")
	fmt.Println("  plan              - plan mode, no tool execution")
	mode := prompt(reader, "Permission mode", "default")

	// Question 4: Safe root
	fmt.Println()
	fmt.Println("Session working directories can be restricted to one directory tree.")
	fmt.Println("Leave empty to allow any absolute path.")
	safeRoot := prompt(reader, "Safe root directory", "")

	configContent := generateConfig(port, token, mode, safeRoot)

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit companion.hjson as needed")
	fmt.Println("  2. Run: ./companiond")
	fmt.Println("  3. Point your client at: http://localhost:" + strconv.Itoa(port))
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// randomToken returns a 32-hex-char token for bearer auth.
func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, token, mode, safeRoot string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Companion Server Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Every setting has a sensible default; delete anything you don't need.
  //
  // Changes to permissions, tool lists, and timeouts apply while the server
  // is running. Changes to the server address or CLI binary need a restart.

  // ---------------------------------------------------------------------------
  // Server Settings
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow connections from your phone)
    host: "127.0.0.1"

    // Port for the HTTP API and WebSocket stream
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`
`)

	if token != "" {
		sb.WriteString(`
    // Clients authenticate with "Authorization: Bearer <token>".
    // WebSocket clients may pass ?token=<token> instead.
    auth_token: "`)
		sb.WriteString(escapeHJSONValue(token))
		sb.WriteString(`"
`)
	} else {
		sb.WriteString(`
    // Auth is disabled. Uncomment to require a bearer token:
    // auth_token: "change-me"
`)
	}

	sb.WriteString(`  }

  // ---------------------------------------------------------------------------
  // CLI Settings
  // ---------------------------------------------------------------------------
  claude: {
    // CLI executable name or absolute path
    binary: "claude"
`)

	if safeRoot != "" {
		sb.WriteString(`
    // Session working directories must live under this directory
    safe_root: "`)
		sb.WriteString(escapeHJSONValue(safeRoot))
		sb.WriteString(`"
`)
	} else {
		sb.WriteString(`
    // Uncomment to restrict session working directories to one tree:
    // safe_root: "/Users/me/projects"
`)
	}

	sb.WriteString(`
    // Exit codes treated as "continue later" rather than failure.
    // 143 = SIGTERM, which the CLI uses to end long turns.
    benign_exit_codes: [143]

    // Extra arguments appended to every CLI invocation
    // extra_args: ["--model", "opus"]
  }

  // ---------------------------------------------------------------------------
  // Tool Permissions
  // ---------------------------------------------------------------------------
  permissions: {
    // "default", "acceptEdits", "bypassPermissions", or "plan"
    mode: "`)
	sb.WriteString(escapeHJSONValue(mode))
	sb.WriteString(`"

    // Tools the CLI may use without asking
    // allowed_tools: ["Read", "Grep"]

    // Tools the CLI may never use
    // disallowed_tools: ["Bash"]

    // DANGER: skips all permission prompts entirely
    // skip_permissions: true
  }

  // ---------------------------------------------------------------------------
  // Session Lifecycle
  // ---------------------------------------------------------------------------
  sessions: {
    // Sessions idle longer than this are evicted by the health sweep
    timeout: "24h"

    // How long shutdown waits for active turns to finish
    drain_timeout: "10s"

    // Per-turn retry behavior when the CLI reports rate limiting
    retry: {
      max_attempts: 3
      backoff_base: "1s"
      backoff_cap: "5s"
    }
  }

  // ---------------------------------------------------------------------------
  // Attachments
  // ---------------------------------------------------------------------------
  // attachments: {
  //   temp_dir: "/tmp"          // Where staged attachment files are written
  //   max_size_bytes: 10485760  // Per-attachment decoded size cap (10MB)
  //   max_count: 10             // Max attachments per message
  // }

  // ---------------------------------------------------------------------------
  // Health Monitoring
  // ---------------------------------------------------------------------------
  // health: {
  //   interval: "30s"          // Sweep interval; "0" disables
  //   memory_warn_mb: 500
  //   memory_critical_mb: 1024
  //   cpu_warn_percent: 80
  //   cpu_critical_percent: 95
  // }

  // ---------------------------------------------------------------------------
  // Event History
  // ---------------------------------------------------------------------------
  //
  // Reconnecting clients replay recent events from an in-memory ring.
  // events: {
  //   history: {
  //     max_events: 1000
  //     max_age: "1h"
  //   }
  // }

  // ---------------------------------------------------------------------------
  // Config Reload
  // ---------------------------------------------------------------------------
  watch: {
    // Wait for rapid edits to settle before reloading
    debounce: "100ms"
  }
}
`)

	return sb.String()
}

package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "chat"
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd = os.Args[1]
	}

	switch cmd {
	case "chat":
		if err := runChat(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'nimbus --help' for usage information.\n", cmd)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`nimbus - conversational agent with tool use and approval gating

USAGE:
    nimbus [COMMAND] [FLAGS]

COMMANDS:
    chat        Interactive chat loop (default)
    serve       Run the HTTP gateway

FLAGS:
    -h, --help        Show this help message
    --config PATH     Config file path (default: ./config.yaml)
    --thread ID       Resume an existing conversation thread (chat only)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: NIMBUS_* variables override config

EXAMPLES:
    nimbus                          # chat with ./config.yaml
    nimbus chat --thread trip-plan  # resume a thread
    nimbus serve                    # run the HTTP gateway`)
}

// parseFlag extracts a --name VALUE or --name=VALUE flag from os.Args.
func parseFlag(name string) string {
	prefix := "--" + name
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == prefix && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], prefix+"="):
			return strings.TrimPrefix(os.Args[i], prefix+"=")
		}
	}
	return ""
}

func configPath() string {
	if p := parseFlag("config"); p != "" {
		return p
	}
	return "./config.yaml"
}

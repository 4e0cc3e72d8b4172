package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/ulid/v2"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
	"nimbus/internal/infra/logger"
	"nimbus/internal/infra/tracer"
	"nimbus/internal/usecase"
)

func runChat() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	threadID := parseFlag("thread")
	if threadID == "" {
		threadID = ulid.Make().String()
	}

	fmt.Printf("nimbus chat (thread %s). Type 'exit' to quit.\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		events, err := a.agent.Submit(ctx, threadID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if err := drainTurn(ctx, a, threadID, events, scanner); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	fmt.Println("bye")
	return scanner.Err()
}

// drainTurn prints a turn's event stream. When the turn pauses on a
// gated tool call it prompts for approval and follows the resumed
// stream, repeating as long as further approvals come up.
func drainTurn(ctx context.Context, a *app, threadID string, events <-chan usecase.AgentEvent, scanner *bufio.Scanner) error {
	for {
		pending, err := printEvents(events)
		if err != nil {
			return err
		}
		if pending == nil {
			return nil
		}

		approve, err := promptApproval(pending, scanner)
		if err != nil {
			return err
		}
		events, err = a.agent.ResolveDecision(ctx, threadID, approve)
		if err != nil {
			return err
		}
	}
}

// printEvents consumes a stream until its terminal event. It returns
// the pending tool call when the stream ended on decision_required.
func printEvents(events <-chan usecase.AgentEvent) (*domain.ToolCall, error) {
	streamed := false
	for ev := range events {
		switch ev.Type {
		case usecase.AgentEventDelta:
			streamed = true
			fmt.Print(ev.Content)
		case usecase.AgentEventToolStarted:
			fmt.Printf("\n[running %s]\n", ev.ToolName)
		case usecase.AgentEventDecisionRequired:
			fmt.Println()
			return ev.ToolCall, nil
		case usecase.AgentEventFinished:
			if !streamed && ev.Content != "" {
				fmt.Print(ev.Content)
			}
			fmt.Println()
			return nil, nil
		case usecase.AgentEventError:
			fmt.Println()
			return nil, ev.Err
		}
	}
	return nil, nil
}

func promptApproval(call *domain.ToolCall, scanner *bufio.Scanner) (bool, error) {
	name, args := "unknown", ""
	if call != nil {
		name = call.Name
		args = string(call.Arguments)
	}
	fmt.Printf("The agent wants to run %s %s\nallow this operation? (y/n): ", name, args)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes", nil
}

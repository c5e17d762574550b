package chatflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/chatflow/pkg/domain"
)

// ContentRenderer transforms outbound message text before display.
// It lets a TUI host render markdown to ANSI without coupling the core
// package to a terminal library.
type ContentRenderer func(string) (string, error)

// Runner drives an interactive conversation loop over provided IO.
// It exists for the chat command and for tests; transports talk to the
// Engine directly.
type Runner struct {
	Input  io.Reader
	Output io.Writer

	UserID   string
	TenantID string

	Renderer ContentRenderer

	// Headless suppresses the prompt decoration, for piped input.
	Headless bool
}

// Run reads lines from Input and executes one turn per line until the
// flow terminates or the input ends.
func (r *Runner) Run(ctx context.Context, engine *Engine) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	userID := r.UserID
	if userID == "" {
		userID = "local-user"
	}
	tenantID := r.TenantID
	if tenantID == "" {
		tenantID = "local"
	}

	scanner := bufio.NewScanner(r.Input)
	for {
		if !r.Headless {
			fmt.Fprint(r.Output, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}

		result, err := engine.HandleTurn(ctx, userID, tenantID, text)
		if err != nil {
			return fmt.Errorf("turn failed: %w", err)
		}

		if result.NoEntryMatch {
			fmt.Fprintln(r.Output, "(no flow matched that message)")
			continue
		}
		r.printMessages(result.Messages)

		if result.Terminated {
			return nil
		}
	}
}

func (r *Runner) printMessages(messages []domain.Message) {
	for _, msg := range messages {
		output := msg.Text
		if r.Renderer != nil {
			if rendered, err := r.Renderer(msg.Text); err == nil {
				output = rendered
			}
		}
		fmt.Fprintln(r.Output, strings.TrimSpace(output))
		for i, opt := range msg.Options {
			fmt.Fprintf(r.Output, "  %d. %s\n", i+1, opt.Label)
		}
	}
}

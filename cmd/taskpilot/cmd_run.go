package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"taskpilot/internal/api"
	"taskpilot/internal/logging"
	"taskpilot/internal/resolve"
	"taskpilot/internal/session"
)

// runCmd executes a single request
var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run a single natural-language request",
	Long: `Sends the request to the model together with the task tools and prints
the final reply. The conversation is bounded by conversation.max_turns.

Example:
  taskpilot run "create a task called Pay invoice due next Friday"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

// chatCmd starts the interactive loop
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat (one request per line)",
	RunE:  runChat,
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// commandContext returns the command's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runInstruction(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireChat(); err != nil {
		return err
	}

	return handleRequest(ctx, a, cmd.OutOrStdout(), joinArgs(args))
}

// handleRequest runs one request under the per-request timeout and renders it.
// Failures are printed as outcomes and returned.
func handleRequest(ctx context.Context, a *app, w io.Writer, text string) error {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(w, api.MsgEmptyInput)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logging.Session("request: %q", text)
	res, err := a.driver.Run(ctx, text)
	if errors.Is(err, session.ErrEmptyInput) {
		fmt.Fprintln(w, api.MsgEmptyInput)
		return nil
	}
	if err != nil {
		logging.SessionError("request failed: %v", err)
		out := resolve.FromError(err)
		renderOutcome(w, out)
		return errors.New(out.Message)
	}
	renderResult(w, res)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireChat(); err != nil {
		return err
	}

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	interactive := isTerminal(in)
	s := newStyles(out)
	if interactive {
		fmt.Fprintln(out, s.Muted.Render("Type a request, or 'exit' to quit."))
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, s.Prompt.Render("> "))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "exit", "quit":
			return nil
		case "":
			if !interactive {
				continue
			}
		}
		// A failed request is already rendered; the loop keeps going.
		_ = handleRequest(ctx, a, out, line)
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

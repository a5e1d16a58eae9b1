package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrygo/shepherd/ai/routing"
)

// completer is the subset of the router used by the one-shot commands.
type completer interface {
	SimpleCompletion(ctx context.Context, prompt string, maxTokens int) (string, error)
	ComplexReasoning(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error)
	CreativeTask(ctx context.Context, prompt, systemPrompt string, maxTokens int) (string, error)
	StreamingCompletionWithSystem(ctx context.Context, prompt, systemPrompt string, onChunk func(string)) error
}

func newCompleteCmd() *cobra.Command {
	var (
		route        string
		systemPrompt string
		maxTokens    int
	)
	cmd := &cobra.Command{
		Use:   "complete [flags] PROMPT",
		Short: "Run a single routed completion and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			router, _, err := newRouter(instanceProfile)
			if err != nil {
				return err
			}
			return runComplete(cmd.Context(), router, cmd.OutOrStdout(), route, systemPrompt, maxTokens, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&route, "route", string(routing.RouteSimple), "route type: simple, complex or creative")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt (complex and creative routes)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget, 0 uses the route default")
	return cmd
}

func runComplete(ctx context.Context, c completer, out io.Writer, route, systemPrompt string, maxTokens int, prompt string) error {
	var (
		content string
		err     error
	)
	switch routing.RouteType(route) {
	case routing.RouteSimple:
		if systemPrompt != "" {
			prompt = systemPrompt + "\n\n" + prompt
		}
		content, err = c.SimpleCompletion(ctx, prompt, maxTokens)
	case routing.RouteComplex:
		content, err = c.ComplexReasoning(ctx, prompt, systemPrompt, maxTokens)
	case routing.RouteCreative:
		content, err = c.CreativeTask(ctx, prompt, systemPrompt, maxTokens)
	default:
		return fmt.Errorf("unknown route %q, want simple, complex or creative", route)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, content)
	return err
}

func newStreamCmd() *cobra.Command {
	var systemPrompt string
	cmd := &cobra.Command{
		Use:   "stream [flags] PROMPT",
		Short: "Stream a routed completion to stdout as it arrives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}
			router, _, err := newRouter(instanceProfile)
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), router, cmd.OutOrStdout(), systemPrompt, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt")
	return cmd
}

func runStream(ctx context.Context, c completer, out io.Writer, systemPrompt, prompt string) error {
	err := c.StreamingCompletionWithSystem(ctx, prompt, systemPrompt, func(chunk string) {
		_, _ = io.WriteString(out, chunk)
	})
	_, _ = fmt.Fprintln(out)
	return err
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"agentorch/internal/domain/task"
	"agentorch/internal/infra/tools/builtin"
	"agentorch/internal/server/bootstrap"
	"agentorch/internal/shared/config"
	jsonx "agentorch/internal/shared/json"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runServer = bootstrap.RunServer

type runOptions struct {
	context  []string
	planner  string
	executor string
	asJSON   bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one request through the orchestrator and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskContext, err := parseContext(opts.context)
			if err != nil {
				return err
			}
			overrides := map[string]any{}
			if opts.planner != "" {
				overrides["planner_mode"] = opts.planner
			}
			if opts.executor != "" {
				overrides["executor_mode"] = opts.executor
			}
			settings, err := root.loadSettings(overrides)
			if err != nil {
				return err
			}
			setupLogging(settings, cmd.ErrOrStderr())

			state, err := runOnce(cmd.Context(), settings, strings.Join(args, " "), taskContext)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), state)
			}
			printResult(cmd.OutOrStdout(), state, isTTY(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&opts.context, "context", nil, "context entry as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.planner, "planner", "", "planner mode: deterministic or llm")
	cmd.Flags().StringVar(&opts.executor, "executor", "", "executor mode: deterministic or llm")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full run state as JSON")
	return cmd
}

func runOnce(ctx context.Context, settings config.Settings, prompt string, taskContext map[string]string) (task.State, error) {
	container, err := bootstrap.BuildContainer(ctx, settings)
	if err != nil {
		return task.State{}, err
	}
	defer container.Cleanup()

	state := task.NewState(uuid.NewString(), prompt, taskContext,
		settings.PlannerMode, settings.ExecutorMode, settings.MaxGraphLoops)
	return container.Engine.Run(ctx, state)
}

func toolNames(_ context.Context, _ config.Settings) ([]string, error) {
	registry, err := builtin.NewRegistry(builtin.Dependencies{})
	if err != nil {
		return nil, err
	}
	return registry.List(), nil
}

// parseContext turns key=value entries into a map. Keys are trimmed; an
// entry without "=" or with an empty key is rejected.
func parseContext(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context %q: expected key=value", entry)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func printJSON(w io.Writer, state task.State) error {
	encoded, err := jsonx.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func printResult(w io.Writer, state task.State, colored bool) {
	passed := state.Verification != nil && state.Verification.Passed
	status := "FAILED"
	if passed {
		status = "PASSED"
	}
	if colored {
		if passed {
			status = green(status)
		} else {
			status = red(status)
		}
	}

	header := fmt.Sprintf("verification %s (retries %d/%d)", status, state.RetryCount, state.RetryBudget)
	if colored {
		header = bold(header)
	}
	fmt.Fprintln(w, header)

	for _, step := range state.PlanSteps {
		result, ok := state.ToolResults[step.Tool]
		line := fmt.Sprintf("  %-28s %s", step.Tool, "skipped")
		if ok {
			line = fmt.Sprintf("  %-28s %s (%s, %d attempt(s))", step.Tool, result.Status, result.Implementation, result.Attempts)
		}
		if colored {
			line = gray(line)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, state.FinalOutput)
}

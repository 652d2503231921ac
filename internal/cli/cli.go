// Package cli wires the cobra command surface to the config layer, the
// environment probe, and the agent runtime.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskwright/taskwright/internal/agentcore"
	"github.com/taskwright/taskwright/internal/config"
	"github.com/taskwright/taskwright/internal/envprobe"
	"github.com/taskwright/taskwright/internal/tui"
)

// handsFreeCompleteMarker must match the string run_research_command.go
// scans for in a sub-runtime's status events.
const handsFreeCompleteMarker = "Hands-free session complete"

type flags struct {
	configPath      string
	model           string
	reasoningEffort string
	augment         string
	baseURL         string
	prompt          string
	research        string
	maxPasses       int
	amnesiaAfter    int
}

// NewCommand builds the root "taskwright" cobra command.
func NewCommand(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "taskwright",
		Short: "Plan, execute, and observe coding tasks with an LLM agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, stdout, stderr)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv("TASKWRIGHT_CONFIG"), "path to a taskwright.yaml config file")
	cmd.Flags().StringVar(&f.model, "model", "", "override the configured model")
	cmd.Flags().StringVar(&f.reasoningEffort, "reasoning-effort", "", "override the configured reasoning effort")
	cmd.Flags().StringVar(&f.augment, "augment", "", "extra system prompt text, appended after the environment summary")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "override the OpenAI-compatible base URL")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "run hands-free with this goal instead of opening the TUI")
	cmd.Flags().StringVar(&f.research, "research", "", `run headless with a JSON {"goal":"...","turns":N} payload`)
	cmd.Flags().IntVar(&f.maxPasses, "max-passes", 0, "override the configured pass limit")
	cmd.Flags().IntVar(&f.amnesiaAfter, "amnesia-after", 0, "override the configured amnesia threshold (passes)")

	return cmd
}

func run(ctx context.Context, f flags, stdout, stderr io.Writer) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, f)

	probeResult, augmentation := envprobe.BuildAugmentation(cfg.WorkingDir, cfg.Augment)
	if probeResult.HasCapabilities() {
		fmt.Fprintln(stderr, probeResult.FormatSummary())
	}

	options := agentcore.RuntimeOptions{
		Model:               cfg.Model,
		BaseURL:             cfg.BaseURL,
		APIKey:              cfg.APIKey,
		ReasoningEffort:     cfg.ReasoningEffort,
		SystemPromptAugment: augmentation,
		MaxPasses:           cfg.MaxPasses,
		AmnesiaAfter:        cfg.AmnesiaAfter,
		MaxRetries:          cfg.MaxRetries,
		RequestTimeout:      cfg.RequestTimeout,
		WorkingDir:          cfg.WorkingDir,
		ExitCommands:        cfg.ExitCommands,
	}

	configPath := f.configPath
	if configPath == "" {
		configPath = "taskwright.yaml"
	}
	if updates, stopWatch, err := config.Watch(configPath); err == nil {
		defer stopWatch()
		options.ConfigReload = translateConfigUpdates(updates)
	}

	if f.research != "" {
		return runHeadlessResearch(ctx, options, f.research, stdout, stderr)
	}
	if f.prompt != "" {
		options.HandsFree = true
		options.HandsFreeTopic = f.prompt
		return runHeadlessResearch(ctx, options, "", stdout, stderr)
	}

	code := tui.Run(ctx, options)
	if code != 0 {
		return fmt.Errorf("cli: taskwright exited with status %d", code)
	}
	return nil
}

// translateConfigUpdates adapts a config.Update stream into the
// agentcore.ConfigUpdate shape the Runtime polls between passes, keeping
// internal/agentcore decoupled from the config package's viper/fsnotify
// dependencies.
func translateConfigUpdates(updates <-chan config.Update) <-chan agentcore.ConfigUpdate {
	out := make(chan agentcore.ConfigUpdate, 1)
	go func() {
		defer close(out)
		for u := range updates {
			out <- agentcore.ConfigUpdate{SystemPromptAugment: u.Augment, ExitCommands: u.ExitCommands}
		}
	}()
	return out
}

func applyFlagOverrides(cfg *config.Config, f flags) {
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.reasoningEffort != "" {
		cfg.ReasoningEffort = f.reasoningEffort
	}
	if f.augment != "" {
		if cfg.Augment == "" {
			cfg.Augment = f.augment
		} else {
			cfg.Augment = cfg.Augment + "\n" + f.augment
		}
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if f.maxPasses > 0 {
		cfg.MaxPasses = f.maxPasses
	}
	if f.amnesiaAfter > 0 {
		cfg.AmnesiaAfter = f.amnesiaAfter
	}
}

type researchRequest struct {
	Goal  string `json:"goal"`
	Turns int    `json:"turns"`
}

// runHeadlessResearch drives a hands-free Runtime to completion without a
// TUI, printing assistant messages to stdout and status/error events to
// stderr as they arrive, and
// translating the final outcome into a POSIX-style error.
func runHeadlessResearch(ctx context.Context, options agentcore.RuntimeOptions, researchJSON string, stdout, stderr io.Writer) error {
	options.DisableInputReader = true
	options.DisableOutputForwarding = true
	options.HandsFree = true

	if researchJSON != "" {
		var req researchRequest
		if err := json.Unmarshal([]byte(researchJSON), &req); err != nil {
			return fmt.Errorf("cli: parse --research payload: %w", err)
		}
		options.HandsFreeTopic = req.Goal
		if req.Turns > 0 {
			options.MaxPasses = req.Turns
		}
	}

	runtime, err := agentcore.NewRuntime(options)
	if err != nil {
		return fmt.Errorf("cli: create runtime: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runtime.Run(runCtx) }()

	var lastMessage string
	var sawCompletion bool
	for evt := range runtime.Outputs() {
		switch evt.Type {
		case agentcore.EventTypeAssistantMessage:
			lastMessage = evt.Message
			fmt.Fprintln(stdout, evt.Message)
		case agentcore.EventTypeStatus:
			if strings.Contains(evt.Message, handsFreeCompleteMarker) {
				sawCompletion = true
			}
			fmt.Fprintln(stderr, evt.Message)
		case agentcore.EventTypeError:
			fmt.Fprintln(stderr, "error:", evt.Message)
		default:
			fmt.Fprintln(stderr, evt.Message)
		}
	}

	if runErr := <-done; runErr != nil {
		return runErr
	}
	if !sawCompletion {
		return fmt.Errorf("cli: session ended without completing (last message: %q)", lastMessage)
	}
	return nil
}

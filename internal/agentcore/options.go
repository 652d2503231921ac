package agentcore

import (
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// RuntimeOptions configures a Runtime. Zero-value fields are filled in by
// SetDefaults before a Runtime is constructed.
type RuntimeOptions struct {
	Model           string
	BaseURL         string
	APIKey          string
	ReasoningEffort string

	SystemPrompt        string
	SystemPromptAugment string

	MaxPasses     int
	AmnesiaAfter  int // passes an assistant or tool message survives before truncation
	MaxRetries    int
	RequestTimeout time.Duration

	InboundQueueSize  int
	OutboundQueueSize int

	WorkingDir string

	// HandsFree runs the orchestrator without a human in the loop: instead
	// of emitting EventTypeRequestInput and blocking, it auto-replies with
	// HandsFreeAutoReply until MaxPasses is reached or the model stops
	// requesting further input.
	HandsFree               bool
	HandsFreeTopic          string
	HandsFreeAutoReply      string
	DisableInputReader      bool
	DisableOutputForwarding bool

	HistoryLogPath string

	// InputReader/OutputWriter back the default stdin/stdout bridge Run
	// starts unless Disable{Input,Output}{Reader,Forwarding} is set.
	InputReader  io.Reader
	OutputWriter io.Writer

	// ExitCommands are matched case-insensitively by the default input
	// reader to trigger a graceful shutdown.
	ExitCommands []string

	// EmitTimeout bounds how long emit() blocks when nothing drains
	// Outputs(). Zero waits indefinitely.
	EmitTimeout time.Duration

	Logger  Logger
	Metrics Metrics

	// ConfigReload, if set, is drained once at the start of every pass. A
	// received update's non-zero fields replace the corresponding
	// RuntimeOptions fields live, letting a host's config-file watcher
	// (see internal/config.Watch) adjust ExitCommands without restarting
	// the Runtime. SystemPromptAugment is replaced in the options as well,
	// but the system message built by NewRuntime is not rebuilt, so a
	// reloaded augment does not change the prompt the model sees. The
	// channel is never closed by the Runtime; callers own its lifetime.
	ConfigReload <-chan ConfigUpdate
}

// ConfigUpdate carries the subset of RuntimeOptions a live config reload
// is allowed to change.
type ConfigUpdate struct {
	SystemPromptAugment string
	ExitCommands        []string
}

// Defaults mirror the teacher's options.go constants, extended with the
// amnesia/queue-size knobs this runtime adds.
const (
	DefaultModel             = "gpt-4o"
	DefaultMaxPasses         = 40
	DefaultAmnesiaAfter      = 6
	DefaultMaxRetries        = 5
	DefaultRequestTimeout    = 120 * time.Second
	DefaultInboundQueueSize  = 4
	DefaultOutboundQueueSize = 16
)

// SetDefaults fills unset fields with runtime defaults. It is always safe
// to call more than once.
func (o *RuntimeOptions) SetDefaults() {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if o.AmnesiaAfter <= 0 {
		o.AmnesiaAfter = DefaultAmnesiaAfter
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.InboundQueueSize <= 0 {
		o.InboundQueueSize = DefaultInboundQueueSize
	}
	if o.OutboundQueueSize <= 0 {
		o.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if o.WorkingDir == "" {
		o.WorkingDir = "."
	}
	if o.InputReader == nil {
		o.InputReader = os.Stdin
	}
	if o.OutputWriter == nil {
		o.OutputWriter = os.Stdout
	}
	if len(o.ExitCommands) == 0 {
		o.ExitCommands = []string{"exit", "quit", "/exit", "/quit"}
	}
	if o.HandsFree {
		o.HandsFreeTopic = strings.TrimSpace(o.HandsFreeTopic)
		if o.HandsFreeTopic == "" {
			o.HandsFreeTopic = "Hands-free session"
		}
	}
	if o.Logger == nil {
		o.Logger = NoOpLogger{}
	}
	if o.Metrics == nil {
		o.Metrics = NoOpMetrics{}
	}
}

// Validate reports the first configuration error found, if any.
func (o RuntimeOptions) Validate() error {
	if o.APIKey == "" {
		return errors.New("agentcore: APIKey is required")
	}
	if o.MaxPasses <= 0 {
		return errors.New("agentcore: MaxPasses must be positive")
	}
	if o.InboundQueueSize <= 0 || o.OutboundQueueSize <= 0 {
		return errors.New("agentcore: queue sizes must be positive")
	}
	return nil
}

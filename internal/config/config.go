// Package config loads taskwright's layered configuration: built-in
// defaults, an optional taskwright.yaml file, an optional .env file, the
// process environment, and finally CLI flags (applied by the caller after
// Load returns). A taskwright.yaml on disk is also watched for live
// updates to Augment and ExitCommands between agent passes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the orchestrator and CLI need. Struct tags
// are mapstructure keys used by viper.Unmarshal.
type Config struct {
	Model           string `mapstructure:"model"`
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	ReasoningEffort string `mapstructure:"reasoning_effort"`

	MaxPasses      int           `mapstructure:"max_passes"`
	AmnesiaAfter   int           `mapstructure:"amnesia_after"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	Augment      string   `mapstructure:"augment"`
	WorkingDir   string   `mapstructure:"working_dir"`
	ExitCommands []string `mapstructure:"exit_commands"`

	HandsFree          bool   `mapstructure:"hands_free"`
	HandsFreeTopic     string `mapstructure:"hands_free_topic"`
	HandsFreeAutoReply string `mapstructure:"hands_free_auto_reply"`
}

// envVarReplacer turns dotted/underscored mapstructure keys into the
// TASKWRIGHT_ prefixed environment variable viper looks for, e.g.
// "base_url" -> "TASKWRIGHT_BASE_URL".
var envVarReplacer = strings.NewReplacer(".", "_")

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", "gpt-4o")
	v.SetDefault("base_url", "https://api.openai.com/v1")
	v.SetDefault("reasoning_effort", "")
	v.SetDefault("max_passes", 40)
	v.SetDefault("amnesia_after", 6)
	v.SetDefault("max_retries", 5)
	v.SetDefault("request_timeout", "120s")
	v.SetDefault("working_dir", ".")
	v.SetDefault("exit_commands", []string{"exit", "quit", "/exit", "/quit"})
	v.SetDefault("hands_free", false)
}

// Load builds a Config from, in ascending priority: built-in defaults,
// configPath (or ./taskwright.yaml if configPath is empty and the file
// exists), a .env file in the current directory, and the process
// environment. CLI flags
// are layered on by the caller after Load returns, since pflag/cobra
// binding happens at the command layer.
func Load(configPath string) (*Config, error) {
	if envPath := strings.TrimSpace(configPath); envPath == "" {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load() // always honor ./.env, config path or not
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("taskwright")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("TASKWRIGHT")
	v.SetEnvKeyReplacer(envVarReplacer)
	v.AutomaticEnv()
	_ = v.BindEnv("api_key", "TASKWRIGHT_API_KEY", "OPENAI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Update describes a change observed on a watched config file. Only the
// fields a live reload is allowed to change are exposed; everything else
// requires a restart.
type Update struct {
	Augment      string
	ExitCommands []string
}

// Watch starts an fsnotify watch on path (typically taskwright.yaml) and
// sends an Update on the returned channel each time the file is written.
// The caller drains the channel between agent passes rather than
// blocking on it; Watch returns an error if path cannot be watched (e.g.
// it does not exist yet).
func Watch(path string) (<-chan Update, func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	updates := make(chan Update, 1)
	go func() {
		defer close(updates)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				update := Update{Augment: cfg.Augment, ExitCommands: cfg.ExitCommands}
				select {
				case updates <- update:
				default:
					// drop the stale pending update in favor of this write
					select {
					case <-updates:
					default:
					}
					updates <- update
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return updates, watcher.Close, nil
}

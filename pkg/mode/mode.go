// Package mode maps a selected practice feature to its session
// configuration: the system prompt handed opaquely to the transport, the
// greeting shown before any model output, and whether turn-stage alternation
// is enabled. Prompts are versioned configuration data, not control flow.
package mode

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID selects a practice feature.
type ID string

const (
	Tutor         ID = "tutor"
	Translator    ID = "translator"
	Pronunciation ID = "pronunciation"
)

// Params are the optional per-session knobs substituted into prompts.
type Params struct {
	// Level is the learner's proficiency, e.g. "beginner".
	Level string
	// Topic steers the conversation subject.
	Topic string
}

// Config is the resolved per-mode session configuration.
type Config struct {
	ID           ID     `yaml:"-"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Greeting     string `yaml:"greeting"`

	// Multistage enables alternating turn stages (source language vs.
	// pronunciation attempt).
	Multistage bool `yaml:"multistage"`

	// TipExtraction enables the pronunciation-tip marker scan on AI text.
	TipExtraction bool `yaml:"tip_extraction"`
}

//go:embed prompts.yaml
var embeddedPrompts []byte

type promptsFile struct {
	Version  int `yaml:"version"`
	Defaults struct {
		Level string `yaml:"level"`
		Topic string `yaml:"topic"`
	} `yaml:"defaults"`
	Modes map[ID]Config `yaml:"modes"`
}

// Registry holds the loaded mode configurations.
type Registry struct {
	version      int
	defaultLevel string
	defaultTopic string
	modes        map[ID]Config
}

// Load parses the embedded prompt configuration.
func Load() (*Registry, error) {
	return parse(embeddedPrompts)
}

// LoadFile parses a prompt configuration from disk, overriding the embedded
// defaults.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var file promptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompt config: %w", err)
	}
	if len(file.Modes) == 0 {
		return nil, fmt.Errorf("prompt config defines no modes")
	}
	for id, cfg := range file.Modes {
		if strings.TrimSpace(cfg.SystemPrompt) == "" {
			return nil, fmt.Errorf("mode %q has no system prompt", id)
		}
	}
	return &Registry{
		version:      file.Version,
		defaultLevel: file.Defaults.Level,
		defaultTopic: file.Defaults.Topic,
		modes:        file.Modes,
	}, nil
}

// Version returns the prompt configuration version.
func (r *Registry) Version() int { return r.version }

// Resolve returns the configuration for a mode with params substituted into
// its prompt and greeting.
func (r *Registry) Resolve(id ID, p Params) (Config, error) {
	cfg, ok := r.modes[id]
	if !ok {
		return Config{}, fmt.Errorf("unknown mode %q", id)
	}
	cfg.ID = id

	level := strings.TrimSpace(p.Level)
	if level == "" {
		level = r.defaultLevel
	}
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		topic = r.defaultTopic
	}

	sub := strings.NewReplacer("{level}", level, "{topic}", topic)
	cfg.SystemPrompt = sub.Replace(cfg.SystemPrompt)
	cfg.Greeting = sub.Replace(cfg.Greeting)
	return cfg, nil
}

package chat

import (
	"fmt"

	"github.com/kbukum/localchat/internal/engine"
	"github.com/kbukum/localchat/internal/prompt"
)

// BusyPolicy decides what a request does while another holds the engine.
type BusyPolicy string

const (
	// BusyBlock waits for the engine for as long as the caller does.
	BusyBlock BusyPolicy = "block"
	// BusyReject fails immediately with ENGINE_BUSY.
	BusyReject BusyPolicy = "reject"
)

// Token counters.
const (
	CounterEngine   = "engine"
	CounterEstimate = "estimate"
)

// Config configures the chat endpoint.
type Config struct {
	// Instruction is the fixed system text that opens every prompt.
	Instruction     string     `yaml:"instruction" mapstructure:"instruction"`
	MaxMessageBytes int        `yaml:"max_message_bytes" mapstructure:"max_message_bytes"`
	BusyPolicy      BusyPolicy `yaml:"busy_policy" mapstructure:"busy_policy"`
	// MaxTurns caps the stored history independently of the token budget.
	// Zero means unbounded.
	MaxTurns int `yaml:"max_turns" mapstructure:"max_turns"`
	// TokenCounter is "engine" (the model's tokenizer) or "estimate".
	TokenCounter  string `yaml:"token_counter" mapstructure:"token_counter"`
	CharsPerToken int    `yaml:"chars_per_token" mapstructure:"chars_per_token"`
	// LogConversation logs every user message and reply at info level.
	LogConversation bool `yaml:"log_conversation" mapstructure:"log_conversation"`

	Generation engine.Sampling `yaml:"generation" mapstructure:"generation"`
	Template   prompt.Template `yaml:"template" mapstructure:"template"`
}

// ApplyDefaults fills unset fields. Stop sequences default to the
// template's.
func (c *Config) ApplyDefaults() {
	if c.Instruction == "" {
		c.Instruction = prompt.DefaultInstruction
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 8 << 10
	}
	if c.BusyPolicy == "" {
		c.BusyPolicy = BusyBlock
	}
	if c.TokenCounter == "" {
		c.TokenCounter = CounterEngine
	}
	c.Template.ApplyDefaults()

	d := engine.DefaultSampling()
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = d.MaxTokens
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = d.Temperature
	}
	if c.Generation.TopK == 0 {
		c.Generation.TopK = d.TopK
	}
	if c.Generation.TopP == 0 {
		c.Generation.TopP = d.TopP
	}
	if len(c.Generation.Stop) == 0 {
		c.Generation.Stop = c.Template.Stop
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.BusyPolicy {
	case BusyBlock, BusyReject:
	default:
		return fmt.Errorf("busy_policy must be %q or %q (got: %q)", BusyBlock, BusyReject, c.BusyPolicy)
	}
	switch c.TokenCounter {
	case CounterEngine, CounterEstimate:
	default:
		return fmt.Errorf("token_counter must be %q or %q (got: %q)", CounterEngine, CounterEstimate, c.TokenCounter)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("max_turns must be non-negative (got: %d)", c.MaxTurns)
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("generation.top_p must be between 0 and 1 (got: %v)", c.Generation.TopP)
	}
	if c.Generation.Temperature < 0 {
		return fmt.Errorf("generation.temperature must be non-negative (got: %v)", c.Generation.Temperature)
	}
	return nil
}

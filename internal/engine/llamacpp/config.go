package llamacpp

import (
	"fmt"
	"net/url"
	"time"
)

// Config configures the llama.cpp server the engine runs or attaches to.
type Config struct {
	ModelPath   string `yaml:"model_path" mapstructure:"model_path"`
	ContextSize int    `yaml:"context_size" mapstructure:"context_size"`
	GPULayers   int    `yaml:"gpu_layers" mapstructure:"gpu_layers"`
	Threads     int    `yaml:"threads" mapstructure:"threads"`

	// ServerBinary is the llama-server executable, looked up in PATH when
	// not absolute.
	ServerBinary string   `yaml:"server_binary" mapstructure:"server_binary"`
	ExtraArgs    []string `yaml:"extra_args" mapstructure:"extra_args"`
	Host         string   `yaml:"host" mapstructure:"host"`
	Port         int      `yaml:"port" mapstructure:"port"`
	// ExternalURL attaches to an already running server instead of
	// spawning one. ModelPath is then informational only.
	ExternalURL string `yaml:"external_url" mapstructure:"external_url"`
	// Slot is the server slot whose cache holds the prompt prefix.
	Slot int `yaml:"slot" mapstructure:"slot"`

	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	HealthInterval time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
	// RequestTimeout bounds one completion. Zero, the default, lets a
	// generation run until the server finishes it.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	StopGrace      time.Duration `yaml:"stop_grace" mapstructure:"stop_grace"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.ModelPath == "" {
		c.ModelPath = "llama-2-7b-chat.Q4_K_M.gguf"
	}
	if c.ContextSize == 0 {
		c.ContextSize = 4096
	}
	if c.ServerBinary == "" {
		c.ServerBinary = "llama-server"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8081
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 2 * time.Minute
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 250 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ContextSize <= 0 {
		return fmt.Errorf("context_size must be positive (got: %d)", c.ContextSize)
	}
	if c.GPULayers < 0 {
		return fmt.Errorf("gpu_layers must be non-negative (got: %d)", c.GPULayers)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative (got: %s)", c.RequestTimeout)
	}
	if c.Slot < 0 {
		return fmt.Errorf("slot must be non-negative (got: %d)", c.Slot)
	}
	if c.ExternalURL != "" {
		u, err := url.Parse(c.ExternalURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("external_url is not a valid URL: %q", c.ExternalURL)
		}
		return nil
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got: %d)", c.Port)
	}
	return nil
}

// BaseURL is where the server is reached.
func (c *Config) BaseURL() string {
	if c.ExternalURL != "" {
		return c.ExternalURL
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Managed reports whether the engine spawns the server itself.
func (c *Config) Managed() bool {
	return c.ExternalURL == ""
}

// serverArgs builds the llama-server command line. One parallel slot keeps
// the whole context window for the single conversation.
func (c *Config) serverArgs() []string {
	args := []string{
		"-m", c.ModelPath,
		"-c", fmt.Sprint(c.ContextSize),
		"-ngl", fmt.Sprint(c.GPULayers),
		"--host", c.Host,
		"--port", fmt.Sprint(c.Port),
		"-np", "1",
	}
	if c.Threads > 0 {
		args = append(args, "-t", fmt.Sprint(c.Threads))
	}
	return append(args, c.ExtraArgs...)
}

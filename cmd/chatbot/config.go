package main

import (
	"fmt"

	"github.com/kbukum/localchat/config"
	"github.com/kbukum/localchat/internal/chat"
	"github.com/kbukum/localchat/internal/engine/llamacpp"
	"github.com/kbukum/localchat/observability"
	"github.com/kbukum/localchat/server"
)

const serviceName = "chatbot"

// envAliases keeps the variable names the chatbot has always read.
var envAliases = map[string]string{
	"LLM_MODEL_PATH":   "llm.model_path",
	"HOST_PORT":        "server.port",
	"LLM_N_CTX":        "llm.context_size",
	"LLM_N_GPU_LAYERS": "llm.gpu_layers",
}

// AppConfig is the chatbot configuration.
type AppConfig struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	LLM           llamacpp.Config      `yaml:"llm" mapstructure:"llm"`
	Chat          chat.Config          `yaml:"chat" mapstructure:"chat"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

func (c *AppConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.LLM.ApplyDefaults()
	c.Chat.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

func (c *AppConfig) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if c.LLM.ContextSize <= c.Chat.Generation.MaxTokens {
		return fmt.Errorf("llm.context_size (%d) must exceed chat.generation.max_tokens (%d)",
			c.LLM.ContextSize, c.Chat.Generation.MaxTokens)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// loadConfig reads config.yml and the environment into an AppConfig.
func loadConfig(configFile, envFile string, extra ...config.LoaderOption) (*AppConfig, error) {
	opts := []config.LoaderOption{
		config.WithConfigFile(configFile),
		config.WithEnvFile(envFile),
		config.WithEnvAliases(envAliases),
		config.WithDefault("name", serviceName),
		config.WithDefault("chat.log_conversation", true),
	}
	var cfg AppConfig
	if err := config.LoadConfig(serviceName, &cfg, append(opts, extra...)...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type testConfig struct {
	ServiceConfig `mapstructure:",squash"`
	Server        struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	LLM struct {
		ModelPath   string `mapstructure:"model_path"`
		ContextSize int    `mapstructure:"context_size"`
	} `mapstructure:"llm"`
}

type fakeFS struct {
	files  map[string]bool
	loaded []string
}

func (f *fakeFS) Exists(path string) bool { return f.files[path] }
func (f *fakeFS) LoadEnv(path string) error {
	f.loaded = append(f.loaded, path)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

const sampleYAML = `
name: chatbot
environment: staging
server:
  port: 5000
llm:
  model_path: model.gguf
  context_size: 4096
`

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", sampleYAML)

	var cfg testConfig
	if err := LoadConfig("chatbot", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Name != "chatbot" || cfg.Environment != "staging" {
		t.Errorf("unexpected service config %+v", cfg.ServiceConfig)
	}
	if cfg.Server.Port != 5000 || cfg.LLM.ModelPath != "model.gguf" || cfg.LLM.ContextSize != 4096 {
		t.Errorf("unexpected values %+v", cfg)
	}
}

func TestEnvOverridesFileByPath(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", sampleYAML)
	t.Setenv("LLM_CONTEXT_SIZE", "2048")

	var cfg testConfig
	if err := LoadConfig("chatbot", &cfg, WithConfigFile(path)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.ContextSize != 2048 {
		t.Errorf("expected 2048, got %d", cfg.LLM.ContextSize)
	}
}

func TestEnvAliases(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", sampleYAML)
	t.Setenv("HOST_PORT", "8080")
	t.Setenv("LLM_N_CTX", "1024")

	var cfg testConfig
	err := LoadConfig("chatbot", &cfg,
		WithConfigFile(path),
		WithEnvAliases(map[string]string{
			"HOST_PORT": "server.port",
			"LLM_N_CTX": "llm.context_size",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.LLM.ContextSize != 1024 {
		t.Errorf("expected context 1024, got %d", cfg.LLM.ContextSize)
	}
}

func TestDefaultsApplyWhenUnset(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("chatbot", &cfg,
		WithFileSystem(&fakeFS{}),
		WithDefault("llm.model_path", "default.gguf"),
		WithDefault("server.port", 5000),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.ModelPath != "default.gguf" || cfg.Server.Port != 5000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestEnvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "LLM_MODEL_PATH=from-env-file.gguf\n")
	t.Setenv("LLM_MODEL_PATH", "")
	os.Unsetenv("LLM_MODEL_PATH")

	var cfg testConfig
	if err := LoadConfig("chatbot", &cfg, WithEnvFile(envPath)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.ModelPath != "from-env-file.gguf" {
		t.Errorf("expected value from env file, got %q", cfg.LLM.ModelPath)
	}
}

func TestBrokenConfigFileFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yml", "name: [unclosed")
	var cfg testConfig
	if err := LoadConfig("chatbot", &cfg, WithConfigFile(path)); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestResolveFilesSearchOrder(t *testing.T) {
	fs := &fakeFS{files: map[string]bool{
		"./cmd/chatbot/config.yml": true,
		"./config.yml":             true,
		"./.env":                   true,
	}}
	files := ResolveFiles(fs, "chatbot", "", "")
	if files.ConfigFile != "./cmd/chatbot/config.yml" {
		t.Errorf("expected cmd config first, got %q", files.ConfigFile)
	}
	if files.EnvFile != "./.env" {
		t.Errorf("expected ./.env, got %q", files.EnvFile)
	}

	missing := ResolveFiles(fs, "chatbot", "/nope.yml", "")
	if missing.ConfigFile != "" {
		t.Errorf("expected missing explicit file to resolve empty, got %q", missing.ConfigFile)
	}
}

func TestKeyVariants(t *testing.T) {
	got := KeyVariants("CHAT_MAX_TOKENS")
	want := []string{"chat_max_tokens", "chat.max.tokens", "chat.max_tokens", "chat_max.tokens"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := KeyVariants("DEBUG"); !reflect.DeepEqual(got, []string{"debug"}) {
		t.Errorf("unexpected single-part variants %v", got)
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := ServiceConfig{Name: "chatbot"}
	cfg.ApplyDefaults()
	if cfg.Environment != "development" || !cfg.Debug {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Logging.ServiceName != "chatbot" {
		t.Errorf("expected logging service name, got %q", cfg.Logging.ServiceName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		cfg    ServiceConfig
		errMsg string
	}{
		{"missing name", ServiceConfig{Environment: "production"}, "name is required"},
		{"bad environment", ServiceConfig{Name: "x", Environment: "qa"}, "environment must be one of"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.Logging.ApplyDefaults()
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

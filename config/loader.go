package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts the file operations the loader needs.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// OSFileSystem is the FileSystem backed by the real disk.
type OSFileSystem struct{}

func (OSFileSystem) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (OSFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Files holds the resolved config and env file paths. Empty means none.
type Files struct {
	ConfigFile string
	EnvFile    string
}

// loaderOptions holds optional overrides for LoadConfig.
type loaderOptions struct {
	fs         FileSystem
	configFile string
	envFile    string
	aliases    map[string]string
	defaults   map[string]interface{}
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*loaderOptions)

// WithFileSystem replaces the disk access used to find and read files.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(o *loaderOptions) { o.fs = fs }
}

// WithConfigFile sets an explicit config file path, skipping the search.
func WithConfigFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path, skipping the search.
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvAliases maps environment variable names that do not follow the
// path convention onto config keys, e.g. "HOST_PORT" -> "server.port".
// Aliases win over path-derived bindings of the same key.
func WithEnvAliases(aliases map[string]string) LoaderOption {
	return func(o *loaderOptions) {
		if o.aliases == nil {
			o.aliases = make(map[string]string, len(aliases))
		}
		for env, key := range aliases {
			o.aliases[env] = key
		}
	}
}

// WithDefault sets the value a key takes when neither file nor env sets it.
func WithDefault(key string, value interface{}) LoaderOption {
	return func(o *loaderOptions) {
		if o.defaults == nil {
			o.defaults = make(map[string]interface{})
		}
		o.defaults[key] = value
	}
}

// LoadConfig resolves the config and env files for serviceName, layers the
// environment on top and unmarshals the result into cfg.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	o := loaderOptions{fs: OSFileSystem{}}
	for _, opt := range opts {
		opt(&o)
	}

	files := ResolveFiles(o.fs, serviceName, o.configFile, o.envFile)

	v := viper.New()
	for key, value := range o.defaults {
		v.SetDefault(key, value)
	}

	if files.ConfigFile != "" {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
		}
	}

	if files.EnvFile != "" {
		if err := o.fs.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", files.EnvFile, err)
		}
	}

	bindEnvironment(v, os.Environ(), o.aliases)

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config for %s: %w", serviceName, err)
	}
	return nil
}

// ResolveFiles returns explicit paths when given and otherwise the first
// match from the standard search locations.
func ResolveFiles(fs FileSystem, serviceName, configFile, envFile string) Files {
	files := Files{ConfigFile: configFile, EnvFile: envFile}
	if files.ConfigFile == "" {
		files.ConfigFile = firstExisting(fs, configCandidates(serviceName))
	} else if !fs.Exists(files.ConfigFile) {
		files.ConfigFile = ""
	}
	if files.EnvFile == "" {
		files.EnvFile = firstExisting(fs, envCandidates(serviceName))
	} else if !fs.Exists(files.EnvFile) {
		files.EnvFile = ""
	}
	return files
}

func configCandidates(serviceName string) []string {
	var paths []string
	for _, up := range []string{"./", "../", "../../"} {
		paths = append(paths, fmt.Sprintf("%scmd/%s/config.yml", up, serviceName))
	}
	return append(paths, "./config/config.yml", "./config.yml")
}

func envCandidates(serviceName string) []string {
	return []string{
		fmt.Sprintf("./cmd/%s/.env", serviceName),
		fmt.Sprintf("./.env.%s", serviceName),
		"./.env",
		"../.env",
	}
}

func firstExisting(fs FileSystem, paths []string) string {
	for _, p := range paths {
		if fs.Exists(p) {
			return p
		}
	}
	return ""
}

// bindEnvironment sets every environment variable under each nested key it
// could address, then applies aliases so they take precedence.
func bindEnvironment(v *viper.Viper, environ []string, aliases map[string]string) {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		values[name] = value
		if _, aliased := aliases[name]; aliased {
			continue
		}
		for _, key := range KeyVariants(name) {
			v.Set(key, value)
		}
	}

	// Deterministic order when two aliases point at the same key.
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if value, ok := values[name]; ok {
			v.Set(aliases[name], value)
		}
	}
}

// KeyVariants lists the config keys an UPPER_SNAKE env name may refer to.
//
//	CHAT_MAX_TOKENS -> chat_max_tokens, chat.max.tokens, chat.max_tokens, chat_max.tokens
func KeyVariants(envName string) []string {
	lower := strings.ToLower(envName)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}

	add(lower)
	add(strings.Join(parts, "."))
	for i := 1; i < len(parts); i++ {
		add(strings.Join(parts[:i], ".") + "." + strings.Join(parts[i:], "_"))
		add(strings.Join(parts[:i], "_") + "." + strings.Join(parts[i:], "."))
	}
	return out
}

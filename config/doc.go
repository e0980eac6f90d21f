// Package config loads service configuration from a YAML file, an optional
// .env file and the process environment.
//
// Layering, lowest to highest precedence:
//
//  1. config.yml (./cmd/<service>/config.yml, ./config/config.yml, ./config.yml)
//  2. .env values (not overriding variables already set in the process)
//  3. environment variables, bound by path (LOGGING_LEVEL -> logging.level)
//  4. explicit aliases registered with WithEnvAliases
//
// # Usage
//
//	var cfg AppConfig
//	err := config.LoadConfig("chatbot", &cfg,
//	    config.WithEnvAliases(map[string]string{"HOST_PORT": "server.port"}),
//	)
package config

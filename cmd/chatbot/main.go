// chatbot serves a browser chat UI and a JSON API in front of a local
// llama.cpp model.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/kbukum/localchat/bootstrap"
	apperrors "github.com/kbukum/localchat/errors"
	"github.com/kbukum/localchat/internal/chat"
	"github.com/kbukum/localchat/internal/engine/llamacpp"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/observability"
	"github.com/kbukum/localchat/server"
	"github.com/kbukum/localchat/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to config.yml (default: searched)")
	envFile := flags.String("env-file", "", "path to a .env file (default: searched)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(serviceName, version.Get().String())
		return nil
	}

	cfg, err := loadConfig(*configFile, *envFile)
	if err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version.Get().Version
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()

	shutdownTelemetry, err := observability.Setup(ctx, cfg.Observability, app.Name, app.Version)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			app.Logger.Warn("Telemetry shutdown failed", logger.ErrorFields("telemetry_shutdown", err))
		}
	}()

	if err := wire(app); err != nil {
		return err
	}

	if err := app.Run(ctx); err != nil {
		appErr := apperrors.StartupFailed(app.Name, err)
		app.Logger.Error(appErr.Message, logger.ErrorFields("startup", err))
		return appErr
	}
	return nil
}

// wire builds the engine, the chat core and the HTTP server and registers
// them in start order: the model must be loaded before the port opens.
func wire(app *bootstrap.App[*AppConfig]) error {
	cfg := app.Cfg

	var metrics *observability.ChatMetrics
	if cfg.Observability.Enabled {
		m, err := observability.NewChatMetrics(observability.Meter(serviceName))
		if err != nil {
			return err
		}
		metrics = m
	}

	eng, err := llamacpp.New(cfg.LLM, app.Logger.WithComponent("llm"))
	if err != nil {
		return err
	}

	chatLog := app.Logger.WithComponent("chat")
	orch, err := chat.New(cfg.Chat, eng, cfg.LLM.ContextSize,
		chat.WithLogger(chatLog),
		chat.WithMetrics(metrics),
		chat.WithObserver(func(requestID string, from, to chat.State) {
			chatLog.Debug("Request state", logger.Fields(logger.FieldRequestID, requestID, "from", string(from), "to", string(to)))
		}),
	)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	srv := server.New(cfg.Server, app.Logger)
	chat.NewHandler(orch).Register(srv.GinEngine())
	srv.RegisterDefaultEndpoints(app.Name, app.Components.HealthAll, func() map[string]any {
		return map[string]any{
			"model":       filepath.Base(cfg.LLM.ModelPath),
			"context":     cfg.LLM.ContextSize,
			"session_id":  orch.Session().ID,
			"turns":       orch.Session().Store.Len(),
			"busy_policy": cfg.Chat.BusyPolicy,
			"cache":       orch.Cache().Stats(),
		}
	})
	srv.ApplyMiddleware()

	if err := app.RegisterComponent(eng); err != nil {
		return err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return err
	}

	app.OnReady(func(ctx context.Context) error {
		if err := orch.Warm(ctx); err != nil {
			app.Logger.Warn("Prompt cache warm-up failed, first request will retry", logger.ErrorFields("warm", err))
		}
		return nil
	})
	app.OnStop(func(context.Context) error {
		orch.Cache().Invalidate()
		return nil
	})

	app.Summary.AddNote("model %s (ctx=%d, gpu_layers=%d)", cfg.LLM.ModelPath, cfg.LLM.ContextSize, cfg.LLM.GPULayers)
	app.Summary.AddNote("token counter %s, busy policy %s, max %d tokens per reply",
		cfg.Chat.TokenCounter, cfg.Chat.BusyPolicy, cfg.Chat.Generation.MaxTokens)
	return nil
}

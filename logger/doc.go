// Package logger provides structured logging on top of zerolog.
//
// A process initializes the global logger once from config and components
// fetch tagged children by name:
//
//	logger.Init(cfg.Logging)
//	log := logger.Get("orchestrator")
//	log.Info("reply sent", logger.Fields("turns", 4))
package logger

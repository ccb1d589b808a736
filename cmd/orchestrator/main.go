package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "leadforge/configs"
	"leadforge/pkg/lifecycle"
	"leadforge/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	logCfg := logger.DefaultConfig("leadforge-orchestrator")
	logCfg.Level = cfg.LogLevel
	if cfg.LogFile != "" {
		logCfg.OutputPath = cfg.LogFile
	}
	if _, err := logger.Init(logCfg); err != nil {
		panic(err)
	}
	log := logger.Get()
	log.Info("leadforge orchestrator starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	orch, err := lifecycle.New(cfg)
	if err != nil {
		log.Fatal("failed to initialize orchestrator", zap.Error(err))
	}

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				log.Info("reload signal received")
				if err := orch.Reload(ctx); err != nil {
					log.Warn("reload failed", zap.Error(err))
				}
				continue
			}
			log.Info("shutdown signal received")
			cancel()
			return
		}
	}()

	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("orchestrator exited with error", zap.Error(err))
	}

	log.Info("leadforge orchestrator stopped")
}

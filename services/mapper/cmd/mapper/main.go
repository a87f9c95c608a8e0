package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/config"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/internal/platform/logging"
	"github.com/example/anime-mapper/internal/platform/run"
	"github.com/example/anime-mapper/services/mapper/internal/app"
	mapperconfig "github.com/example/anime-mapper/services/mapper/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	mcfg, err := mapperconfig.Load()
	if err != nil {
		log.Error("load mapper config", zap.Error(err))
		run.Exit(1)
	}

	a, err := app.New(context.Background(), mcfg, log)
	if err != nil {
		log.Error("init mapper", zap.Error(err))
		run.Exit(1)
	}

	srv := httpserver.New(httpserver.Options{
		Addr:         cfg.HTTP.Addr,
		ServiceName:  cfg.ServiceName,
		Logger:       log,
		Router:       a.Router(),
		WriteTimeout: mcfg.RequestTimeout * 2,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(context.Context) error {
		return srv.Start()
	})
	runner.Graceful(srv.Shutdown)
	a.Close()

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

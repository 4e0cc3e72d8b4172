package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"nimbus/internal/adapter/gateway"
	"nimbus/internal/infra/config"
	"nimbus/internal/infra/logger"
	"nimbus/internal/infra/tracer"
)

func runServe() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := gateway.NewServer(cfg.Gateway, gateway.Deps{
		Agent:     a.agent,
		LLM:       a.llm,
		Registry:  a.registry,
		Knowledge: a.knowledge,
		Bus:       a.bus,
		Models:    a.models,
		Logger:    log,
	})
	return srv.Start(ctx)
}

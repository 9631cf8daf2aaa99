package cmd

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/synadia-labs/workload-probe/internal/config"
	"github.com/synadia-labs/workload-probe/internal/logger"
	"github.com/synadia-labs/workload-probe/internal/service"
)

// app holds what every subcommand needs.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	closeLog func() error
	insp     service.Inspector
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	runner, err := service.NewRunner(cfg.Command)
	if err != nil {
		closeLog()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		insp:     service.NewInspector(service.NewFetcher(cfg.Fetch), runner),
	}, nil
}

func (a *app) close() {
	if err := a.closeLog(); err != nil {
		a.log.Error().Err(err).Msg("error closing log output")
	}
}

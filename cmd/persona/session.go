package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/kingrea/persona/internal/config"
	"github.com/kingrea/persona/internal/logbook"
	"github.com/kingrea/persona/internal/logging"
	"github.com/kingrea/persona/internal/orchestrator"
)

// runtime bundles what every subcommand needs.
type runtime struct {
	config  *config.Config
	session *orchestrator.Session
	logger  *logging.Logger
	logbook *logbook.Logbook
}

func openRuntime(ctx context.Context, dir string) (*runtime, error) {
	if err := config.InitPersonaDir(dir); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(dir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), "session.log"))
	if err != nil {
		logger.Close()
		return nil, err
	}
	s, err := orchestrator.FromConfig(ctx, cfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithJournal(lb))
	if err != nil {
		logger.Close()
		return nil, err
	}
	return &runtime{config: cfg, session: s, logger: logger, logbook: lb}, nil
}

func (r *runtime) Close() error {
	return errors.Join(r.session.Close(), r.logger.Close())
}

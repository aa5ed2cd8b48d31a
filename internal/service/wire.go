package service

import (
	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
	"github.com/polzovatel/unsubscribe-agent/internal/config"
	"github.com/polzovatel/unsubscribe-agent/internal/llm"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
)

// Build wires the production service: SQLite store, playwright-backed browser
// sessions and the configured planning model. The returned func releases them.
func Build(cfg config.Config, logger zerolog.Logger) (*Service, func(), error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	preferred, fallback := browser.Profiles(cfg)
	pageOpts := browser.DefaultPageOptions()
	pageOpts.ActionTimeout = cfg.ActionTimeout
	sessions := browser.NewManager(
		browser.NewPlaywrightDriver(logger.With().Str("comp", "playwright").Logger()),
		preferred, fallback, pageOpts,
		logger.With().Str("comp", "session").Logger(),
	)

	model, modelErr := llm.NewClientWithLogger(logger.With().Str("comp", "llm").Logger())
	if modelErr != nil {
		logger.Warn().Err(modelErr).Msg("planning model unavailable, fallback planning only")
		model = nil
	}

	svc := New(cfg, Deps{
		Sessions: sessions,
		DB:       db,
		Model:    model,
		ModelErr: modelErr,
	}, logger)

	cleanup := func() {
		if err := sessions.Shutdown(); err != nil {
			logger.Debug().Err(err).Msg("browser shutdown")
		}
		if err := db.Close(); err != nil {
			logger.Debug().Err(err).Msg("database close")
		}
	}
	return svc, cleanup, nil
}

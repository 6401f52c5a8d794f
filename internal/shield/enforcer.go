package shield

import (
	"context"

	"github.com/rs/zerolog"
)

// LogEnforcer records shield calls in the log only. The shared shieldedApps
// set is what the host bridge enforces, so the daemon needs nothing more.
type LogEnforcer struct {
	logger zerolog.Logger
}

// NewLogEnforcer creates a log-only enforcer
func NewLogEnforcer(logger zerolog.Logger) *LogEnforcer {
	return &LogEnforcer{logger: logger.With().Str("component", "shield-enforcer").Logger()}
}

// Shield implements Enforcer
func (e *LogEnforcer) Shield(_ context.Context, packageID string, token []byte) error {
	e.logger.Info().Str("package", packageID).Int("token_bytes", len(token)).Msg("Shield requested")
	return nil
}

// Unshield implements Enforcer
func (e *LogEnforcer) Unshield(_ context.Context, packageID string, token []byte) error {
	e.logger.Info().Str("package", packageID).Int("token_bytes", len(token)).Msg("Unshield requested")
	return nil
}

// Package shield applies and removes application shields.
package shield

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/rs/zerolog"
)

// Enforcer is the host shield-enforcement interface. Tokens are opaque
// monitoring handles and are passed through unchanged.
type Enforcer interface {
	Shield(ctx context.Context, packageID string, token []byte) error
	Unshield(ctx context.Context, packageID string, token []byte) error
}

// Manager runs the per-app Unshielded/Shielded state machine. The shielded
// flag lives in the shared AppStore so every process sees the same state.
type Manager struct {
	enforcer Enforcer
	apps     storage.AppStore
	logger   zerolog.Logger

	mu      sync.Mutex
	decider Decider
}

// NewManager creates a shield manager
func NewManager(enforcer Enforcer, apps storage.AppStore, decider Decider, logger zerolog.Logger) *Manager {
	if decider == nil {
		decider = ThresholdDecider{}
	}

	return &Manager{
		enforcer: enforcer,
		apps:     apps,
		decider:  decider,
		logger:   logger.With().Str("component", "shield").Logger(),
	}
}

// SetDecider swaps the decision policy
func (m *Manager) SetDecider(d Decider) {
	m.mu.Lock()
	m.decider = d
	m.mu.Unlock()
}

// Decider returns the active decision policy
func (m *Manager) Decider() Decider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decider
}

// Evaluate shields the package when the policy says so and it is not
// already shielded. It returns true when a shield was applied by this call.
func (m *Manager) Evaluate(ctx context.Context, packageID string, total int, kind storage.EventKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, err := m.apps.Get(ctx, packageID)
	if errors.Is(err, storage.ErrNotFound) {
		m.logger.Debug().Str("package", packageID).Msg("Skipping shield evaluation for unmonitored package")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load monitored app: %w", err)
	}

	if app.Shielded {
		return false, nil
	}

	block, err := m.decider.ShouldShield(ctx, Input{
		Package: packageID,
		Minutes: total,
		Limit:   app.DailyLimitMinutes,
		Kind:    string(kind),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate shield policy: %w", err)
	}
	if !block {
		return false, nil
	}

	if err := m.enforcer.Shield(ctx, packageID, app.Token); err != nil {
		return false, fmt.Errorf("failed to shield %s: %w", packageID, err)
	}

	if err := m.apps.SetShielded(ctx, packageID, true); err != nil {
		return true, fmt.Errorf("failed to record shield state: %w", err)
	}

	metrics.ShieldsApplied.Inc()
	m.logger.Info().
		Str("package", packageID).
		Int("minutes", total).
		Int("limit", app.DailyLimitMinutes).
		Str("event_kind", string(kind)).
		Msg("Application shielded")

	return true, nil
}

// Unblock removes the shield of a package. Unblocking an unshielded or
// unknown package is a no-op.
func (m *Manager) Unblock(ctx context.Context, packageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unshield(ctx, packageID, "unblock")
}

// LimitChanged removes the shield when the new limit exceeds current usage
func (m *Manager) LimitChanged(ctx context.Context, packageID string, newLimit, usedMinutes int) (bool, error) {
	if newLimit <= usedMinutes {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unshield(ctx, packageID, "limit_raised")
}

// ClearAll removes every shield and returns how many were cleared
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shielded, err := m.apps.ListShielded(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list shielded apps: %w", err)
	}

	cleared := 0
	var errs []error
	for _, pkg := range shielded {
		ok, err := m.unshield(ctx, pkg, "rollover")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cleared++
		}
	}

	return cleared, errors.Join(errs...)
}

func (m *Manager) unshield(ctx context.Context, packageID, reason string) (bool, error) {
	app, err := m.apps.Get(ctx, packageID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load monitored app: %w", err)
	}

	if !app.Shielded {
		return false, nil
	}

	if err := m.enforcer.Unshield(ctx, packageID, app.Token); err != nil {
		return false, fmt.Errorf("failed to unshield %s: %w", packageID, err)
	}

	if err := m.apps.SetShielded(ctx, packageID, false); err != nil {
		return true, fmt.Errorf("failed to record shield state: %w", err)
	}

	metrics.ShieldsCleared.WithLabelValues(reason).Inc()
	m.logger.Info().
		Str("package", packageID).
		Str("reason", reason).
		Msg("Application unshielded")

	return true, nil
}

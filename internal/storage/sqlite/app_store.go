package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/tabnova/internal/storage"
)

type appStore struct {
	db *sql.DB
}

// Upsert stores or replaces a monitored app
func (s *appStore) Upsert(ctx context.Context, app storage.MonitoredApp) error {
	if app.PackageID == "" {
		return fmt.Errorf("package id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_apps (package_id, display_name, daily_limit, shielded, token, monitoring_since)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_id) DO UPDATE SET
			display_name = excluded.display_name,
			daily_limit = excluded.daily_limit,
			shielded = excluded.shielded,
			token = COALESCE(excluded.token, monitored_apps.token),
			monitoring_since = excluded.monitoring_since
	`, app.PackageID, app.DisplayName, app.DailyLimitMinutes, app.Shielded, nullableBytes(app.Token), toUnixNano(app.MonitoringSince))
	if err != nil {
		return fmt.Errorf("failed to upsert monitored app: %w", err)
	}
	return nil
}

// Get retrieves a monitored app by package id
func (s *appStore) Get(ctx context.Context, packageID string) (*storage.MonitoredApp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT package_id, display_name, daily_limit, shielded, token, monitoring_since
		FROM monitored_apps WHERE package_id = ?
	`, packageID)

	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return app, err
}

// List returns every monitored app ordered by package id
func (s *appStore) List(ctx context.Context) ([]storage.MonitoredApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT package_id, display_name, daily_limit, shielded, token, monitoring_since
		FROM monitored_apps ORDER BY package_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]storage.MonitoredApp, 0)
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}

	return apps, rows.Err()
}

// Delete removes an app; unknown apps are ignored
func (s *appStore) Delete(ctx context.Context, packageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM monitored_apps WHERE package_id = ?`, packageID); err != nil {
		return fmt.Errorf("failed to delete monitored app: %w", err)
	}
	return nil
}

// SetShielded records the shield state of a package
func (s *appStore) SetShielded(ctx context.Context, packageID string, shielded bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE monitored_apps SET shielded = ? WHERE package_id = ?`, shielded, packageID)
	return err
}

// ListShielded returns the shielded package ids
func (s *appStore) ListShielded(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT package_id FROM monitored_apps WHERE shielded = 1 ORDER BY package_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(row scanner) (*storage.MonitoredApp, error) {
	var app storage.MonitoredApp
	var since int64
	if err := row.Scan(&app.PackageID, &app.DisplayName, &app.DailyLimitMinutes, &app.Shielded, &app.Token, &since); err != nil {
		return nil, err
	}
	app.MonitoringSince = fromUnixNano(since)
	return &app, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

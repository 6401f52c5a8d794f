package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/redis/go-redis/v9"
)

type appStore struct {
	client *redis.Client
	keys   keys
}

// Upsert stores the app limit, opaque token and display metadata
func (s *appStore) Upsert(ctx context.Context, app storage.MonitoredApp) error {
	if app.PackageID == "" {
		return fmt.Errorf("package id is required")
	}

	mapping, err := json.Marshal(tokenMapping{
		DisplayName:     app.DisplayName,
		MonitoringSince: app.MonitoringSince,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token mapping: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.key(keyMonitoredApplications), app.PackageID, app.DailyLimitMinutes)
		pipe.Set(ctx, s.keys.key(keyMonitoredLimit+app.PackageID), app.DailyLimitMinutes, 0)
		if len(app.Token) > 0 {
			pipe.Set(ctx, s.keys.key(keyMonitoredSelection+app.PackageID), app.Token, 0)
		}
		pipe.HSet(ctx, s.keys.key(keyAppTokenMappings), app.PackageID, string(mapping))
		if app.Shielded {
			pipe.SAdd(ctx, s.keys.key(keyShieldedApps), app.PackageID)
		} else {
			pipe.SRem(ctx, s.keys.key(keyShieldedApps), app.PackageID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert monitored app: %w", err)
	}

	return nil
}

// Get retrieves a monitored app by package id
func (s *appStore) Get(ctx context.Context, packageID string) (*storage.MonitoredApp, error) {
	rawLimit, err := s.client.HGet(ctx, s.keys.key(keyMonitoredApplications), packageID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	limit, err := parseLimit(rawLimit)
	if err != nil {
		return nil, err
	}

	return s.load(ctx, packageID, limit)
}

// List returns every monitored app ordered by package id
func (s *appStore) List(ctx context.Context) ([]storage.MonitoredApp, error) {
	limits, err := s.client.HGetAll(ctx, s.keys.key(keyMonitoredApplications)).Result()
	if err != nil {
		return nil, err
	}

	apps := make([]storage.MonitoredApp, 0, len(limits))
	for packageID, rawLimit := range limits {
		limit, err := parseLimit(rawLimit)
		if err != nil {
			continue
		}

		app, err := s.load(ctx, packageID, limit)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}

	sort.Slice(apps, func(i, j int) bool {
		return apps[i].PackageID < apps[j].PackageID
	})

	return apps, nil
}

// load fetches the token, mapping and shield state of one app
func (s *appStore) load(ctx context.Context, packageID string, limit int) (*storage.MonitoredApp, error) {
	pipe := s.client.Pipeline()
	tokenCmd := pipe.Get(ctx, s.keys.key(keyMonitoredSelection+packageID))
	mappingCmd := pipe.HGet(ctx, s.keys.key(keyAppTokenMappings), packageID)
	shieldedCmd := pipe.SIsMember(ctx, s.keys.key(keyShieldedApps), packageID)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	token, _ := tokenCmd.Bytes()
	mapping := parseTokenMapping(mappingCmd.Val())

	return &storage.MonitoredApp{
		PackageID:         packageID,
		DisplayName:       mapping.DisplayName,
		DailyLimitMinutes: limit,
		Shielded:          shieldedCmd.Val(),
		Token:             token,
		MonitoringSince:   mapping.MonitoringSince,
	}, nil
}

// Delete removes every key of the app; unknown apps are ignored
func (s *appStore) Delete(ctx context.Context, packageID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.keys.key(keyMonitoredApplications), packageID)
		pipe.Del(ctx, s.keys.key(keyMonitoredLimit+packageID))
		pipe.Del(ctx, s.keys.key(keyMonitoredSelection+packageID))
		pipe.HDel(ctx, s.keys.key(keyAppTokenMappings), packageID)
		pipe.SRem(ctx, s.keys.key(keyShieldedApps), packageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete monitored app: %w", err)
	}
	return nil
}

// SetShielded records the shield state of a package
func (s *appStore) SetShielded(ctx context.Context, packageID string, shielded bool) error {
	key := s.keys.key(keyShieldedApps)
	if shielded {
		return s.client.SAdd(ctx, key, packageID).Err()
	}
	return s.client.SRem(ctx, key, packageID).Err()
}

// ListShielded returns the shielded package ids
func (s *appStore) ListShielded(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.keys.key(keyShieldedApps)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		Email:             "parent@example.com",
		ProfileID:         "profile-123",
		SerialNumber:      "SN-001",
		AppVersion:        "1.2.3",
		BatteryPercentage: 80,
	}
}

func newTestClient(baseURL string, device config.DeviceConfig) *Client {
	c := New(config.BackendConfig{BaseURL: baseURL, AuthToken: "test-token", Timeout: "5s"}, device, zerolog.Nop())
	c.SetClock(&clock.TestClock{CurrentTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)})
	return c
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"absent", "", 10},
		{"null", "null", 10},
		{"string zero", `"0"`, 10},
		{"number zero", "0", 10},
		{"negative", "-5", 10},
		{"garbage string", `"abc"`, 10},
		{"object", `{}`, 10},
		{"number", "30", 30},
		{"string", `"45"`, 45},
		{"padded string", `" 15 "`, 15},
		{"float", "12.0", 12},
		{"float string", `"20.4"`, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLimit(json.RawMessage(tt.raw)))
		})
	}
}

func TestFetchApplications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/application/list", r.URL.Path)
		assert.Equal(t, "profile-123", r.URL.Query().Get("profile_id"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"applications":[
			{"package_name":"com.example.game","dailyLimitTimeNumber":"30","usedLimit":12,"display_text":"Game"},
			{"package_name":"com.example.chat","dailyLimitTimeNumber":null},
			{"package_name":"com.example.video","dailyLimitTimeNumber":"0","usedLimit":"7"},
			{"package_name":"com.example.maps"},
			{"package_name":"","dailyLimitTimeNumber":5}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, testDevice())
	apps, err := client.FetchApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 4)

	assert.Equal(t, Application{PackageName: "com.example.game", DisplayText: "Game", DailyLimitMinutes: 30, UsedMinutes: 12}, apps[0])
	assert.Equal(t, 10, apps[1].DailyLimitMinutes)
	assert.Equal(t, 10, apps[2].DailyLimitMinutes)
	assert.Equal(t, 7, apps[2].UsedMinutes)
	assert.Equal(t, 10, apps[3].DailyLimitMinutes)
}

func TestFetchApplications_MissingProfile(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	device := testDevice()
	device.ProfileID = ""
	client := newTestClient(server.URL, device)

	_, err := client.FetchApplications(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Contains(t, err.Error(), "Profile ID is not set")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestReportUsage(t *testing.T) {
	var got UsageReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/application/usage/create", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, testDevice())
	err := client.ReportUsage(context.Background(), "com.example.app", "2024-01-15", 10)
	require.NoError(t, err)

	assert.Equal(t, "parent@example.com", got.Email)
	assert.Equal(t, "profile-123", got.ProfileID)
	assert.Equal(t, "SN-001", got.SerialNumber)
	assert.Equal(t, 80, got.BatteryPercentage)
	assert.Equal(t, "1.2.3", got.AppVersion)
	require.Len(t, got.ApplicationUsages, 1)
	assert.Equal(t, ApplicationUsage{
		PackageName:  "com.example.app",
		Date:         "2024-01-15",
		CreatedOn:    "2024-01-15T10:30:00Z",
		TimeInMinute: 10,
	}, got.ApplicationUsages[0])
}

func TestReportUsage_ResponseHandling(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"success", http.StatusOK, `{"success":true}`, false},
		{"undecodable 2xx body", http.StatusOK, `<html>ok</html>`, false},
		{"empty 201 body", http.StatusCreated, ``, false},
		{"explicit failure", http.StatusOK, `{"success":false,"message":"device unknown"}`, true},
		{"server error", http.StatusInternalServerError, `boom`, true},
		{"unauthorized", http.StatusUnauthorized, `{"success":false}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL, testDevice())
			err := client.ReportUsage(context.Background(), "com.example.app", "2024-01-15", 5)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrRequestFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReportUsage_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newTestClient(baseURL, testDevice())
	err := client.ReportUsage(context.Background(), "com.example.app", "2024-01-15", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestFailed))
}

func TestReportUsage_MissingIdentity(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	tests := []struct {
		name   string
		mutate func(*config.DeviceConfig)
		msg    string
	}{
		{"profile", func(d *config.DeviceConfig) { d.ProfileID = "" }, "Profile ID is not set"},
		{"email", func(d *config.DeviceConfig) { d.Email = "" }, "Email is not set"},
		{"serial", func(d *config.DeviceConfig) { d.SerialNumber = "" }, "Serial number is not set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := testDevice()
			tt.mutate(&device)
			client := newTestClient(server.URL, device)

			err := client.ReportUsage(context.Background(), "com.example.app", "2024-01-15", 5)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotConfigured))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("token", func(t *testing.T) {
		client := New(config.BackendConfig{BaseURL: server.URL}, testDevice(), zerolog.Nop())
		err := client.ReportUsage(context.Background(), "com.example.app", "2024-01-15", 5)
		assert.True(t, errors.Is(err, ErrNotConfigured))
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestReportBatch(t *testing.T) {
	var calls int32
	var got UsageReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, testDevice())

	// Nothing to send
	require.NoError(t, client.ReportBatch(context.Background(), nil))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	records := []storage.UsageRecord{
		{PackageID: "com.a.app", Date: "2024-01-15", CumulativeMinutes: 5},
		{PackageID: "com.b.app", Date: "2024-01-15", CumulativeMinutes: 25},
	}
	require.NoError(t, client.ReportBatch(context.Background(), records))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.Len(t, got.ApplicationUsages, 2)
	assert.Equal(t, "com.a.app", got.ApplicationUsages[0].PackageName)
	assert.Equal(t, 25, got.ApplicationUsages[1].TimeInMinute)
}

func TestAcknowledgeCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/device-profile/command", r.URL.Path)
		assert.Equal(t, "profile-123", r.URL.Query().Get("profile_id"))
		assert.Equal(t, "YES", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, testDevice())
	require.NoError(t, client.AcknowledgeCommand(context.Background()))
}

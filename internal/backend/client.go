// Package backend talks to the MDM backend REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/tabnova/internal/clock"
	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/metrics"
	"github.com/goodtune/tabnova/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured is returned before any network call when required
	// settings are missing.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrRequestFailed wraps transport failures, non-2xx responses and
	// explicit success=false replies.
	ErrRequestFailed = errors.New("backend request failed")
)

const maxErrorBody = 512

// Client is the MDM backend REST client. It never retries.
type Client struct {
	baseURL    string
	authToken  string
	device     config.DeviceConfig
	httpClient *http.Client
	clock      clock.Clock
	logger     zerolog.Logger
}

// New creates a backend client
func New(cfg config.BackendConfig, device config.DeviceConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		device:    device,
		httpClient: &http.Client{
			Timeout: config.ParseDuration(cfg.Timeout, 15*time.Second),
		},
		clock:  clock.RealClock{},
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// SetClock replaces the clock used for createdOn timestamps
func (c *Client) SetClock(clk clock.Clock) {
	c.clock = clk
}

// FetchApplications returns the applications configured for this profile
func (c *Client) FetchApplications(ctx context.Context) ([]Application, error) {
	if err := c.checkBase(); err != nil {
		return nil, err
	}
	if c.device.ProfileID == "" {
		return nil, notConfigured("Profile ID is not set")
	}

	u := fmt.Sprintf("%s/application/list?profile_id=%s", c.baseURL, url.QueryEscape(c.device.ProfileID))
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req, "application_list")
	if err != nil {
		return nil, err
	}

	var list applicationList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: invalid application list: %v", ErrRequestFailed, err)
	}

	apps := make([]Application, 0, len(list.Applications))
	for _, app := range list.Applications {
		if app.PackageName == "" {
			continue
		}
		apps = append(apps, app)
	}

	c.logger.Debug().Int("applications", len(apps)).Msg("Fetched application list")
	return apps, nil
}

// ReportUsage sends one package's cumulative minutes for a date
func (c *Client) ReportUsage(ctx context.Context, packageID, date string, minutes int) error {
	err := c.sendReport(ctx, []ApplicationUsage{c.usageLine(packageID, date, minutes)})
	c.observe("event", err)
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("package", packageID).
		Str("date", date).
		Int("minutes", minutes).
		Msg("Usage reported")
	return nil
}

// ReportBatch sends every record in a single request
func (c *Client) ReportBatch(ctx context.Context, records []storage.UsageRecord) error {
	if len(records) == 0 {
		c.logger.Debug().Msg("No usage records to report")
		return nil
	}

	lines := make([]ApplicationUsage, 0, len(records))
	for _, r := range records {
		lines = append(lines, c.usageLine(r.PackageID, r.Date, r.CumulativeMinutes))
	}

	err := c.sendReport(ctx, lines)
	c.observe("batch", err)
	if err != nil {
		return err
	}

	c.logger.Info().Int("records", len(records)).Msg("Usage batch reported")
	return nil
}

// AcknowledgeCommand confirms the pending device-profile command
func (c *Client) AcknowledgeCommand(ctx context.Context) error {
	if err := c.checkBase(); err != nil {
		return err
	}
	if c.device.ProfileID == "" {
		return notConfigured("Profile ID is not set")
	}

	u := fmt.Sprintf("%s/device-profile/command?profile_id=%s&type=YES", c.baseURL, url.QueryEscape(c.device.ProfileID))
	req, err := c.newRequest(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req, "device_command")
	if err != nil {
		return err
	}
	return checkSuccess(body)
}

func (c *Client) usageLine(packageID, date string, minutes int) ApplicationUsage {
	return ApplicationUsage{
		PackageName:  packageID,
		Date:         date,
		CreatedOn:    c.clock.Now().Format(time.RFC3339),
		TimeInMinute: minutes,
	}
}

func (c *Client) sendReport(ctx context.Context, lines []ApplicationUsage) error {
	if err := c.checkBase(); err != nil {
		return err
	}
	if err := c.checkDevice(); err != nil {
		return err
	}

	report := UsageReport{
		Email:             c.device.Email,
		ProfileID:         c.device.ProfileID,
		SerialNumber:      c.device.SerialNumber,
		BatteryPercentage: c.device.BatteryPercentage,
		AppVersion:        c.device.AppVersion,
		ApplicationUsages: lines,
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/application/usage/create", report)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req, "usage_create")
	if err != nil {
		return err
	}
	return checkSuccess(body)
}

func (c *Client) observe(mode string, err error) {
	if err != nil {
		metrics.ReportsFailed.WithLabelValues(mode).Inc()
		return
	}
	metrics.ReportsSent.WithLabelValues(mode).Inc()
}

func (c *Client) checkBase() error {
	if c.baseURL == "" {
		return notConfigured("Backend URL is not set")
	}
	if c.authToken == "" {
		return notConfigured("Authorization token is not set")
	}
	return nil
}

func (c *Client) checkDevice() error {
	switch {
	case c.device.ProfileID == "":
		return notConfigured("Profile ID is not set")
	case c.device.Email == "":
		return notConfigured("Email is not set")
	case c.device.SerialNumber == "":
		return notConfigured("Serial number is not set")
	}
	return nil
}

func notConfigured(msg string) error {
	return fmt.Errorf("%w: %s", ErrNotConfigured, msg)
}

// do executes the request and returns the body of a 2xx response
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ReportDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Backend request failed")
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := string(body)
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		c.logger.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Str("request_id", req.Header.Get("X-Request-ID")).
			Msg("Backend returned an error status")
		return nil, fmt.Errorf("%w: %s failed with status %d: %s", ErrRequestFailed, endpoint, resp.StatusCode, excerpt)
	}

	return body, nil
}

// checkSuccess treats undecodable bodies as success and honours an
// explicit success=false.
func checkSuccess(body []byte) error {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if resp.Success != nil && !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "server reported failure"
		}
		return fmt.Errorf("%w: %s", ErrRequestFailed, msg)
	}
	return nil
}

// newRequest creates a new HTTP request with standard headers
func (c *Client) newRequest(ctx context.Context, method, u string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	return req, nil
}

package metrics

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesMetrics(t *testing.T) {
	EventsReceived.WithLabelValues("threshold").Inc()
	MonitoredApps.Set(3)

	s := NewServer("127.0.0.1:0", zerolog.Nop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "tabnova_events_received_total")
	assert.Contains(t, body, "tabnova_monitored_apps 3")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestCounterValues(t *testing.T) {
	before := testutil.ToFloat64(ShieldsCleared.WithLabelValues("unblock"))
	ShieldsCleared.WithLabelValues("unblock").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ShieldsCleared.WithLabelValues("unblock")))
}

func TestServerWithListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer("", zerolog.Nop())
	s.SetListener(ln)
	require.NoError(t, s.Start())
	defer s.Stop()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + ln.Addr().String() + "/health")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

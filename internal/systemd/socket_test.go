package systemd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	require.NoError(t, err)
	assert.False(t, listeners.Activated)
	assert.Nil(t, listeners.API)
	assert.Nil(t, listeners.Metrics)
}

func TestAssignNamedListeners(t *testing.T) {
	api, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer api.Close()

	other, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer other.Close()

	l := &Listeners{}
	l.assign(map[string][]net.Listener{
		APISocket: {api},
		"unused":  {other},
	})

	assert.Equal(t, api, l.API)
	assert.Nil(t, l.Metrics)
}

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	assert.NoError(t, NotifyReady())
	assert.NoError(t, NotifyStopping())
	assert.NoError(t, NotifyWatchdog())
}

func TestRunWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")

	done := make(chan struct{})
	go func() {
		RunWatchdog(context.Background(), zerolog.Nop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when no watchdog is configured")
	}
}

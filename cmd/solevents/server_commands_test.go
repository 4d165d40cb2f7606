package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLIOutput runs the app and returns what commands wrote to the app writer.
func runCLIOutput(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(append([]string{"solevents"}, args...))
	return buf.String(), err
}

func TestHealthCommand(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	out, err := runCLIOutput(t, "--server-url", server.URL, "server", "health")
	require.NoError(t, err)
	assert.Equal(t, "healthy: "+server.URL+"\n", out)

	status.Store(http.StatusServiceUnavailable)
	_, err = runCLIOutput(t, "--server-url", server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestServerCommands_RequireServerURL(t *testing.T) {
	t.Setenv("SERVER_URL", "")
	for _, cmd := range []string{"health", "cursor"} {
		_, err := runCLIOutput(t, "server", cmd)
		require.Error(t, err, cmd)
		assert.Contains(t, err.Error(), "server-url is required")
	}
}

func TestServerCursorCommand(t *testing.T) {
	var found atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cursor", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if !found.Load() {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no cursor persisted yet"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"program": "Prog1", "signature": "5xSig", "slot": 42, "cursor": "5xSig;42",
		})
	}))
	defer server.Close()

	out, err := runCLIOutput(t, "--server-url", server.URL, "server", "cursor")
	require.NoError(t, err)
	assert.Equal(t, "no cursor persisted yet\n", out)

	found.Store(true)
	out, err = runCLIOutput(t, "--server-url", server.URL, "server", "cursor")
	require.NoError(t, err)
	assert.Equal(t, "Prog1  slot=42  signature=5xSig\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLIOutput(t, "server", "version")
	require.NoError(t, err)
	assert.Equal(t, "solevents dev (commit unknown, built unknown)\n", out)
}

func TestConsumerSubject(t *testing.T) {
	assert.Equal(t, "events.Prog1.Claim", consumerSubject("Prog1", "Claim"))
	assert.Equal(t, "events.Prog1.*", consumerSubject("Prog1", ""))
}

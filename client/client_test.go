package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL+"/", nil, nil).Health(context.Background()))
}

func TestHealth_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGetCursor_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/cursor", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"program":   "Prog111",
			"signature": "sigA",
			"slot":      100,
			"cursor":    "sigA;100",
		})
	}))
	defer server.Close()

	cur, err := NewClient(server.URL, nil, nil).GetCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Prog111", cur.Program)
	assert.Equal(t, "sigA", cur.Signature)
	assert.Equal(t, uint64(100), cur.Slot)
	assert.Equal(t, "sigA;100", cur.Cursor)
}

func TestGetCursor_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no cursor persisted yet"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).GetCursor(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCursor)
	assert.Contains(t, err.Error(), "no cursor persisted yet")
}

func TestGetCursor_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).GetCursor(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCursor)
	assert.Contains(t, err.Error(), "status 500: boom")
}

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}))
}

func TestStreamEvents(t *testing.T) {
	var gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		assert.Equal(t, "/api/v1/stream/events", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"program\":\"P\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: Claim\ndata: {\"name\":\"Claim\",\"data\":{\"amount\":7},\"txId\":\"s1\",\"slot\":9,\"program\":\"P\"}\n\n")
		fmt.Fprint(w, "event: Refund\ndata: not-json\n\n")
		fmt.Fprint(w, "event: Refund\ndata: {\"name\":\"Refund\",\"slot\":10}\n\n")
	}))
	defer server.Close()

	var got []Event
	err := NewClient(server.URL, &http.Client{Timeout: time.Millisecond}, nil).
		StreamEvents(context.Background(), `.name == "Claim" or .name == "Refund"`, func(ev Event) error {
			got = append(got, ev)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, `.name == "Claim" or .name == "Refund"`, gotFilter)
	require.Len(t, got, 2)
	assert.Equal(t, "Claim", got[0].Name)
	assert.Equal(t, "s1", got[0].TxID)
	assert.Equal(t, uint64(9), got[0].Slot)
	assert.Equal(t, float64(7), got[0].Data["amount"])
	assert.Equal(t, "Refund", got[1].Name)
}

func TestStreamEvents_HandlerErrorStops(t *testing.T) {
	server := sseServer(t,
		"event: A\ndata: {\"name\":\"A\"}\n\n",
		"event: B\ndata: {\"name\":\"B\"}\n\n",
	)
	defer server.Close()

	stop := errors.New("enough")
	calls := 0
	err := NewClient(server.URL, nil, nil).StreamEvents(context.Background(), "", func(ev Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestStreamEvents_ServerErrorFrame(t *testing.T) {
	server := sseServer(t, "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\n")
	defer server.Close()

	err := NewClient(server.URL, nil, nil).StreamEvents(context.Background(), "", func(Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
}

func TestStreamEvents_BadFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid filter: unexpected EOF"})
	}))
	defer server.Close()

	err := NewClient(server.URL, nil, nil).StreamEvents(context.Background(), ".name ==", func(Event) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")
}

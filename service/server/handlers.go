package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
)

// cursorResponse is the JSON response format for the persisted cursor.
type cursorResponse struct {
	Program   string    `json:"program"`
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	Cursor    string    `json:"cursor"`
	FetchedAt time.Time `json:"fetched_at"`
}

// handleGetCursor returns a handler that reports the polling loop's cursor.
// GET /api/v1/cursor
func handleGetCursor(program string, store cursor.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "cursor persistence is disabled", http.StatusNotFound)
			return
		}

		c, err := store.Load(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to load cursor", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if c == nil {
			writeError(w, "no cursor persisted yet", http.StatusNotFound)
			return
		}

		writeJSON(w, cursorResponse{
			Program:   program,
			Signature: c.Signature,
			Slot:      c.Slot,
			Cursor:    c.String(),
			FetchedAt: time.Now().UTC(),
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

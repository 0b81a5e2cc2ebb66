package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func writeHealth(w http.ResponseWriter, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleLiveness answers GET /health: the process is running.
func handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"service": "wopihost"},
	})
}

// handleReadiness answers GET /health/ready: the storage adapter's root
// directory is reachable. This is not part of the WOPI wire contract,
// so a failure is reported as an RFC 7807 problem response rather than
// through the encoder.
func handleReadiness(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := core.Storage.RootDirectory(ctx); err != nil {
			ServiceUnavailable(w, err.Error())
			return
		}

		writeHealth(w, healthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Data:      map[string]any{"locks": core.Locks.Len(core.now())},
		})
	}
}

// handleStoreHealth answers GET /health/stores with a detailed check of
// the storage adapter's root directory listing.
func handleStoreHealth(core *Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		start := time.Now()
		root, err := core.Storage.RootDirectory(ctx)
		latency := time.Since(start)

		if err != nil {
			ServiceUnavailable(w, err.Error())
			return
		}

		writeHealth(w, healthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Data: map[string]any{
				"root":       root.Name,
				"file_count": len(root.Children),
				"latency":    latency.String(),
			},
		})
	}
}

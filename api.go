package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"scanbridge/foldersync"
	"scanbridge/pairing"
)

// registerRoutes wires the local HTTP API. All state flows through the
// Bridge so the handlers stay thin.
func (b *Bridge) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, b.Snapshot())
	})

	mux.HandleFunc("/api/v1/discover", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		timeout := b.cfg.discoveryTimeout()
		if v := r.URL.Query().Get("timeout"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 || secs > 120 {
				http.Error(w, "timeout must be 1-120 seconds", http.StatusBadRequest)
				return
			}
			timeout = time.Duration(secs) * time.Second
		}

		scanners := b.Discover(r.Context(), timeout)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"scanners": scanners,
			"count":    len(scanners),
		})
	})

	mux.HandleFunc("/api/v1/pair", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			PairingCode string `json:"pairing_code"`
			ServerURL   string `json:"server_url,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := b.Pair(r.Context(), req.PairingCode, req.ServerURL); err != nil {
			writeJSON(w, pairingErrorStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, b.Snapshot())
	})

	mux.HandleFunc("/api/v1/disconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := b.Disconnect(); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, b.Snapshot())
	})

	mux.HandleFunc("/api/v1/foldersync/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, b.SyncStatus())
	})

	mux.HandleFunc("/api/v1/foldersync/configure", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			WatchPath  string `json:"watch_path"`
			PostAction string `json:"post_action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		err := b.ConfigureSync(req.WatchPath, foldersync.PostAction(req.PostAction))
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, foldersync.ErrRunning) {
				status = http.StatusConflict
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, b.SyncStatus())
	})

	mux.HandleFunc("/api/v1/foldersync/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		b.StopSync()
		writeJSON(w, http.StatusOK, b.SyncStatus())
	})

	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		b.hub.serveWS(w, r, b.Snapshot())
	})

	mux.HandleFunc("/api/v1/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		b.log.Copy(w)
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": b.version})
	})
}

// pairingErrorStatus maps the pairing error taxonomy onto HTTP statuses:
// bad input 400, server decline 403, unreachable 502.
func pairingErrorStatus(err error) int {
	switch {
	case errors.Is(err, pairing.ErrInvalidCodeFormat):
		return http.StatusBadRequest
	case errors.Is(err, pairing.ErrRejectedCode):
		return http.StatusForbidden
	case errors.Is(err, pairing.ErrUnreachableServer):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

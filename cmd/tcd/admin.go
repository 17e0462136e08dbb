package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/unc-platform/tc-core/internal/lock"
)

// statusResponse is the wire shape tcctl's status/show-lock subcommands
// decode; it mirrors lock.Status with JSON tags since Status itself is an
// internal diagnostic type, not a wire DTO.
type statusResponse struct {
	ConfigSession *uint32  `json:"config_session,omitempty"`
	ConfigID      uint32   `json:"config_id,omitempty"`
	ReadSessions  []uint32 `json:"read_sessions,omitempty"`
	GlobalSession *uint32  `json:"global_session,omitempty"`
}

// registerAdminRoutes wires the HTTP surface tcctl talks to: a read-only
// status snapshot and a forced session release, both operating directly
// on the in-process Lock Manager (§5: its mutex is the sole arbiter of
// exclusion — this is a thin HTTP facade over it, not a second one).
func registerAdminRoutes(mux *http.ServeMux, locks *lock.Manager, log *slog.Logger) {
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := locks.Snapshot()
		resp := statusResponse{
			ConfigSession: snap.ConfigSession,
			ConfigID:      snap.ConfigID,
			ReadSessions:  snap.ReadSessions,
			GlobalSession: snap.GlobalSession,
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("encode status response failed", "error", err)
		}
	})

	mux.HandleFunc("/v1/sessions/abort", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionStr := r.URL.Query().Get("session")
		session, err := strconv.ParseUint(sessionStr, 10, 32)
		if err != nil {
			http.Error(w, "invalid or missing session query parameter", http.StatusBadRequest)
			return
		}

		if !abortSession(r.Context(), locks, uint32(session)) {
			http.Error(w, "session holds no lock", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// abortSession releases whatever lock class a session currently holds,
// checking Global, Config, then Read in the same Global > Config > Read
// precedence the Lock Manager enforces on acquisition (§4.1). Returns
// false if the session holds nothing.
func abortSession(ctx context.Context, locks *lock.Manager, session uint32) bool {
	snap := locks.Snapshot()

	if snap.GlobalSession != nil && *snap.GlobalSession == session {
		_ = locks.Release(ctx, session, lock.OpClassGlobal, 0)
		return true
	}
	if snap.ConfigSession != nil && *snap.ConfigSession == session {
		_ = locks.Release(ctx, session, lock.OpClassConfig, snap.ConfigID)
		return true
	}
	for _, s := range snap.ReadSessions {
		if s == session {
			_ = locks.Release(ctx, session, lock.OpClassRead, 0)
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"structurize.ai/internal/persistence/indexdb"
	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/tuning"
)

type stateResponse struct {
	ServerID string         `json:"server_id"`
	Engine   engine.Stats   `json:"engine"`
	Sessions int64          `json:"sessions"`
	Tuning   tuning.Tuning  `json:"tuning"`
	Index    *indexdb.Stats `json:"index,omitempty"`
}

type adminDeps struct {
	serverID string
	stats    func() engine.Stats
	sessions func() int64
	tune     *tuning.Source
	idx      runtimeIndex
	snapshot func() (path string, tick uint64, err error)
	logf     func(format string, args ...any)
}

func (d adminDeps) stateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := stateResponse{
			ServerID: d.serverID,
			Engine:   d.stats(),
			Sessions: d.sessions(),
			Tuning:   d.tune.Get(),
		}
		if d.idx != nil {
			st := d.idx.Stats()
			resp.Index = &st
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (d adminDeps) changesHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if d.idx == nil {
			http.Error(rw, "index disabled", http.StatusServiceUnavailable)
			return
		}
		limit := 50
		if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(rw, "bad limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		// Rows still queued for the writer would otherwise be missing.
		if err := d.idx.Flush(ctx); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rows, err := d.idx.RecentChanges(ctx, strings.TrimSpace(r.URL.Query().Get("actor")), limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []indexdb.ChangeRow{}
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"changes": rows})
	}
}

func (d adminDeps) reloadHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		t, err := d.tune.Reload()
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		if d.logf != nil {
			d.logf("tuning reloaded: max_cached_changes=%d blocks_per_tick=%d", t.MaxCachedChanges, t.BlocksPerTick)
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tuning": t})
	}
}

func (d adminDeps) snapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		path, tick, err := d.snapshot()
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick, "path": path})
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

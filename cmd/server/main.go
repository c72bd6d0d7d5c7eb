package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"structurize.ai/internal/identity"
	persistlog "structurize.ai/internal/persistence/log"
	"structurize.ai/internal/persistence/snapshot"
	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/grid"
	"structurize.ai/internal/sim/tuning"
	"structurize.ai/internal/transport/observer"
	"structurize.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (change index + catalogs + server id)")
		serverID   = flag.String("server_id", "", "fixed server id (default: persisted or generated)")
		fullLog    = flag.Bool("log_blocks", true, "include captured blocks in change log entries")

		snapPath   = flag.String("snapshot", "", "path to world snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		saveOnExit = flag.Bool("snapshot_on_exit", true, "write a world snapshot on shutdown")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load catalogs: %v", err)
		}
		logger.Printf("blocks.json not found in %s; using built-in catalog", *configDir)
		cats = catalogs.Default()
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	tuneSrc := tuning.NewSource(tp, tune)

	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional: read-model index backend (does not affect edit semantics).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	ids := identity.NewCache(idStore(idx), logger)
	fixed, ok, err := parseServerID(*serverID)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if ok {
		if err := ids.Set(ctx, fixed); err != nil {
			logger.Fatalf("set server id: %v", err)
		}
	}
	sid, err := ids.Get(ctx)
	if err != nil {
		logger.Fatalf("server id: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	changeLog := persistlog.NewChangeLogger(*dataDir)
	defer changeLog.Close()

	obsSrv := observer.NewServer(observer.State{
		ServerID:     sid.String(),
		TickRateHz:   tune.TickRateHz,
		BlockPalette: cats.Palette,
	}, logger)

	var idxLogger engine.ChangeLogger
	if idx != nil {
		idxLogger = idx
	}

	store := grid.NewStore(cats, tune.World.MinY, tune.World.MaxY)
	snapDir := filepath.Join(*dataDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(snapDir)
	}
	var startTick uint64
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.ServerID != "" && snap.Header.ServerID != sid.String() {
			logger.Printf("snapshot server id %s differs from %s", snap.Header.ServerID, sid)
		}
		if err := snapshot.Restore(store, snap); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		startTick = snap.Header.Tick
		logger.Printf("resumed from snapshot=%s tick=%d chunks=%d", filepath.Base(snapshotToLoad), startTick, len(snap.Chunks))
	}

	eng := engine.New(engine.Config{
		StartTick:        startTick,
		TickRateHz:       tune.TickRateHz,
		BlocksPerTick:    tuneSrc.BlocksPerTick,
		MaxCachedChanges: tuneSrc.MaxCachedChanges,
	}, store,
		engine.WithLogger(logger),
		engine.WithRegisterer(reg),
		engine.WithFullChanges(*fullLog),
		engine.WithChangeLogger(engine.MultiChangeLogger(changeLog, idxLogger, obsSrv)),
	)
	defer eng.Close()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	go reloadOnHangup(ctx, tuneSrc, logger)

	saveSnapshot := func() (string, uint64, error) {
		tick := eng.Stats().Tick
		path := snapshot.PathFor(snapDir, tick)
		return path, tick, snapshot.WriteSnapshot(path, snapshot.Capture(store, sid.String(), tick))
	}

	wsSrv := ws.NewServer(eng, ws.Config{
		ServerID: sid,
		Blocks:   cats,
		Tuning:   tuneSrc.Get,
	}, logger)
	obsSrv.SetSessions(wsSrv.Sessions)
	obsSrv.SetStats(eng.Stats)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	enableAdminHTTP := envBool("SZ_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("SZ_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		admin := adminDeps{
			serverID: sid.String(),
			stats:    eng.Stats,
			sessions: wsSrv.Sessions,
			tune:     tuneSrc,
			idx:      idx,
			snapshot: saveSnapshot,
			logf:     logger.Printf,
		}
		mux.HandleFunc("/admin/v1/state", admin.stateHandler())
		mux.HandleFunc("/admin/v1/changes", admin.changesHandler())
		mux.HandleFunc("/admin/v1/tuning/reload", admin.reloadHandler())
		mux.HandleFunc("/admin/v1/snapshot", admin.snapshotHandler())
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (SZ_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (SZ_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("server id=%s palette=%d blocks_per_tick=%d max_cached_changes=%d", sid, len(cats.Palette), tune.BlocksPerTick, tune.MaxCachedChanges)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Stop ticking before the final snapshot so it sees a settled store.
	eng.Close()
	if *saveOnExit {
		if path, tick, err := saveSnapshot(); err != nil {
			logger.Printf("snapshot write: %v", err)
		} else {
			logger.Printf("snapshot written tick=%d path=%s", tick, path)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// reloadOnHangup re-reads tuning on SIGHUP. A bad file keeps the running values.
func reloadOnHangup(ctx context.Context, src *tuning.Source, logger *log.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			t, err := src.Reload()
			if err != nil {
				logger.Printf("tuning reload (%s): %v", src.Path(), err)
				continue
			}
			logger.Printf("tuning reloaded: max_cached_changes=%d blocks_per_tick=%d", t.MaxCachedChanges, t.BlocksPerTick)
		}
	}
}

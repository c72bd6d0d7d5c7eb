package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"structurize.ai/internal/identity"
	"structurize.ai/internal/persistence/indexdb"
	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	engine.ChangeLogger
	identity.Store
	Close() error
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, blocks *catalogs.BlockCatalog, tune tuning.Tuning) error
	RecentChanges(ctx context.Context, actor string, limit int) ([]indexdb.ChangeRow, error)
}

// openRuntimeIndex returns nil when indexing is disabled.
func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SZ_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "structurize.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported SZ_INDEX_BACKEND: %s", backend)
	}
}

// idStore picks where the server id lives: the index when there is one,
// process memory otherwise.
func idStore(idx runtimeIndex) identity.Store {
	if idx == nil {
		return &identity.MemoryStore{}
	}
	return idx
}

func parseServerID(s string) (uuid.UUID, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("server id %q: %w", s, err)
	}
	return id, true, nil
}

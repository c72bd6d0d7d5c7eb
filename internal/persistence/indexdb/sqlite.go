package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/tuning"
)

const metaServerID = "server_id"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChangeTotal atomic.Uint64
}

type reqKind int

const (
	reqChange reqKind = iota + 1
	reqFlush
)

type req struct {
	kind reqKind

	change engine.ChangeLogEntry
	done   chan struct{}
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropChangeTotal uint64 `json:"drop_change_total"`
}

// ChangeRow is one indexed operation.
type ChangeRow struct {
	ID       int64  `json:"id"`
	Tick     uint64 `json:"tick"`
	Actor    string `json:"actor"`
	Kind     string `json:"kind"`
	Undo     bool   `json:"undo"`
	Written  int    `json:"written"`
	Captured int    `json:"captured"`
	Archived bool   `json:"archived"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			actor TEXT NOT NULL,
			kind TEXT NOT NULL,
			undo INTEGER NOT NULL,
			visited INTEGER NOT NULL,
			written INTEGER NOT NULL,
			captured INTEGER NOT NULL,
			archived INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_actor_tick ON changes(actor, tick);`,
		`CREATE TABLE IF NOT EXISTS change_blocks (
			change_id INTEGER NOT NULL REFERENCES changes(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			prior TEXT NOT NULL,
			PRIMARY KEY (change_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_blocks_pos ON change_blocks(x, z, y);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropChangeTotal: s.dropChangeTotal.Load(),
	}
}

// LogChange queues e for the writer goroutine. It never blocks the tick loop;
// entries are dropped when the writer falls behind.
func (s *SQLiteIndex) LogChange(e engine.ChangeLogEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChange, change: e}:
	default:
		s.dropChangeTotal.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) LoadServerID(ctx context.Context) (uuid.UUID, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, metaServerID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("meta %s: %w", metaServerID, err)
	}
	return id, true, nil
}

func (s *SQLiteIndex) StoreServerID(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, metaServerID, id.String())
	return err
}

func (s *SQLiteIndex) RecentChanges(ctx context.Context, actor string, limit int) ([]ChangeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,tick,actor,kind,undo,written,captured,archived FROM changes WHERE actor=? ORDER BY id DESC LIMIT ?`,
		actor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChangeRow
	for rows.Next() {
		var r ChangeRow
		var tick int64
		if err := rows.Scan(&r.ID, &tick, &r.Actor, &r.Kind, &r.Undo, &r.Written, &r.Captured, &r.Archived); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) CountChangeBlocks(ctx context.Context, changeID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_blocks WHERE change_id=?`, changeID).Scan(&n)
	return n, err
}

// UpsertCatalogs stores the block catalog and the applied tuning so an index
// can be read without the config directory that produced it.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, blocks *catalogs.BlockCatalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" && blocks != nil {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil && len(b) > 0 {
			rows = append(rows, kv{name: "blocks_defs", digest: blocks.DefsDigest, json: b})
		}
	}
	if blocks != nil {
		if b, _ := json.Marshal(blocks.Palette); len(b) > 0 {
			rows = append(rows, kv{name: "blocks_palette", digest: blocks.PaletteDigest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	return d, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChange, _ := s.db.Prepare(`INSERT INTO changes(tick,actor,kind,undo,visited,written,captured,archived,evicted,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertBlock, _ := s.db.Prepare(`INSERT INTO change_blocks(change_id,seq,x,y,z,prior) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertChange != nil {
			_ = insertChange.Close()
		}
		if insertBlock != nil {
			_ = insertBlock.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// An open tx holds the only connection; commit it when the queue goes idle.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			flushIfNeeded()
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		c := r.change
		if insertChange == nil {
			continue
		}
		res, err := tx.Stmt(insertChange).Exec(
			int64(c.Tick),
			c.Actor,
			string(c.Kind),
			c.Undo,
			c.Visited,
			c.Written,
			c.Captured,
			c.Archived,
			c.Evicted,
			c.Time.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if id, err := res.LastInsertId(); err == nil && insertBlock != nil {
			for i, ch := range c.Changes {
				if _, err := tx.Stmt(insertBlock).Exec(id, i, ch.Pos.X, ch.Pos.Y, ch.Pos.Z, ch.Prior); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}

package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/structurize.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (changes)")
	at := fs.String("at", "", "block position x,y,z (blocks)")
	_ = fs.Parse(args)

	q := "changes"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "structurize.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "changes":
		err = queryChanges(db, os.Stdout, strings.TrimSpace(*actor), *limit)
	case "blocks":
		x, y, z, perr := parseXYZ(*at)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(2)
		}
		err = queryBlockHistory(db, os.Stdout, x, y, z, *limit)
	case "catalogs":
		err = queryCatalogs(db, os.Stdout)
	case "meta":
		err = queryMeta(db, os.Stdout)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want changes|blocks|catalogs|meta)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

func queryChanges(db *sql.DB, w io.Writer, actor string, limit int) error {
	query := `SELECT id,tick,actor,kind,undo,visited,written,captured,archived,evicted,recorded_at FROM changes`
	params := []any{}
	if actor != "" {
		query += ` WHERE actor = ?`
		params = append(params, actor)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	params = append(params, limit)

	rows, err := db.Query(query, params...)
	if err != nil {
		return err
	}
	defer rows.Close()
	enc := json.NewEncoder(w)
	for rows.Next() {
		var r struct {
			ID         int64  `json:"id"`
			Tick       int64  `json:"tick"`
			Actor      string `json:"actor"`
			Kind       string `json:"kind"`
			Undo       bool   `json:"undo"`
			Visited    int    `json:"visited"`
			Written    int    `json:"written"`
			Captured   int    `json:"captured"`
			Archived   bool   `json:"archived"`
			Evicted    int    `json:"evicted"`
			RecordedAt string `json:"recorded_at"`
		}
		if err := rows.Scan(&r.ID, &r.Tick, &r.Actor, &r.Kind, &r.Undo, &r.Visited, &r.Written, &r.Captured, &r.Archived, &r.Evicted, &r.RecordedAt); err != nil {
			return err
		}
		_ = enc.Encode(r)
	}
	return rows.Err()
}

// queryBlockHistory lists the indexed edits that captured the block at x,y,z,
// newest first, with the block each one overwrote.
func queryBlockHistory(db *sql.DB, w io.Writer, x, y, z, limit int) error {
	rows, err := db.Query(`SELECT c.id,c.tick,c.actor,c.kind,c.undo,b.prior
		FROM change_blocks b JOIN changes c ON c.id = b.change_id
		WHERE b.x = ? AND b.y = ? AND b.z = ?
		ORDER BY c.id DESC LIMIT ?`, x, y, z, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	enc := json.NewEncoder(w)
	for rows.Next() {
		var r struct {
			ChangeID int64  `json:"change_id"`
			Tick     int64  `json:"tick"`
			Actor    string `json:"actor"`
			Kind     string `json:"kind"`
			Undo     bool   `json:"undo"`
			Prior    string `json:"prior"`
		}
		if err := rows.Scan(&r.ChangeID, &r.Tick, &r.Actor, &r.Kind, &r.Undo, &r.Prior); err != nil {
			return err
		}
		_ = enc.Encode(r)
	}
	return rows.Err()
}

func queryCatalogs(db *sql.DB, w io.Writer) error {
	rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	enc := json.NewEncoder(w)
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return err
		}
		_ = enc.Encode(r)
	}
	return rows.Err()
}

func queryMeta(db *sql.DB, w io.Writer) error {
	rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s=%s\n", k, v)
	}
	return rows.Err()
}

func parseXYZ(s string) (x, y, z int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("bad position %q (want x,y,z)", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bad position %q: %w", s, err)
		}
		v[i] = n
	}
	return v[0], v[1], v[2], nil
}

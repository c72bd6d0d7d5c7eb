package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "structurize.ai/internal/persistence/log"
	"structurize.ai/internal/sim/engine"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "log":
			logCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	files, err := persistlog.ListChangeFiles(filepath.Join(*dataDir, "changes"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Println(filepath.Base(f))
	}
}

func logCmd(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	actor := fs.String("actor", "", "only count edits by this player (optional)")
	fromTick := fs.Uint64("from_tick", 0, "first tick (inclusive, optional)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	verbose := fs.Bool("v", false, "print every entry")
	_ = fs.Parse(args)

	files, err := persistlog.ListChangeFiles(filepath.Join(*dataDir, "changes"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list changes:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no change log files found in", filepath.Join(*dataDir, "changes"))
		os.Exit(1)
	}

	sum := newSummary(logFilter{Actor: strings.TrimSpace(*actor), FromTick: *fromTick, ToTick: *toTick})
	var out io.Writer
	if *verbose {
		out = os.Stdout
	}
	for _, path := range files {
		if err := persistlog.ReadChanges(path, func(e engine.ChangeLogEntry) error {
			return sum.add(e, out)
		}); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	sum.print(os.Stdout)
}

type logFilter struct {
	Actor    string
	FromTick uint64
	ToTick   uint64
}

func (f logFilter) match(e engine.ChangeLogEntry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if e.Tick < f.FromTick {
		return false
	}
	return f.ToTick == 0 || e.Tick <= f.ToTick
}

type actorTotals struct {
	Edits    int
	Undos    int
	Written  int
	Captured int
}

// summary folds change log entries into per-player totals. Entries must arrive
// in tick order; the log is written by a single tick loop so a step backwards
// means files were mixed up.
type summary struct {
	filter   logFilter
	lastTick uint64
	entries  int
	evicted  int
	byKind   map[string]int
	byActor  map[string]*actorTotals
}

func newSummary(f logFilter) *summary {
	return &summary{filter: f, byKind: map[string]int{}, byActor: map[string]*actorTotals{}}
}

func (s *summary) add(e engine.ChangeLogEntry, verbose io.Writer) error {
	if e.Tick < s.lastTick {
		return fmt.Errorf("tick went backwards: %d after %d", e.Tick, s.lastTick)
	}
	s.lastTick = e.Tick
	if !s.filter.match(e) {
		return nil
	}
	s.entries++
	s.evicted += e.Evicted
	s.byKind[string(e.Kind)]++
	a := s.byActor[e.Actor]
	if a == nil {
		a = &actorTotals{}
		s.byActor[e.Actor] = a
	}
	if e.Undo {
		a.Undos++
	} else {
		a.Edits++
	}
	a.Written += e.Written
	a.Captured += e.Captured
	if verbose != nil {
		fmt.Fprintf(verbose, "tick=%d actor=%s kind=%s undo=%v visited=%d written=%d captured=%d archived=%v evicted=%d\n",
			e.Tick, e.Actor, e.Kind, e.Undo, e.Visited, e.Written, e.Captured, e.Archived, e.Evicted)
	}
	return nil
}

func (s *summary) print(w io.Writer) {
	fmt.Fprintf(w, "entries=%d last_tick=%d evicted=%d\n", s.entries, s.lastTick, s.evicted)

	kinds := make([]string, 0, len(s.byKind))
	for k := range s.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "kind %s=%d\n", k, s.byKind[k])
	}

	actors := make([]string, 0, len(s.byActor))
	for a := range s.byActor {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	for _, a := range actors {
		t := s.byActor[a]
		fmt.Fprintf(w, "actor %s edits=%d undos=%d written=%d captured=%d\n", a, t.Edits, t.Undos, t.Written, t.Captured)
	}
}

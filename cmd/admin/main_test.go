package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nanofab.ai/internal/persistence/indexdb"
	persistlog "nanofab.ai/internal/persistence/log"
	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
)

// runWithAudit executes ins and returns the run dir (with audit/) and the
// final snapshot.
func runWithAudit(t *testing.T, ins []trace.Instruction) (string, snapshot.SnapshotV1) {
	t.Helper()
	runDir := t.TempDir()
	w, err := world.New(world.WorldConfig{ID: "r1", Resolution: 3, Tuning: tuning.Defaults()})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	al := persistlog.NewAuditLogger(runDir)
	w.SetAuditLogger(al)
	res := w.Run(world.Instructions(ins))
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	return runDir, w.ExportSnapshot()
}

func TestRollbackRevertsRecentCells(t *testing.T) {
	runDir, snap := runWithAudit(t, []trace.Instruction{
		trace.Fill(encoding.Delta{DX: 1}),
		trace.Fill(encoding.Delta{DZ: 1}),
		trace.Halt(),
	})
	if snap.Header.Round != 3 {
		t.Fatalf("snapshot round: %d", snap.Header.Round)
	}

	min, max, err := parseAABB("2,2,2:0,0,0")
	if err != nil {
		t.Fatalf("aabb: %v", err)
	}
	recs, err := readAudit(filepath.Join(runDir, "audit"), 1, snap.Header.Round, min, max)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if len(recs) != 1 || recs[0].Entry.Pos != [3]int{0, 0, 1} || recs[0].Entry.Action != "FILL" {
		t.Fatalf("recs: %+v", recs)
	}

	applied, skipped, grounded, err := applyRollback(&snap, recs)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if applied != 1 || skipped != 0 || !grounded {
		t.Fatalf("applied=%d skipped=%d grounded=%v", applied, skipped, grounded)
	}
	sum, l, err := summarize(snap)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.FullCells != 1 || !l.IsFull(lattice.Coord{X: 1}) || l.IsFull(lattice.Coord{Z: 1}) {
		t.Fatalf("after rollback: %+v", sum)
	}
}

func TestReadAuditNewestFirst(t *testing.T) {
	runDir, snap := runWithAudit(t, []trace.Instruction{
		trace.Fill(encoding.Delta{DX: 1}),
		trace.Void(encoding.Delta{DX: 1}),
		trace.Halt(),
	})
	min, max, _ := parseAABB("1,0,0:1,0,0")
	recs, err := readAudit(filepath.Join(runDir, "audit"), 0, snap.Header.Round, min, max)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	var actions []string
	for _, r := range recs {
		actions = append(actions, r.Entry.Action)
	}
	if diff := cmp.Diff([]string{"VOID", "FILL"}, actions); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	// Reverting both leaves the cell Void, as before round 0.
	if _, _, _, err := applyRollback(&snap, recs); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if sum, _, _ := summarize(snap); sum.FullCells != 0 || !sum.Matches {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestParseAABB(t *testing.T) {
	min, max, err := parseAABB(" 3,0,5 : 1,2,4 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if min != [3]int{1, 0, 4} || max != [3]int{3, 2, 5} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"", "1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, _, err := parseAABB(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestLatestSnapshot(t *testing.T) {
	runDir := t.TempDir()
	dir := filepath.Join(runDir, "snapshots")
	_ = os.MkdirAll(dir, 0o755)
	for _, name := range []string{"2.snap.zst", "10.snap.zst", "7.rollback.snap.zst", "notes.txt"} {
		_ = os.WriteFile(filepath.Join(dir, name), nil, 0o644)
	}
	if got := latestSnapshot(runDir); filepath.Base(got) != "10.snap.zst" {
		t.Fatalf("latest: %s", got)
	}
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("empty dir: %s", got)
	}
}

func TestRunQuery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.BeginRun(indexdb.RunInfo{RunID: "r1", Model: "LA001_tgt.mdl", Trace: "LA001.nbt", Resolution: 20, Tuning: tuning.Defaults()})
	_ = idx.WriteRound(world.RoundLogEntry{WorldID: "r1", Round: 0, Energy: 15, Harmonics: "Low", Bots: 1, FullCells: 1, Digest: "d0"})
	idx.FinishRun(indexdb.RunSummary{RunID: "r1", Rounds: 1, Energy: 15, Kind: "TraceUnderrun", Code: "E_TRACE_UNDERRUN", Round: 1, BotID: 2, Message: "short"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := runQuery(db, &buf, "runs", queryParams{}); err != nil {
		t.Fatalf("runs: %v", err)
	}
	var run map[string]any
	if err := json.Unmarshal(buf.Bytes(), &run); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if run["run_id"] != "r1" || run["error_code"] != "E_TRACE_UNDERRUN" || run["halted"] != false {
		t.Fatalf("run: %v", run)
	}

	buf.Reset()
	if err := runQuery(db, &buf, "failures", queryParams{Code: "E_TRACE_UNDERRUN"}); err != nil {
		t.Fatalf("failures: %v", err)
	}
	if !strings.Contains(buf.String(), `"bot_id":2`) {
		t.Fatalf("failures: %s", buf.String())
	}

	buf.Reset()
	if err := runQuery(db, &buf, "rounds", queryParams{RunID: "r1"}); err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if !strings.Contains(buf.String(), `"digest":"d0"`) {
		t.Fatalf("rounds: %s", buf.String())
	}

	if err := runQuery(db, &buf, "rounds", queryParams{}); err != errUsage {
		t.Fatalf("rounds without run: %v", err)
	}
	if err := runQuery(db, &buf, "agents", queryParams{}); err != errUsage {
		t.Fatalf("unknown query: %v", err)
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "observe":
			observeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

// rollbackCmd reverts the cells inside an AABB of a run snapshot to their
// state before since_round, using the run's audit log.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id")
	snapPath := fs.String("snapshot", "", "snapshot path to rollback from (optional; defaults to latest)")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (required)")
	sinceRound := fs.Uint64("since_round", 0, "rollback changes since round (inclusive)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	if strings.TrimSpace(*aabb) == "" {
		fmt.Fprintln(os.Stderr, "missing -aabb")
		os.Exit(2)
	}

	runDir := filepath.Join(*dataDir, "runs", *runID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad = latestSnapshot(runDir)
	}
	if snapshotToLoad == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or rerun with -snapshot_on_fail")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	min, max, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}

	recs, err := readAudit(filepath.Join(runDir, "audit"), *sinceRound, snap.Header.Round, min, max)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("no matching audit entries; nothing to rollback")
		return
	}

	applied, skipped, grounded, err := applyRollback(&snap, recs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rollback:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(runDir, "snapshots", fmt.Sprintf("%d.rollback.snap.zst", snap.Header.Round))
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("rollback ok: snapshot=%s round=%d aabb=%s since=%d entries=%d applied=%d skipped=%d grounded=%v out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Round, *aabb, *sinceRound, len(recs), applied, skipped, grounded, *outPath)
}

type auditRec struct {
	Seq   uint64
	Entry world.AuditEntry
}

// readAudit returns the FILL/VOID entries in [sinceRound, toRound) inside the
// box, newest first.
func readAudit(dir string, sinceRound, toRound uint64, min, max [3]int) ([]auditRec, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]auditRec, 0, 1024)
	var seq uint64
	for _, name := range names {
		path := filepath.Join(dir, name)
		err := func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			dec, err := zstd.NewReader(f)
			if err != nil {
				return err
			}
			defer dec.Close()

			sc := bufio.NewScanner(dec)
			sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
			for sc.Scan() {
				var e world.AuditEntry
				if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
					return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
				}
				seq++
				if e.Action != "FILL" && e.Action != "VOID" {
					continue
				}
				if e.Round < sinceRound || e.Round >= toRound {
					continue
				}
				if !withinAABB(e.Pos, min, max) {
					continue
				}
				out = append(out, auditRec{Seq: seq, Entry: e})
			}
			return sc.Err()
		}()
		if err != nil {
			return nil, err
		}
	}

	// Reverse chronological apply: highest round first; same round in reverse read order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Round != out[j].Entry.Round {
			return out[i].Entry.Round > out[j].Entry.Round
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

// applyRollback rewrites snap's cells with each entry's From value. grounded
// reports whether the result is still a connected structure.
func applyRollback(snap *snapshot.SnapshotV1, recs []auditRec) (applied, skipped int, grounded bool, err error) {
	r := snap.Resolution
	raw, err := encoding.DecodeCellsRLE(snap.Cells, r*r*r)
	if err != nil {
		return 0, 0, false, fmt.Errorf("cells: %w", err)
	}
	l, err := lattice.FromRawCells(r, raw)
	if err != nil {
		return 0, 0, false, err
	}
	for _, rec := range recs {
		p := rec.Entry.Pos
		c := lattice.Coord{X: p[0], Y: p[1], Z: p[2]}
		if err := l.Set(c, lattice.Cell(rec.Entry.From)); err != nil {
			skipped++
			continue
		}
		applied++
	}
	snap.Cells = encoding.EncodeCellsRLE(l.RawCells())
	return applied, skipped, l.IsGrounded(), nil
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

// latestSnapshot picks the highest-round "<round>.snap.zst" in runDir.
func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestRound uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		round, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || round > bestRound {
			bestRound = round
			best = filepath.Join(dir, name)
		}
	}
	return best
}

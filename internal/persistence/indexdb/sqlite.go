package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
)

// SQLiteIndex is a secondary, queryable index of runs. Writes are queued to
// a single writer goroutine and dropped when it falls behind; the JSONL round
// log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRound reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqFinish
)

type req struct {
	kind reqKind

	round    world.RoundLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
	finish   RunSummary
}

type snapshotRow struct {
	RunID  string
	Round  uint64
	Path   string
	Status string
	Bots   int
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	RunID      string
	Model      string
	Trace      string
	Resolution int
	Tuning     tuning.Tuning
}

// RunSummary is the outcome recorded when a run ends.
type RunSummary struct {
	RunID    string
	Rounds   uint64
	Energy   int64
	Halted   bool
	Solution bool

	// Failure fields are empty for successful runs.
	Kind    string
	Code    string
	Round   uint64
	BotID   int
	Message string
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
		// GFill rounds can emit thousands of audit rows at once.
		ch: make(chan req, 262144),
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			trace TEXT NOT NULL,
			resolution INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			rounds INTEGER,
			energy INTEGER,
			halted INTEGER,
			solution INTEGER,
			error_code TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			digest TEXT NOT NULL,
			energy INTEGER NOT NULL,
			harmonics TEXT NOT NULL,
			bots INTEGER NOT NULL,
			full_cells INTEGER NOT NULL,
			changed INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			bot_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_cell INTEGER NOT NULL,
			to_cell INTEGER NOT NULL,
			PRIMARY KEY (run_id, round, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos ON audits(run_id, x, z, y, round);`,
		`CREATE TABLE IF NOT EXISTS failures (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			code TEXT NOT NULL,
			round INTEGER NOT NULL,
			bot_id INTEGER NOT NULL,
			message TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_code ON failures(code);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			bots INTEGER NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
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

// BeginRun records the run row synchronously so later queued rows always
// have a parent.
func (s *SQLiteIndex) BeginRun(info RunInfo) error {
	if s == nil {
		return nil
	}
	b, _ := json.Marshal(info.Tuning)
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,model,trace,resolution,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?,?)`,
		info.RunID, info.Model, info.Trace, info.Resolution, hex.EncodeToString(sum[:]), string(b),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) WriteRound(entry world.RoundLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRound, round: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RunID:  snap.Header.WorldID,
		Round:  snap.Header.Round,
		Path:   path,
		Status: snap.Status,
		Bots:   len(snap.Bots),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// FinishRun queues the outcome. Unlike per-round rows it waits for queue
// space, since a run without an outcome is useless to query.
func (s *SQLiteIndex) FinishRun(sum RunSummary) {
	if s == nil || s.closed.Load() {
		return
	}
	s.ch <- req{kind: reqFinish, finish: sum}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(run_id,round,digest,energy,harmonics,bots,full_cells,changed,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(run_id,round,seq,bot_id,action,x,y,z,from_cell,to_cell) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,round,path,status,bots) VALUES(?,?,?,?,?)`)
	updateRun, _ := s.db.Prepare(`UPDATE runs SET finished_at=?,rounds=?,energy=?,halted=?,solution=?,error_code=? WHERE run_id=?`)
	insertFailure, _ := s.db.Prepare(`INSERT OR REPLACE INTO failures(run_id,kind,code,round,bot_id,message,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRound, insertAudit, insertSnapshot, updateRun, insertFailure} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditRun   string
		lastAuditRound uint64
		auditSeq       int
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
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRound:
			e := r.round
			raw, _ := json.Marshal(e)
			exec(insertRound, e.WorldID, int64(e.Round), e.Digest, e.Energy, e.Harmonics, e.Bots, e.FullCells, len(e.Cells), string(raw))

		case reqAudit:
			a := r.audit
			if a.WorldID != lastAuditRun || a.Round != lastAuditRound {
				lastAuditRun = a.WorldID
				lastAuditRound = a.Round
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			exec(insertAudit, a.WorldID, int64(a.Round), seq, a.BotID, a.Action, a.Pos[0], a.Pos[1], a.Pos[2], int64(a.From), int64(a.To))

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.Round), sn.Path, sn.Status, sn.Bots)

		case reqFinish:
			f := r.finish
			now := time.Now().UTC().Format(time.RFC3339Nano)
			if !exec(updateRun, now, int64(f.Rounds), f.Energy, boolInt(f.Halted), boolInt(f.Solution), f.Code, f.RunID) {
				continue
			}
			if f.Code != "" {
				exec(insertFailure, f.RunID, f.Kind, f.Code, int64(f.Round), f.BotID, f.Message, now)
			}
			// Outcomes are rare; make them visible immediately.
			commit()
			continue
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

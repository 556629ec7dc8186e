package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type queryParams struct {
	RunID string
	Code  string
	Limit int
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/runs.sqlite)")
	runID := fs.String("run", "", "run id (required for rounds and snapshots)")
	code := fs.String("code", "", "error code filter (failures)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "runs.sqlite")
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

	if err := runQuery(db, os.Stdout, q, queryParams{RunID: *runID, Code: *code, Limit: *limit}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-run ID] [-code E_...] [-limit N] runs|failures|rounds|snapshots")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown query or missing -run")

func runQuery(db *sql.DB, out io.Writer, q string, p queryParams) error {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,model,trace,resolution,started_at,COALESCE(finished_at,''),COALESCE(rounds,0),COALESCE(energy,0),COALESCE(halted,0),COALESCE(solution,0),COALESCE(error_code,'') FROM runs ORDER BY started_at DESC LIMIT ?`, p.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Model      string `json:"model"`
				Trace      string `json:"trace"`
				Resolution int    `json:"resolution"`
				StartedAt  string `json:"started_at"`
				FinishedAt string `json:"finished_at,omitempty"`
				Rounds     int64  `json:"rounds"`
				Energy     int64  `json:"energy"`
				Halted     bool   `json:"halted"`
				Solution   bool   `json:"solution"`
				ErrorCode  string `json:"error_code,omitempty"`
			}
			var halted, solution int
			if err := rows.Scan(&r.RunID, &r.Model, &r.Trace, &r.Resolution, &r.StartedAt, &r.FinishedAt, &r.Rounds, &r.Energy, &halted, &solution, &r.ErrorCode); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Halted, r.Solution = halted != 0, solution != 0
			printJSON(out, r)
		}
		return rows.Err()

	case "failures":
		query := `SELECT run_id,kind,code,round,bot_id,message FROM failures`
		args := []any{}
		if p.Code != "" {
			query += ` WHERE code=?`
			args = append(args, p.Code)
		}
		query += ` ORDER BY recorded_at DESC LIMIT ?`
		args = append(args, p.Limit)
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID   string `json:"run_id"`
				Kind    string `json:"kind"`
				Code    string `json:"code"`
				Round   int64  `json:"round"`
				BotID   int    `json:"bot_id,omitempty"`
				Message string `json:"message"`
			}
			if err := rows.Scan(&r.RunID, &r.Kind, &r.Code, &r.Round, &r.BotID, &r.Message); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "rounds":
		if p.RunID == "" {
			return errUsage
		}
		rows, err := db.Query(`SELECT round,energy,harmonics,bots,full_cells,changed,digest FROM rounds WHERE run_id=? ORDER BY round DESC LIMIT ?`, p.RunID, p.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Round     int64  `json:"round"`
				Energy    int64  `json:"energy"`
				Harmonics string `json:"harmonics"`
				Bots      int    `json:"bots"`
				FullCells int    `json:"full_cells"`
				Changed   int    `json:"changed"`
				Digest    string `json:"digest"`
			}
			if err := rows.Scan(&r.Round, &r.Energy, &r.Harmonics, &r.Bots, &r.FullCells, &r.Changed, &r.Digest); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "snapshots":
		if p.RunID == "" {
			return errUsage
		}
		rows, err := db.Query(`SELECT round,path,status,bots FROM snapshots WHERE run_id=? ORDER BY round DESC LIMIT ?`, p.RunID, p.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Round  int64  `json:"round"`
				Path   string `json:"path"`
				Status string `json:"status"`
				Bots   int    `json:"bots"`
			}
			if err := rows.Scan(&r.Round, &r.Path, &r.Status, &r.Bots); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	default:
		return errUsage
	}
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
)

// observeCmd prints the bootstrap document of a running `nanofab -observe`.
func observeCmd(args []string) {
	fs := flag.NewFlagSet("observe", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8090", "observer base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/observe/bootstrap"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	path := fs.String("path", "", "snapshot path (.snap.zst)")
	dump := fs.Bool("dump", false, "print the lattice as y slices")
	_ = fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		fmt.Fprintln(os.Stderr, "missing -path")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	sum, l, err := summarize(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode snapshot:", err)
		os.Exit(1)
	}
	printJSON(os.Stdout, sum)
	if *dump {
		_ = lattice.RenderSlices(os.Stdout, l)
	}
}

type snapshotSummary struct {
	RunID      string              `json:"run_id"`
	Round      uint64              `json:"round"`
	Status     string              `json:"status"`
	Resolution int                 `json:"resolution"`
	Harmonics  string              `json:"harmonics"`
	Energy     int64               `json:"energy"`
	Bots       []snapshot.BotV1    `json:"bots"`
	FullCells  int                 `json:"full_cells"`
	Grounded   bool                `json:"grounded"`
	Matches    bool                `json:"matches_target"`
	Failure    *snapshot.FailureV1 `json:"failure,omitempty"`
}

func summarize(snap snapshot.SnapshotV1) (snapshotSummary, *lattice.Lattice, error) {
	r := snap.Resolution
	raw, err := encoding.DecodeCellsRLE(snap.Cells, r*r*r)
	if err != nil {
		return snapshotSummary{}, nil, fmt.Errorf("cells: %w", err)
	}
	l, err := lattice.FromRawCells(r, raw)
	if err != nil {
		return snapshotSummary{}, nil, err
	}
	traw, err := encoding.DecodeCellsRLE(snap.Target, r*r*r)
	if err != nil {
		return snapshotSummary{}, nil, fmt.Errorf("target: %w", err)
	}
	target, err := lattice.FromRawCells(r, traw)
	if err != nil {
		return snapshotSummary{}, nil, err
	}
	return snapshotSummary{
		RunID:      snap.Header.WorldID,
		Round:      snap.Header.Round,
		Status:     snap.Status,
		Resolution: r,
		Harmonics:  snap.Harmonics,
		Energy:     snap.Energy,
		Bots:       snap.Bots,
		FullCells:  l.FullCount(),
		Grounded:   l.IsGrounded(),
		Matches:    l.Matches(target),
		Failure:    snap.Failure,
	}, l, nil
}

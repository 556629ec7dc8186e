package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"nanofab.ai/internal/protocol"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
)

func main() {
	var (
		modelsDir   = flag.String("models", "", "directory of target models (*.mdl)")
		tracesDir   = flag.String("traces", "", "directory of traces (defaults to -models)")
		tuningPath  = flag.String("tuning", "", "tuning yaml (defaults when empty)")
		resolutions = flag.String("resolutions", "", "comma-separated resolutions to keep (all when empty)")
		maxJobs     = flag.Int("max", 0, "run at most N problems (0 = all)")
		jobs        = flag.Int("jobs", 4, "parallel simulations")
		jsonOut     = flag.Bool("json", false, "print one report per line instead of the summary table")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[batch] ", log.LstdFlags|log.Lmicroseconds)
	if *modelsDir == "" {
		logger.Fatalf("-models is required")
	}
	if *tracesDir == "" {
		*tracesDir = *modelsDir
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = t
	}
	keep, err := parseResolutions(*resolutions)
	if err != nil {
		logger.Fatalf("-resolutions: %v", err)
	}

	probs, err := discover(*modelsDir, *tracesDir)
	if err != nil {
		logger.Fatalf("discover: %v", err)
	}
	logger.Printf("found %d model/trace pairs", len(probs))

	reports, err := runAll(context.Background(), probs, tune, batchOptions{
		Resolutions: keep,
		Max:         *maxJobs,
		Jobs:        *jobs,
	}, logger)
	if err != nil {
		logger.Fatalf("batch: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range reports {
			_ = enc.Encode(r)
		}
	} else {
		printSummary(os.Stdout, reports)
	}
	for _, r := range reports {
		if !r.OK() {
			os.Exit(1)
		}
	}
}

type problem struct {
	Name  string
	Model string
	Trace string
}

type batchOptions struct {
	Resolutions map[int]bool
	Max         int
	Jobs        int
}

// discover pairs every model with its trace. "X_tgt.mdl" and "X.mdl" both
// look for "X.nbt" (or "X.nbt.zst"); models without a trace are skipped.
func discover(modelsDir, tracesDir string) ([]problem, error) {
	ents, err := os.ReadDir(modelsDir)
	if err != nil {
		return nil, err
	}
	var out []problem
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mdl") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".mdl")
		name = strings.TrimSuffix(name, "_tgt")
		for _, ext := range []string{trace.Ext, trace.ZstdExt} {
			tp := filepath.Join(tracesDir, name+ext)
			if _, err := os.Stat(tp); err == nil {
				out = append(out, problem{Name: name, Model: filepath.Join(modelsDir, e.Name()), Trace: tp})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func parseResolutions(s string) (map[int]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > lattice.MaxResolution {
			return nil, fmt.Errorf("bad resolution %q", part)
		}
		out[n] = true
	}
	return out, nil
}

// runAll simulates problems concurrently, one World per worker. Reports come
// back in problem order; setup failures (unreadable files) abort the batch.
func runAll(ctx context.Context, probs []problem, tune tuning.Tuning, opts batchOptions, logger *log.Logger) ([]protocol.Report, error) {
	type loaded struct {
		p      problem
		target *lattice.Lattice
	}
	var todo []loaded
	for _, p := range probs {
		if opts.Max > 0 && len(todo) >= opts.Max {
			break
		}
		target, err := lattice.ReadModel(p.Model)
		if err != nil {
			return nil, err
		}
		if opts.Resolutions != nil && !opts.Resolutions[target.Resolution()] {
			continue
		}
		todo = append(todo, loaded{p: p, target: target})
	}

	reports := make([]protocol.Report, len(todo))
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	for i, job := range todo {
		i, job := i, job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := trace.ReadFile(job.p.Trace)
			if err != nil {
				return fmt.Errorf("%s: %w", job.p.Name, err)
			}
			w, err := world.New(world.WorldConfig{ID: job.p.Name, Target: job.target, Tuning: tune})
			if err != nil {
				return fmt.Errorf("%s: %w", job.p.Name, err)
			}
			res := w.Run(trace.NewReader(data))
			reports[i] = reportFor(job.p, job.target.Resolution(), res)

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if logger != nil {
				status := "ok"
				if res.Err != nil {
					status = res.Err.Kind.String()
				}
				logger.Printf("[%d/%d] %s r=%d rounds=%d energy=%d %s", n, len(todo), job.p.Name, job.target.Resolution(), res.Rounds, res.Energy, status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func reportFor(p problem, resolution int, res world.Result) protocol.Report {
	r := protocol.NewReport(p.Name, filepath.Base(p.Model), filepath.Base(p.Trace), resolution)
	r.Rounds = res.Rounds
	r.Energy = res.Energy
	r.Halted = res.Halted
	r.Solution = res.Solution
	if e := res.Err; e != nil {
		r.Error = &protocol.ReportError{
			Code:    e.Kind.Code(),
			Kind:    e.Kind.String(),
			Message: e.Error(),
			Round:   e.Round,
			BotID:   e.BotID,
		}
	}
	return r
}

type resolutionStats struct {
	Runs      int
	Solutions int
	Failures  int
	Energy    int64
}

func histogram(reports []protocol.Report) ([]int, map[int]*resolutionStats) {
	stats := map[int]*resolutionStats{}
	for _, r := range reports {
		s := stats[r.Resolution]
		if s == nil {
			s = &resolutionStats{}
			stats[r.Resolution] = s
		}
		s.Runs++
		if r.Solution {
			s.Solutions++
		}
		if r.Error != nil {
			s.Failures++
		}
		s.Energy += r.Energy
	}
	keys := make([]int, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys, stats
}

func printSummary(out io.Writer, reports []protocol.Report) {
	fmt.Fprintf(out, "%-16s %4s %8s %14s %-10s %s\n", "NAME", "R", "ROUNDS", "ENERGY", "SOLUTION", "ERROR")
	for _, r := range reports {
		errCode := "-"
		if r.Error != nil {
			errCode = r.Error.Code
		}
		fmt.Fprintf(out, "%-16s %4d %8d %14d %-10v %s\n", r.RunID, r.Resolution, r.Rounds, r.Energy, r.Solution, errCode)
	}

	keys, stats := histogram(reports)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%4s %6s %9s %8s %16s\n", "R", "RUNS", "SOLUTIONS", "FAILED", "ENERGY")
	for _, k := range keys {
		s := stats[k]
		bar := strings.Repeat("#", s.Runs)
		fmt.Fprintf(out, "%4d %6d %9d %8d %16d %s\n", k, s.Runs, s.Solutions, s.Failures, s.Energy, bar)
	}
}

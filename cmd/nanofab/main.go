package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var (
		modelPath      = flag.String("model", "", "target model file (.mdl)")
		tracePath      = flag.String("trace", "", "trace file (.nbt or .nbt.zst)")
		tuningPath     = flag.String("tuning", "", "tuning yaml (defaults when empty)")
		dataDir        = flag.String("data", "./data", "runtime data directory")
		dumpTrace      = flag.Bool("dump_trace", false, "print the decoded trace and exit")
		dumpLattice    = flag.Bool("dump_lattice", false, "print the final lattice as y slices to stderr")
		roundLog       = flag.Bool("round_log", false, "write the zstd round log under the run directory")
		snapshotOnFail = flag.Bool("snapshot_on_fail", true, "write a snapshot of the last committed round when the run fails")
		disableDB      = flag.Bool("disable_db", false, "disable the sqlite run index")
		observeAddr    = flag.String("observe", "", "serve the observer stream on this loopback address (e.g. 127.0.0.1:8090)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[nanofab] ", log.LstdFlags|log.Lmicroseconds)

	if *modelPath == "" || *tracePath == "" {
		logger.Fatalf("-model and -trace are required")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *dumpTrace {
		if err := dumpTraceFile(os.Stdout, *tracePath); err != nil {
			logger.Fatalf("dump trace: %v", err)
		}
		return
	}

	report, err := execute(ctx, options{
		ModelPath:      *modelPath,
		TracePath:      *tracePath,
		TuningPath:     *tuningPath,
		DataDir:        *dataDir,
		DumpLattice:    *dumpLattice,
		RoundLog:       *roundLog,
		SnapshotOnFail: *snapshotOnFail,
		DisableDB:      *disableDB,
		ObserveAddr:    *observeAddr,
	}, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if !report.OK() {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

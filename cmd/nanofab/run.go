package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"nanofab.ai/internal/observerproto"
	"nanofab.ai/internal/persistence/indexdb"
	persistlog "nanofab.ai/internal/persistence/log"
	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/protocol"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
	"nanofab.ai/internal/transport/observer"
)

type options struct {
	ModelPath  string
	TracePath  string
	TuningPath string
	DataDir    string

	DumpLattice    bool
	RoundLog       bool
	SnapshotOnFail bool
	DisableDB      bool
	ObserveAddr    string

	// LatticeOut receives -dump_lattice output; stderr when nil.
	LatticeOut io.Writer
}

// execute runs one trace against one target model and returns its report.
// The error is reserved for setup problems (unreadable files, bad tuning);
// trace failures are part of the report.
func execute(ctx context.Context, opts options, logger *log.Logger) (protocol.Report, error) {
	tune := tuning.Defaults()
	if opts.TuningPath != "" {
		t, err := tuning.Load(opts.TuningPath)
		if err != nil {
			return protocol.Report{}, fmt.Errorf("load tuning: %w", err)
		}
		tune = t
	}

	target, err := lattice.ReadModel(opts.ModelPath)
	if err != nil {
		return protocol.Report{}, fmt.Errorf("read model: %w", err)
	}
	data, err := trace.ReadFile(opts.TracePath)
	if err != nil {
		return protocol.Report{}, fmt.Errorf("read trace: %w", err)
	}

	runID := uuid.New().String()
	runDir := filepath.Join(opts.DataDir, "runs", runID)

	w, err := world.New(world.WorldConfig{
		ID:     runID,
		Target: target,
		Tuning: tune,
	})
	if err != nil {
		return protocol.Report{}, fmt.Errorf("world: %w", err)
	}

	idx, err := openRuntimeIndex(opts.DataDir, opts.DisableDB)
	if err != nil {
		// Index is optional; logs/snapshots are the source of truth.
		logger.Printf("index disabled: %v", err)
		idx = nil
	}
	defer func() {
		if idx != nil {
			_ = idx.Close()
		}
	}()
	if err := idx.BeginRun(indexdb.RunInfo{
		RunID:      runID,
		Model:      filepath.Base(opts.ModelPath),
		Trace:      filepath.Base(opts.TracePath),
		Resolution: target.Resolution(),
		Tuning:     tune,
	}); err != nil {
		logger.Printf("index begin run: %v", err)
	}

	var roundLog world.RoundLogger
	var auditLog world.AuditLogger
	if opts.RoundLog {
		rl := persistlog.NewRoundLogger(runDir)
		al := persistlog.NewAuditLogger(runDir)
		defer rl.Close()
		defer al.Close()
		roundLog, auditLog = rl, al
	}
	w.SetRoundLogger(multiRoundLogger{a: roundLog, b: idx})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	var obs *observer.Server
	if opts.ObserveAddr != "" {
		obs = observer.NewServer(observerproto.BootstrapResponse{
			RunID: runID,
			RunParams: observerproto.RunParams{
				Model:      filepath.Base(opts.ModelPath),
				Trace:      filepath.Base(opts.TracePath),
				Resolution: target.Resolution(),
				SeedCount:  tune.SeedCount,
				MaxRounds:  tune.MaxRounds,
			},
		}, log.New(logger.Writer(), "[observer] ", log.LstdFlags|log.Lmicroseconds))

		sink := make(chan world.RoundLogEntry, 1024)
		w.SetRoundSink(sink)
		defer close(sink)
		go obs.Pump(ctx, sink)

		srv := &http.Server{
			Addr:              opts.ObserveAddr,
			Handler:           obs.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("observer listening on %s", opts.ObserveAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("observer: %v", err)
			}
		}()
	}

	logger.Printf("run=%s model=%s trace=%s resolution=%d bytes=%d",
		runID, filepath.Base(opts.ModelPath), filepath.Base(opts.TracePath), target.Resolution(), len(data))
	res := w.Run(trace.NewReader(data))
	report := buildReport(runID, opts.ModelPath, opts.TracePath, target.Resolution(), res)

	if res.Err != nil {
		logger.Printf("run failed: %v", res.Err)
		if opts.SnapshotOnFail {
			snap := w.ExportSnapshot()
			path := filepath.Join(runDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Round))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
			} else {
				logger.Printf("snapshot=%s", path)
				idx.RecordSnapshot(path, snap)
			}
		}
	} else {
		logger.Printf("halted rounds=%d energy=%d solution=%v", res.Rounds, res.Energy, res.Solution)
	}
	idx.FinishRun(summaryFromReport(report))

	if opts.DumpLattice {
		out := opts.LatticeOut
		if out == nil {
			out = os.Stderr
		}
		_ = lattice.RenderSlices(out, w.Lattice())
	}

	if obs != nil {
		obs.PublishResult(report)
		logger.Printf("run finished; serving observers until interrupted")
		<-ctx.Done()
	}
	return report, nil
}

func buildReport(runID, modelPath, tracePath string, resolution int, res world.Result) protocol.Report {
	r := protocol.NewReport(runID, filepath.Base(modelPath), filepath.Base(tracePath), resolution)
	r.Rounds = res.Rounds
	r.Energy = res.Energy
	r.Halted = res.Halted
	r.Solution = res.Solution
	if res.Err != nil {
		r.Error = &protocol.ReportError{
			Code:    res.Err.Kind.Code(),
			Kind:    res.Err.Kind.String(),
			Message: res.Err.Error(),
			Round:   res.Err.Round,
			BotID:   res.Err.BotID,
		}
	}
	return r
}

func summaryFromReport(r protocol.Report) indexdb.RunSummary {
	sum := indexdb.RunSummary{
		RunID:    r.RunID,
		Rounds:   r.Rounds,
		Energy:   r.Energy,
		Halted:   r.Halted,
		Solution: r.Solution,
	}
	if e := r.Error; e != nil {
		sum.Kind = e.Kind
		sum.Code = e.Code
		sum.Round = e.Round
		sum.BotID = e.BotID
		sum.Message = e.Message
	}
	return sum
}

func dumpTraceFile(out io.Writer, path string) error {
	ins, err := trace.Load(path)
	if err != nil {
		return err
	}
	return trace.WriteRepr(out, ins)
}

type multiRoundLogger struct {
	a world.RoundLogger
	b world.RoundLogger
}

func (m multiRoundLogger) WriteRound(entry world.RoundLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteRound(entry)
	}
	if m.b != nil {
		_ = m.b.WriteRound(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}

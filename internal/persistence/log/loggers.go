package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"nanofab.ai/internal/sim/world"
)

// DefaultSegmentRounds is how many rounds share one compressed file.
const DefaultSegmentRounds = 10000

// JSONLZstdWriter appends JSON lines to zstd files, one file per segment of
// rounds: <prefix>-<segment>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir       string
	prefix        string
	segmentRounds uint64

	mu     sync.Mutex
	curSeg uint64
	open   bool
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string, segmentRounds uint64) *JSONLZstdWriter {
	if segmentRounds == 0 {
		segmentRounds = DefaultSegmentRounds
	}
	return &JSONLZstdWriter{
		baseDir:       baseDir,
		prefix:        prefix,
		segmentRounds: segmentRounds,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v to the segment holding round.
func (w *JSONLZstdWriter) Write(round uint64, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := round / w.segmentRounds
	if !w.open || seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForSegment(seg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	w.open = true
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.open = false
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%06d.jsonl.zst", w.prefix, seg))
}

// RoundLogger writes one JSONL entry per committed round (compressed).
type RoundLogger struct{ w *JSONLZstdWriter }

func NewRoundLogger(runDir string) *RoundLogger {
	return &RoundLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "events"), "events", DefaultSegmentRounds)}
}

func (l *RoundLogger) WriteRound(v world.RoundLogEntry) error { return l.w.Write(v.Round, v) }
func (l *RoundLogger) Close() error                          { return l.w.Close() }

// AuditLogger writes one JSONL entry per changed cell (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(runDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "audit"), "audit", DefaultSegmentRounds)}
}

func (l *AuditLogger) WriteAudit(v world.AuditEntry) error { return l.w.Write(v.Round, v) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	persistlog "nanofab.ai/internal/persistence/log"
	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
)

func main() {
	var (
		modelPath  = flag.String("model", "", "target model file (.mdl); not needed with -snapshot")
		snapPath   = flag.String("snapshot", "", "resume from .snap.zst instead of the initial state (optional)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		tuningPath = flag.String("tuning", "", "tuning yaml the run used (defaults when empty)")
		toRound    = flag.Uint64("to_round", 0, "stop after round (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" || (*modelPath == "" && *snapPath == "") {
		fmt.Fprintln(os.Stderr, "missing -events and one of -model/-snapshot")
		os.Exit(2)
	}

	tune := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = t
	}

	var w *world.World
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d run=%s round=%d resolution=%d bots=%d status=%s\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Round, snap.Resolution, len(snap.Bots), snap.Status)
		if w, err = world.FromSnapshot(snap, tune); err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	} else {
		target, err := lattice.ReadModel(*modelPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read model:", err)
			os.Exit(1)
		}
		if w, err = world.New(world.WorldConfig{ID: "replay", Target: target, Tuning: tune}); err != nil {
			fmt.Fprintln(os.Stderr, "world:", err)
			os.Exit(1)
		}
	}

	files, err := persistlog.ListSegments(*eventsDir, "events")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	startRound := w.Round()
	checked, err := replay(w, files, *toRound)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	res := w.Result()
	fmt.Printf("replay ok: checked=%d rounds (from round=%d) energy=%d halted=%v solution=%v\n",
		checked, startRound, res.Energy, res.Halted, res.Solution)
}

// errStop ends a segment scan once -to_round is passed.
var errStop = errors.New("stop")

// replay re-executes every logged round at or after the world's current round
// and compares the resulting state digest with the logged one.
func replay(w *world.World, files []string, toRound uint64) (uint64, error) {
	var checked uint64
	startRound := w.Round()
	for _, path := range files {
		err := persistlog.EachRound(path, func(entry world.RoundLogEntry) error {
			if entry.Round < startRound {
				return nil
			}
			if toRound != 0 && entry.Round > toRound {
				return errStop
			}
			if entry.Round != w.Round() {
				return fmt.Errorf("round mismatch: want=%d got=%d", w.Round(), entry.Round)
			}
			batch, err := decodeBatch(entry.Instructions)
			if err != nil {
				return fmt.Errorf("round %d: %w", entry.Round, err)
			}
			if err := w.Step(batch); err != nil {
				return fmt.Errorf("round %d: step: %w", entry.Round, err)
			}
			checked++
			if got := w.StateDigest(); got != entry.Digest {
				return fmt.Errorf("digest mismatch at round %d: got=%s want=%s", entry.Round, got, entry.Digest)
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}

func decodeBatch(recorded []world.RecordedInstruction) ([]trace.Instruction, error) {
	batch := make([]trace.Instruction, 0, len(recorded))
	for _, ri := range recorded {
		in, err := trace.NewReader(ri.Wire).Next()
		if err != nil {
			return nil, fmt.Errorf("bot %d: %w", ri.BotID, err)
		}
		batch = append(batch, in)
	}
	return batch, nil
}

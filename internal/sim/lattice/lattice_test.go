package lattice

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func mustNew(t *testing.T, r int) *Lattice {
	t.Helper()
	l, err := New(r)
	if err != nil {
		t.Fatalf("New(%d): %v", r, err)
	}
	return l
}

func mustSet(t *testing.T, l *Lattice, c Coord, v Cell) {
	t.Helper()
	if err := l.Set(c, v); err != nil {
		t.Fatalf("Set(%s): %v", c, err)
	}
}

func TestLattice_BoundsError(t *testing.T) {
	l := mustNew(t, 3)
	for _, c := range []Coord{{-1, 0, 0}, {0, 3, 0}, {0, 0, 7}} {
		_, err := l.Get(c)
		var be *BoundsError
		if !errors.As(err, &be) {
			t.Fatalf("Get(%s): expected BoundsError, got %v", c, err)
		}
		if err := l.Set(c, Full); !errors.As(err, &be) {
			t.Fatalf("Set(%s): expected BoundsError, got %v", c, err)
		}
	}
	if l.FullCount() != 0 {
		t.Fatalf("out-of-range Set must not change state")
	}
}

func TestLattice_NewRejectsResolution(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatalf("expected error for R=0")
	}
	if _, err := New(MaxResolution + 1); err == nil {
		t.Fatalf("expected error for R>%d", MaxResolution)
	}
}

func TestLattice_FullCountAndDigest(t *testing.T) {
	l := mustNew(t, 4)
	d0 := l.Digest()
	mustSet(t, l, Coord{1, 0, 1}, Full)
	mustSet(t, l, Coord{1, 0, 1}, Full)
	if l.FullCount() != 1 {
		t.Fatalf("FullCount=%d want 1", l.FullCount())
	}
	d1 := l.Digest()
	if d0 == d1 {
		t.Fatalf("digest did not change after Set")
	}
	mustSet(t, l, Coord{1, 0, 1}, Void)
	if l.Digest() != d0 {
		t.Fatalf("digest should return to the empty value")
	}
}

func TestIsGrounded_Scenarios(t *testing.T) {
	l := mustNew(t, 5)
	if !l.IsGrounded() {
		t.Fatalf("empty lattice must be grounded")
	}

	// Ground layer only.
	mustSet(t, l, Coord{0, 0, 0}, Full)
	mustSet(t, l, Coord{1, 0, 0}, Full)
	mustSet(t, l, Coord{4, 0, 4}, Full)
	if !l.IsGrounded() {
		t.Fatalf("cells at y=0 must be grounded")
	}

	// Floating cell touching nothing Full.
	mustSet(t, l, Coord{3, 3, 1}, Full)
	if l.IsGrounded() {
		t.Fatalf("floating cell must not be grounded")
	}

	// Chain it to the ground through diagonal (26-neighborhood) links.
	mustSet(t, l, Coord{2, 1, 0}, Full)
	if l.IsGrounded() {
		t.Fatalf("chain incomplete, still floating")
	}
	mustSet(t, l, Coord{3, 2, 1}, Full)
	if !l.IsGrounded() {
		t.Fatalf("chained cell must be grounded")
	}
}

func TestIsGrounded_NoGroundLayer(t *testing.T) {
	l := mustNew(t, 3)
	mustSet(t, l, Coord{1, 1, 1}, Full)
	if l.IsGrounded() {
		t.Fatalf("Full cells with none at y=0 are not grounded")
	}
}

func TestMatchesAndClone(t *testing.T) {
	a := mustNew(t, 3)
	mustSet(t, a, Coord{0, 0, 0}, Full)
	b := a.Clone()
	if !a.Matches(b) {
		t.Fatalf("clone must match")
	}
	mustSet(t, b, Coord{2, 0, 2}, Full)
	if a.Matches(b) {
		t.Fatalf("diverged clone must not match")
	}
	if a.FullCount() != 1 {
		t.Fatalf("clone mutation leaked into original")
	}
	if a.Matches(mustNew(t, 4)) {
		t.Fatalf("different resolutions must not match")
	}
}

func TestModel_RoundTrip(t *testing.T) {
	l := mustNew(t, 5)
	for _, c := range []Coord{{0, 0, 0}, {1, 2, 3}, {4, 4, 4}, {2, 0, 1}} {
		mustSet(t, l, c, Full)
	}
	path := filepath.Join(t.TempDir(), "models", "LA900_tgt.mdl")
	if err := WriteModel(path, l); err != nil {
		t.Fatalf("WriteModel: %v", err)
	}
	got, err := ReadModel(path)
	if err != nil {
		t.Fatalf("ReadModel: %v", err)
	}
	if !got.Matches(l) {
		t.Fatalf("model round trip mismatch")
	}
}

func TestModel_BitLayout(t *testing.T) {
	// R=2: cell (0,0,1) is bit 8+1 = byte 1 bit 1.
	got, err := DecodeModel([]byte{2, 0b0000_0010})
	if err != nil {
		t.Fatalf("DecodeModel: %v", err)
	}
	if c, _ := got.Get(Coord{0, 0, 1}); c != Full {
		t.Fatalf("expected (0,0,1) Full")
	}
	if got.FullCount() != 1 {
		t.Fatalf("FullCount=%d", got.FullCount())
	}
	if _, err := DecodeModel([]byte{3, 0}); err == nil {
		t.Fatalf("expected truncation error")
	}
	if _, err := DecodeModel(nil); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestRenderSlices(t *testing.T) {
	l := mustNew(t, 2)
	mustSet(t, l, Coord{1, 0, 1}, Full)
	var buf bytes.Buffer
	if err := RenderSlices(&buf, l); err != nil {
		t.Fatalf("RenderSlices: %v", err)
	}
	want := strings.Join([]string{
		"y=0 ===== ===== =====",
		"00",
		"01",
		"y=1 ===== ===== =====",
		"00",
		"00",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("render mismatch:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestRegion(t *testing.T) {
	got := Region(Coord{1, 1, 1}, Coord{0, 1, 2})
	if len(got) != 2*1*2 {
		t.Fatalf("region size %d", len(got))
	}
	if got[0] != (Coord{0, 1, 1}) || got[len(got)-1] != (Coord{1, 1, 2}) {
		t.Fatalf("region order: %v", got)
	}
}

package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "run-1.snap.zst")
	want := SnapshotV1{
		Header:     Header{Version: Version, WorldID: "run-1", Round: 7},
		Resolution: 3,
		SeedCount:  20,
		Harmonics:  "High",
		Energy:     -12,
		Status:     "Running",
		Cells:      "AAAA",
		Bots: []BotV1{
			{ID: 1, Pos: [3]int{0, 0, 0}, Seeds: []int{3, 4}},
			{ID: 2, Pos: [3]int{1, 0, 0}, Seeds: []int{}},
		},
		Failure: &FailureV1{Kind: "VolatileConflict", Code: "E_VOLATILE_CONFLICT", Round: 7, BotID: 2, Message: "x"},
	}
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h != want.Header {
		t.Fatalf("header: got %+v want %+v", h, want.Header)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// gob decodes empty slices as nil.
	want.Bots[1].Seeds = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestReadSnapshotRejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error")
	}
}

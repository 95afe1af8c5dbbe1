package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.MkdirAll(filepath.Join(root, n), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", n, err)
		}
	}
}

func TestScan_EmptyDirectory(t *testing.T) {
	state, err := NewDirScanner("base", "inc_").Scan(t.TempDir())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if state.HasBase {
		t.Error("HasBase = true for empty directory")
	}
	if state.MaxIncrementalIndex != -1 {
		t.Errorf("MaxIncrementalIndex = %d, want -1", state.MaxIncrementalIndex)
	}
	if !state.NewestArtifactTime.IsZero() {
		t.Errorf("NewestArtifactTime = %s, want zero", state.NewestArtifactTime)
	}
	if state.NextIncrementalIndex() != 0 {
		t.Errorf("NextIncrementalIndex = %d, want 0", state.NextIncrementalIndex())
	}
}

func TestScan_BaseAndIncrementals(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "base", "inc_0", "inc_1", "inc_2")

	state, err := NewDirScanner("base", "inc_").Scan(dir)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if !state.HasBase {
		t.Error("base not detected")
	}
	if state.MaxIncrementalIndex != 2 {
		t.Errorf("MaxIncrementalIndex = %d, want 2", state.MaxIncrementalIndex)
	}
	if state.NewestArtifactTime.IsZero() {
		t.Error("NewestArtifactTime not set")
	}
	if len(state.Artifacts) != 4 || state.Artifacts[0].Kind != KindBase {
		t.Fatalf("unexpected artifacts: %+v", state.Artifacts)
	}
	for i, a := range state.Artifacts[1:] {
		if a.Kind != KindIncremental || a.Index != i {
			t.Errorf("artifact %d = %+v", i+1, a)
		}
	}
	if !state.Contiguous() {
		t.Error("chain should be contiguous")
	}
}

func TestScan_BaseNameIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "BASE")

	state, err := NewDirScanner("base", "inc_").Scan(dir)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if !state.HasBase {
		t.Error("base folder with different case not detected")
	}
}

func TestScan_IgnoresMalformedNames(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "base", "inc_0", "inc_1_old", "inc_", "inc_x", "inc_-1", "notes")
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	state, err := NewDirScanner("base", "inc_").Scan(dir)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if state.MaxIncrementalIndex != 0 {
		t.Errorf("MaxIncrementalIndex = %d, want 0", state.MaxIncrementalIndex)
	}
	if len(state.Artifacts) != 2 {
		t.Errorf("expected base and inc_0 only, got %+v", state.Artifacts)
	}
}

func TestScan_StrayFileCountsTowardsNewestTime(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	state, err := NewDirScanner("base", "inc_").Scan(dir)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if state.NewestArtifactTime.IsZero() {
		t.Error("stray file ignored for NewestArtifactTime")
	}
	if state.HasBase || state.MaxIncrementalIndex != -1 {
		t.Errorf("stray file changed lifecycle state: %+v", state)
	}
}

func TestScan_GapIsNotContiguous(t *testing.T) {
	dir := t.TempDir()
	mkdirs(t, dir, "base", "inc_0", "inc_2")

	state, err := NewDirScanner("base", "inc_").Scan(dir)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if state.MaxIncrementalIndex != 2 {
		t.Errorf("MaxIncrementalIndex = %d, want 2", state.MaxIncrementalIndex)
	}
	if state.Contiguous() {
		t.Error("gap not detected")
	}
}

func TestScan_MissingDirectory(t *testing.T) {
	_, err := NewDirScanner("base", "inc_").Scan(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, ErrDirectoryMissing) {
		t.Fatalf("expected ErrDirectoryMissing, got %v", err)
	}
}

func TestScan_FileInsteadOfDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewDirScanner("base", "inc_").Scan(path)
	if !errors.Is(err, ErrDirectoryMissing) {
		t.Fatalf("expected ErrDirectoryMissing, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	s := NewDirScanner("base", "inc_")
	if got := s.BasePath("/data/backups/mysql"); got != "/data/backups/mysql/base" {
		t.Errorf("BasePath = %q", got)
	}
	if got := s.IncrementalPath("/data/backups/mysql/", 4); got != "/data/backups/mysql/inc_4" {
		t.Errorf("IncrementalPath = %q", got)
	}
}

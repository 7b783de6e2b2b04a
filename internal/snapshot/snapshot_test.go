package snapshot

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PavelTrutman/goldfish/internal/logger"
)

func init() {
	logger.Init("error", "text", io.Discard)
}

func mkTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestRun_FreshSnapshot(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x", "b/c": "yy"})
	dest := t.TempDir()

	var out bytes.Buffer
	result, err := Run(Options{
		SourceTrees: []string{src},
		DestRoot:    dest,
		Out:         &out,
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Trees) != 1 {
		t.Fatalf("Run() Trees = %d, want 1", len(result.Trees))
	}
	tr := result.Trees[0]
	if tr.Counters.Copied != 3 {
		t.Errorf("Run() Copied = %d, want 3", tr.Counters.Copied)
	}
	if tr.Counters.Linked != 0 || tr.Counters.HashLinked != 0 {
		t.Errorf("Run() unexpected links on fresh run: %+v", tr.Counters)
	}

	base := filepath.Base(src)
	gotA, err := os.ReadFile(filepath.Join(dest, "20260101_0000", base, "a"))
	if err != nil || string(gotA) != "x" {
		t.Errorf("destination file a: %v, %q", err, gotA)
	}
}

func TestRun_UnchangedReRunLinksEverything(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x", "b/c": "yy"})
	dest := t.TempDir()

	_, err := Run(Options{
		SourceTrees: []string{src},
		DestRoot:    dest,
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	result, err := Run(Options{
		SourceTrees: []string{src},
		DestRoot:    dest,
	}, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	tr := result.Trees[0]
	if tr.Counters.Copied != 0 {
		t.Errorf("Run() second pass Copied = %d, want 0", tr.Counters.Copied)
	}
	if tr.Counters.Linked != 3 {
		t.Errorf("Run() second pass Linked = %d, want 3", tr.Counters.Linked)
	}

	base := filepath.Base(src)
	si, _ := os.Stat(filepath.Join(dest, "20260101_0000", base, "a"))
	di, _ := os.Stat(filepath.Join(dest, "20260102_0000", base, "a"))
	if !os.SameFile(si, di) {
		t.Error("Run() second pass did not hardlink to the first snapshot")
	}
}

func TestRun_MovedFileHashLinksWithIndexEnabled(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x"})
	dest := t.TempDir()

	_, err := Run(Options{
		SourceTrees:  []string{src},
		DestRoot:     dest,
		IndexEnabled: true,
		DBPath:       "index.db",
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	if err := os.Remove(filepath.Join(src, "a")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "renamed"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A moved file keeps its mtime: give "renamed" the mtime of the
	// captured "a" so Pass 1 (mtime-matching) can link it.
	prevInfo, err := os.Stat(filepath.Join(dest, "20260101_0000", filepath.Base(src), "a"))
	if err != nil {
		t.Fatal(err)
	}
	mtime := prevInfo.ModTime()
	if err := os.Chtimes(filepath.Join(src, "renamed"), mtime, mtime); err != nil {
		t.Fatal(err)
	}

	result, err := Run(Options{
		SourceTrees:  []string{src},
		DestRoot:     dest,
		IndexEnabled: true,
		DBPath:       "index.db",
	}, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	tr := result.Trees[0]
	if tr.Counters.HashLinked != 1 {
		t.Errorf("Run() second pass HashLinked = %d, want 1", tr.Counters.HashLinked)
	}
	if tr.Counters.Copied != 0 {
		t.Errorf("Run() second pass Copied = %d, want 0", tr.Counters.Copied)
	}
}

func TestRun_ClockCollisionIsConfigError(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x"})
	dest := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := Run(Options{SourceTrees: []string{src}, DestRoot: dest}, now); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if _, err := Run(Options{SourceTrees: []string{src}, DestRoot: dest}, now); err == nil {
		t.Fatal("Run() expected a collision error on a repeated datetime name")
	}
}

func TestRun_ClockCollision_InteractiveDeclineIsConfigError(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x"})
	dest := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := Run(Options{SourceTrees: []string{src}, DestRoot: dest}, now); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	_, err := Run(Options{
		SourceTrees: []string{src},
		DestRoot:    dest,
		Interactive: true,
		In:          strings.NewReader("n\n"),
	}, now)
	if err == nil {
		t.Fatal("Run() expected a collision error when the operator declines")
	}
}

func TestRun_ClockCollision_InteractiveAcceptRedoesSnapshot(t *testing.T) {
	src := mkTree(t, map[string]string{"a": "x", "b/c": "yy"})
	dest := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := Run(Options{SourceTrees: []string{src}, DestRoot: dest}, now); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "d"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Run(Options{
		SourceTrees: []string{src},
		DestRoot:    dest,
		Interactive: true,
		In:          strings.NewReader("y\n"),
	}, now)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil when the operator accepts", err)
	}

	base := filepath.Base(src)
	gotD, err := os.ReadFile(filepath.Join(dest, result.DatetimeName, base, "d"))
	if err != nil || string(gotD) != "new" {
		t.Errorf("new file within the redone snapshot: %v, %q", err, gotD)
	}
}

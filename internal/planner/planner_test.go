package planner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PavelTrutman/goldfish/internal/hasher"
	"github.com/PavelTrutman/goldfish/internal/index"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%q): %v", path, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Chtimes(%q): %v", path, err)
		}
	}
}

func TestPlanFile_FastPathLink_NoIndex(t *testing.T) {
	root := t.TempDir()
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	prevPath := filepath.Join(root, "prev", "a.txt")
	os.MkdirAll(filepath.Dir(prevPath), 0o755)
	writeFile(t, prevPath, "hello", mtime)

	srcPath := filepath.Join(root, "src", "a.txt")
	os.MkdirAll(filepath.Dir(srcPath), 0o755)
	writeFile(t, srcPath, "hello", mtime)

	destPath := filepath.Join(root, "dest", "a.txt")
	os.MkdirAll(filepath.Dir(destPath), 0o755)

	p := &Planner{FollowSymlinks: true}
	counters, err := p.PlanFile(Task{
		RelPath:  "a.txt",
		SrcPath:  srcPath,
		PrevPath: prevPath,
		DestPath: destPath,
	}, 0, 0, false)
	if err != nil {
		t.Fatalf("PlanFile() error = %v", err)
	}
	if counters.Linked != 5 || counters.Copied != 0 || counters.HashLinked != 0 {
		t.Errorf("PlanFile() counters = %+v, want Linked=5", counters)
	}

	si, _ := os.Stat(prevPath)
	di, _ := os.Stat(destPath)
	if !os.SameFile(si, di) {
		t.Error("PlanFile() fast path did not hardlink to the previous snapshot")
	}
}

func TestPlanFile_SlowPath_NovelContent_NoIndex(t *testing.T) {
	root := t.TempDir()
	srcPath := filepath.Join(root, "src", "a.txt")
	os.MkdirAll(filepath.Dir(srcPath), 0o755)
	writeFile(t, srcPath, "new content", time.Time{})

	destPath := filepath.Join(root, "dest", "a.txt")
	os.MkdirAll(filepath.Dir(destPath), 0o755)

	var out bytes.Buffer
	p := &Planner{FollowSymlinks: true, Out: &out}
	counters, err := p.PlanFile(Task{
		RelPath:  "a.txt",
		SrcPath:  srcPath,
		PrevPath: "",
		DestPath: destPath,
	}, 0, 0, false)
	if err != nil {
		t.Fatalf("PlanFile() error = %v", err)
	}
	if counters.Copied != int64(len("new content")) {
		t.Errorf("PlanFile() Copied = %d, want %d", counters.Copied, len("new content"))
	}
	if got, err := os.ReadFile(destPath); err != nil || string(got) != "new content" {
		t.Errorf("destination content = %q, %v", got, err)
	}
	if out.Len() == 0 {
		t.Error("PlanFile() expected a progress line for a copy")
	}
}

func TestPlanFile_HashLink_MovedFile(t *testing.T) {
	root := t.TempDir()
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	origPath := filepath.Join(root, "20260101_0000", "s", "a.txt")
	os.MkdirAll(filepath.Dir(origPath), 0o755)
	writeFile(t, origPath, "moved content", mtime)

	srcPath := filepath.Join(root, "src", "renamed.txt")
	os.MkdirAll(filepath.Dir(srcPath), 0o755)
	writeFile(t, srcPath, "moved content", mtime)

	destPath := filepath.Join(root, "20260102_0000", "s", "renamed.txt")
	os.MkdirAll(filepath.Dir(destPath), 0o755)

	realResult := mustHash(t, srcPath)

	store := index.NewMemStore()
	snap1, _ := store.NewBackup("20260101_0000")
	folder1, _ := store.NewFolder("s", snap1)
	hashID, _ := store.InsertHash(realResult.Digest, int64(len("moved content")), realResult.IsSymlink)
	if err := store.InsertFile("a.txt", folder1, hashID); err != nil {
		t.Fatal(err)
	}
	snap2, _ := store.NewBackup("20260102_0000")
	folder2, _ := store.NewFolder("s", snap2)

	var out bytes.Buffer
	p := &Planner{
		Store:        store,
		DestRoot:     root,
		IndexEnabled: true,
		Out:          &out,
	}

	counters, err := p.PlanFile(Task{
		RelPath:  "renamed.txt",
		SrcPath:  srcPath,
		PrevPath: "",
		DestPath: destPath,
	}, folder2, folder1, true)
	if err != nil {
		t.Fatalf("PlanFile() error = %v", err)
	}
	if counters.HashLinked != int64(len("moved content")) {
		t.Errorf("PlanFile() counters = %+v, want HashLinked=%d", counters, len("moved content"))
	}

	si, _ := os.Stat(origPath)
	di, _ := os.Stat(destPath)
	if !os.SameFile(si, di) {
		t.Error("PlanFile() did not hash-link to the prior file with matching content")
	}
}

func TestPlanFile_MTimeDiffers_DBLinkMDifferOff_CopiesWithAdvisory(t *testing.T) {
	root := t.TempDir()
	oldMtime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	newMtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	origPath := filepath.Join(root, "20260101_0000", "s", "a.txt")
	os.MkdirAll(filepath.Dir(origPath), 0o755)
	writeFile(t, origPath, "same content", oldMtime)

	srcPath := filepath.Join(root, "src", "a.txt")
	os.MkdirAll(filepath.Dir(srcPath), 0o755)
	writeFile(t, srcPath, "same content", newMtime)

	destPath := filepath.Join(root, "20260102_0000", "s", "a.txt")
	os.MkdirAll(filepath.Dir(destPath), 0o755)

	realResult := mustHash(t, srcPath)

	store := index.NewMemStore()
	snap1, _ := store.NewBackup("20260101_0000")
	folder1, _ := store.NewFolder("s", snap1)
	hashID, _ := store.InsertHash(realResult.Digest, int64(len("same content")), realResult.IsSymlink)
	if err := store.InsertFile("a.txt", folder1, hashID); err != nil {
		t.Fatal(err)
	}
	snap2, _ := store.NewBackup("20260102_0000")
	folder2, _ := store.NewFolder("s", snap2)

	var out bytes.Buffer
	p := &Planner{
		Store:         store,
		DestRoot:      root,
		IndexEnabled:  true,
		DBLinkMDiffer: false,
		Out:           &out,
	}

	counters, err := p.PlanFile(Task{
		RelPath:  "a.txt",
		SrcPath:  srcPath,
		PrevPath: "",
		DestPath: destPath,
	}, folder2, folder1, true)
	if err != nil {
		t.Fatalf("PlanFile() error = %v", err)
	}
	if counters.Copied != int64(len("same content")) || counters.HashLinked != 0 {
		t.Errorf("PlanFile() counters = %+v, want Copied=%d, HashLinked=0", counters, len("same content"))
	}

	si, _ := os.Stat(origPath)
	di, _ := os.Stat(destPath)
	if os.SameFile(si, di) {
		t.Error("PlanFile() should not have hardlinked when DBLinkMDiffer is off")
	}
	if !bytes.Contains(out.Bytes(), []byte("may be hash-linked with different mtime")) {
		t.Errorf("PlanFile() out = %q, want a 'may be hash-linked' advisory line", out.String())
	}
}

func TestPlanFile_MTimeDiffers_DBLinkMDifferOn_HashLinksAndForwardsMTime(t *testing.T) {
	root := t.TempDir()
	oldMtime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	newMtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	origPath := filepath.Join(root, "20260101_0000", "s", "a.txt")
	os.MkdirAll(filepath.Dir(origPath), 0o755)
	writeFile(t, origPath, "same content", oldMtime)

	srcPath := filepath.Join(root, "src", "a.txt")
	os.MkdirAll(filepath.Dir(srcPath), 0o755)
	writeFile(t, srcPath, "same content", newMtime)

	destPath := filepath.Join(root, "20260102_0000", "s", "a.txt")
	os.MkdirAll(filepath.Dir(destPath), 0o755)

	realResult := mustHash(t, srcPath)

	store := index.NewMemStore()
	snap1, _ := store.NewBackup("20260101_0000")
	folder1, _ := store.NewFolder("s", snap1)
	hashID, _ := store.InsertHash(realResult.Digest, int64(len("same content")), realResult.IsSymlink)
	if err := store.InsertFile("a.txt", folder1, hashID); err != nil {
		t.Fatal(err)
	}
	snap2, _ := store.NewBackup("20260102_0000")
	folder2, _ := store.NewFolder("s", snap2)

	var out bytes.Buffer
	p := &Planner{
		Store:         store,
		DestRoot:      root,
		IndexEnabled:  true,
		DBLinkMDiffer: true,
		Out:           &out,
	}

	counters, err := p.PlanFile(Task{
		RelPath:  "a.txt",
		SrcPath:  srcPath,
		PrevPath: "",
		DestPath: destPath,
	}, folder2, folder1, true)
	if err != nil {
		t.Fatalf("PlanFile() error = %v", err)
	}
	if counters.HashLinked != int64(len("same content")) || counters.Copied != 0 {
		t.Errorf("PlanFile() counters = %+v, want HashLinked=%d, Copied=0", counters, len("same content"))
	}

	si, _ := os.Stat(origPath)
	di, _ := os.Stat(destPath)
	if !os.SameFile(si, di) {
		t.Error("PlanFile() should have hardlinked despite the mtime difference")
	}
	if di.ModTime().Truncate(time.Second) != newMtime {
		t.Errorf("PlanFile() dest mtime = %v, want forwarded mtime %v", di.ModTime(), newMtime)
	}
	if !bytes.Contains(out.Bytes(), []byte("mtime differs")) {
		t.Errorf("PlanFile() out = %q, want a 'mtime differs' origin line", out.String())
	}
}

func mustHash(t *testing.T, path string) hasher.Result {
	t.Helper()
	result, err := hasher.Hash(path, true)
	if err != nil {
		t.Fatal(err)
	}
	return result
}

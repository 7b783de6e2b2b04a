// Package snapshot drives the incremental backup run (component E): it
// enumerates configured source trees, creates the timestamped
// destination tree, and invokes the planner (component D) for each
// tree in turn, emitting progress as it goes.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
	"github.com/PavelTrutman/goldfish/internal/display"
	"github.com/PavelTrutman/goldfish/internal/fsadapter"
	"github.com/PavelTrutman/goldfish/internal/ignore"
	"github.com/PavelTrutman/goldfish/internal/index"
	"github.com/PavelTrutman/goldfish/internal/logger"
	"github.com/PavelTrutman/goldfish/internal/planner"
	"github.com/PavelTrutman/goldfish/internal/prompt"
)

// staleSnapshotWindow bounds how close a previous snapshot folder's mtime
// may be to its containing snapshot directory's mtime before runTree
// warns that it may be the product of an interrupted run. There is no
// completion marker on disk, so this is a heuristic, not a guarantee.
const staleSnapshotWindow = 10 * time.Minute

// datetimeLayout names snapshot directories, chosen so lexicographic
// ordering equals chronological ordering.
const datetimeLayout = "20060102_1504"

// Options configures one run of the driver.
type Options struct {
	SourceTrees    []string
	DestRoot       string
	FollowSymlinks bool
	IndexEnabled   bool
	DBPath         string
	DBLinkMDiffer  bool
	ExcludeFile    string
	// Out receives the progress stream. Defaults to io.Discard if nil.
	Out io.Writer
	// Interactive allows a clock-collision (a snapshot for this minute
	// already exists) to be resolved by asking the operator whether to
	// discard the existing snapshot and take it again rather than
	// aborting. Non-interactive callers (cron-driven runs using
	// --non-interactive) leave this false and always get the hard
	// ConfigError.
	Interactive bool
	// In is the reader Confirm prompts against when Interactive is true.
	// Defaults to os.Stdin if nil.
	In io.Reader
}

// confirmCollision returns nil if the run should proceed despite msg
// describing an already-existing snapshot, or a *bkerr.ConfigError
// otherwise. Non-interactive runs always get the error; interactive
// runs get it only if the operator declines the prompt.
func confirmCollision(opts Options, out io.Writer, msg string) error {
	cfgErr := &bkerr.ConfigError{Msg: msg}
	if !opts.Interactive {
		return cfgErr
	}

	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	proceed, err := prompt.Confirm(in, out, msg+". Discard it and take the snapshot again?", boolPtr(false))
	if err != nil || !proceed {
		return cfgErr
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

// TreeResult is one source tree's outcome within a run.
type TreeResult struct {
	Name     string
	Counters planner.Counters
}

// Result is a completed run's outcome.
type Result struct {
	DatetimeName string
	SnapshotDir  string
	Trees        []TreeResult
}

// Run executes one backup pass at the given time, which the caller
// supplies so the snapshot name is deterministic and testable.
func Run(opts Options, now time.Time) (Result, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	candidates, err := previousSnapshots(opts.DestRoot)
	if err != nil {
		return Result{}, err
	}

	datetimeName := now.Format(datetimeLayout)
	snapshotDir := filepath.Join(opts.DestRoot, datetimeName)
	for _, c := range candidates {
		if c == datetimeName {
			if err := confirmCollision(opts, out, fmt.Sprintf("snapshot %q already exists on disk", datetimeName)); err != nil {
				return Result{}, err
			}
			// The operator chose to redo this snapshot: wipe it rather
			// than merge into it, so every file the walk plans lands on
			// a clean destination instead of colliding with whatever a
			// prior, possibly-interrupted attempt already wrote there.
			if err := os.RemoveAll(snapshotDir); err != nil {
				return Result{}, &bkerr.IOError{Op: "removeall", Path: snapshotDir, Err: err}
			}
			break
		}
	}

	var store index.Store
	var snapshotID int64
	if opts.IndexEnabled {
		dbPath := opts.DBPath
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(opts.DestRoot, dbPath)
		}
		sqliteStore, err := index.Open(dbPath)
		if err != nil {
			return Result{}, err
		}
		defer sqliteStore.Close()
		store = sqliteStore

		if existingID, ok, err := store.GetBackup(datetimeName); err != nil {
			return Result{}, err
		} else if ok {
			if err := confirmCollision(opts, out, fmt.Sprintf("snapshot %q already exists in the index", datetimeName)); err != nil {
				return Result{}, err
			}
			if err := store.DeleteBackup(existingID); err != nil {
				return Result{}, err
			}
			snapshotID, err = store.NewBackup(datetimeName)
			if err != nil {
				return Result{}, err
			}
		} else {
			snapshotID, err = store.NewBackup(datetimeName)
			if err != nil {
				return Result{}, err
			}
		}
	}

	matcher, err := ignore.NewMatcher(opts.ExcludeFile)
	if err != nil {
		return Result{}, err
	}

	if !fsadapter.Exists(snapshotDir) {
		if err := fsadapter.Mkdir(snapshotDir); err != nil {
			return Result{}, err
		}
	}

	result := Result{DatetimeName: datetimeName, SnapshotDir: snapshotDir}

	// prevCandidates excludes datetimeName itself: a confirmed collision
	// reuses datetimeName as the snapshot being written, so it must never
	// also be treated as "the previous snapshot" to link against.
	var prevCandidates []string
	for _, c := range candidates {
		if c != datetimeName {
			prevCandidates = append(prevCandidates, c)
		}
	}

	for _, srcTree := range opts.SourceTrees {
		treeResult, err := runTree(runTreeInput{
			opts:         opts,
			store:        store,
			matcher:      matcher,
			snapshotID:   snapshotID,
			snapshotDir:  snapshotDir,
			srcTree:      srcTree,
			candidates:   prevCandidates,
			datetimeName: datetimeName,
			out:          out,
		})
		if err != nil {
			return Result{}, err
		}
		result.Trees = append(result.Trees, treeResult)
	}

	return result, nil
}

// previousSnapshots lists the destination root's existing snapshot
// directories, sorted descending lexicographically (equal to descending
// chronological order given datetimeLayout's zero-padded fields).
func previousSnapshots(destRoot string) ([]string, error) {
	entries, err := os.ReadDir(destRoot)
	if err != nil {
		return nil, &bkerr.IOError{Op: "readdir", Path: destRoot, Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// findPrevious returns the first candidate snapshot directory (the
// candidates list is already sorted descending) that contains a
// subdirectory named base, or "" if none does.
func findPrevious(destRoot string, candidates []string, base string) string {
	for _, c := range candidates {
		if fsadapter.Exists(filepath.Join(destRoot, c, base)) {
			return c
		}
	}
	return ""
}

// warnIfPossiblyIncomplete logs a non-blocking warning when the chosen
// previous snapshot folder's mtime falls within staleSnapshotWindow of
// its containing snapshot directory's mtime, suggesting the prior run
// may have been interrupted before it finished writing that folder.
// This never blocks the current run: a false positive costs a log line,
// a false negative costs nothing extra, since the fast/hash-link paths
// already tolerate a partially written previous snapshot.
func warnIfPossiblyIncomplete(destRoot, prevName, base string) {
	if prevName == "" {
		return
	}
	snapInfo, err := os.Stat(filepath.Join(destRoot, prevName))
	if err != nil {
		return
	}
	folderInfo, err := os.Stat(filepath.Join(destRoot, prevName, base))
	if err != nil {
		return
	}
	if folderInfo.ModTime().Sub(snapInfo.ModTime()).Abs() < staleSnapshotWindow {
		logger.Warn("previous snapshot folder may be from an interrupted run, linking against it anyway",
			"snapshot", prevName, "folder", base)
	}
}

type runTreeInput struct {
	opts         Options
	store        index.Store
	matcher      ignore.Matcher
	snapshotID   int64
	snapshotDir  string
	srcTree      string
	candidates   []string
	datetimeName string
	out          io.Writer
}

func runTree(in runTreeInput) (TreeResult, error) {
	base := filepath.Base(in.srcTree)
	prevName := findPrevious(in.opts.DestRoot, in.candidates, base)
	warnIfPossiblyIncomplete(in.opts.DestRoot, prevName, base)

	destTreeDir := filepath.Join(in.snapshotDir, base)
	if !fsadapter.Exists(destTreeDir) {
		if err := fsadapter.Mkdir(destTreeDir); err != nil {
			return TreeResult{}, err
		}
	}

	var folderID, prevFolderID int64
	var hasPrevFolder bool
	if in.opts.IndexEnabled {
		var err error
		var ok bool
		folderID, ok, err = in.store.GetFolder(base, in.snapshotID)
		if err != nil {
			return TreeResult{}, err
		}
		if !ok {
			folderID, err = in.store.NewFolder(base, in.snapshotID)
			if err != nil {
				return TreeResult{}, err
			}
		}
		if prevName != "" {
			if prevSnapID, ok, err := in.store.GetBackup(prevName); err != nil {
				return TreeResult{}, err
			} else if ok {
				prevFolderID, hasPrevFolder, err = in.store.GetFolder(base, prevSnapID)
				if err != nil {
					return TreeResult{}, err
				}
			}
		}
	}

	pl := &planner.Planner{
		Store:          in.store,
		DestRoot:       in.opts.DestRoot,
		FollowSymlinks: in.opts.FollowSymlinks,
		IndexEnabled:   in.opts.IndexEnabled,
		DBLinkMDiffer:  in.opts.DBLinkMDiffer,
		Out:            in.out,
	}

	var counters planner.Counters
	err := fsadapter.Walk(in.srcTree, func(relDir string, dirs, files []fsadapter.Entry) ([]fsadapter.Entry, error) {
		var kept []fsadapter.Entry
		for _, d := range dirs {
			if in.matcher.Match(d.RelPath, true) {
				continue
			}
			subdir := filepath.Join(destTreeDir, d.RelPath)
			if !fsadapter.Exists(subdir) {
				if err := fsadapter.Mkdir(subdir); err != nil {
					return nil, err
				}
			}
			kept = append(kept, d)
		}
		for _, f := range files {
			if in.matcher.Match(f.RelPath, false) {
				continue
			}
			display.ProgressLine(in.out, f.RelPath)
			var prevPath string
			if prevName != "" {
				prevPath = filepath.Join(in.opts.DestRoot, prevName, base, f.RelPath)
			}
			c, err := pl.PlanFile(plannerTask(in.srcTree, destTreeDir, f.RelPath, prevPath), folderID, prevFolderID, hasPrevFolder)
			if err != nil {
				return nil, err
			}
			counters = counters.Add(c)
		}
		return kept, nil
	})
	if err != nil {
		return TreeResult{}, err
	}

	if err := fsadapter.Sync(); err != nil {
		return TreeResult{}, err
	}

	fmt.Fprintf(in.out, "%s: %s\n", base, display.Totals(
		uint64(counters.Copied), uint64(counters.Linked), uint64(counters.HashLinked),
	))

	return TreeResult{Name: base, Counters: counters}, nil
}

func plannerTask(srcTree, destTreeDir, relPath, prevPath string) planner.Task {
	return planner.Task{
		RelPath:  relPath,
		SrcPath:  filepath.Join(srcTree, relPath),
		PrevPath: prevPath,
		DestPath: filepath.Join(destTreeDir, relPath),
	}
}

// Package planner implements the snapshot decision procedure (component
// D): for each source file it chooses between a fast-path hardlink to
// the previous snapshot, a content-hash hardlink to any prior file known
// through the index, or a byte copy, and records the outcome into the
// index.
package planner

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
	"github.com/PavelTrutman/goldfish/internal/fsadapter"
	"github.com/PavelTrutman/goldfish/internal/hasher"
	"github.com/PavelTrutman/goldfish/internal/index"
)

// Counters accumulates the byte totals the driver prints per source
// tree after each run.
type Counters struct {
	Copied     int64
	Linked     int64
	HashLinked int64
}

func (c *Counters) add(other Counters) {
	c.Copied += other.Copied
	c.Linked += other.Linked
	c.HashLinked += other.HashLinked
}

// Task describes one source file to plan.
type Task struct {
	// RelPath is the file's path relative to its source tree, used as
	// the index's relative_path and to name the destination file.
	RelPath string
	// SrcPath is the file's absolute path under the source tree.
	SrcPath string
	// PrevPath is the file's absolute path under the previous
	// snapshot's same-named source tree, or "" if there is no previous
	// snapshot or no previous folder to compare against.
	PrevPath string
	// DestPath is the absolute path to materialize in the new
	// snapshot, via link or copy.
	DestPath string
}

// Planner holds the configuration and index handle shared across all
// files planned within one run.
type Planner struct {
	// Store is the index to consult and record into. May be nil when
	// IndexEnabled is false.
	Store index.Store
	// DestRoot is the destination root directory, used to resolve a
	// hash-link candidate's (snapshot, folder, relative_path) triple
	// back into an absolute path.
	DestRoot string
	// FollowSymlinks controls whether symlinks are dereferenced for
	// stat, hash and link, matching the run's configuration.
	FollowSymlinks bool
	// IndexEnabled turns on the content-addressed hash-link path and
	// all index bookkeeping.
	IndexEnabled bool
	// DBLinkMDiffer enables Pass 2 hash linking when a candidate's
	// content matches but its mtime differs from the source file's.
	DBLinkMDiffer bool
	// Out receives the progress stream: one completed line per copied
	// or hash-linked file, with a subordinate hash-link origin line
	// when applicable.
	Out io.Writer
}

// PlanFile applies the decision procedure to one file and returns the
// byte counters it contributed.
func (p *Planner) PlanFile(task Task, folderID, prevFolderID int64, hasPrevFolder bool) (Counters, error) {
	statF, err := fsadapter.Stat(task.SrcPath, p.FollowSymlinks)
	if err != nil {
		return Counters{}, err
	}

	if task.PrevPath != "" && fsadapter.IsRegularFile(task.PrevPath) {
		prevInfo, err := fsadapter.Stat(task.PrevPath, p.FollowSymlinks)
		if err == nil && prevInfo.Size == statF.Size && prevInfo.RoundedModTime() == statF.RoundedModTime() {
			return p.fastPathLink(task, statF, folderID, prevFolderID, hasPrevFolder)
		}
	}

	return p.slowPath(task, statF, folderID)
}

func (p *Planner) fastPathLink(task Task, statF fsadapter.Info, folderID, prevFolderID int64, hasPrevFolder bool) (Counters, error) {
	if err := fsadapter.Hardlink(task.PrevPath, task.DestPath, p.FollowSymlinks); err != nil {
		return Counters{}, err
	}
	counters := Counters{Linked: statF.Size}

	if p.IndexEnabled {
		var (
			hashID int64
			found  bool
			err    error
		)
		if hasPrevFolder {
			_, hashID, found, err = p.Store.GetFile(task.RelPath, prevFolderID)
			if err != nil {
				return Counters{}, err
			}
		}
		if !found {
			hashID, err = p.hashAndUpsert(task.SrcPath, statF)
			if err != nil {
				return Counters{}, err
			}
		}
		if err := p.Store.InsertFile(task.RelPath, folderID, hashID); err != nil {
			return Counters{}, err
		}
	}

	return counters, nil
}

func (p *Planner) slowPath(task Task, statF fsadapter.Info, folderID int64) (Counters, error) {
	if !p.IndexEnabled {
		if err := fsadapter.CopyWithMetadata(task.SrcPath, task.DestPath, p.FollowSymlinks); err != nil {
			return Counters{}, err
		}
		p.printCompleted(task.RelPath)
		return Counters{Copied: statF.Size}, nil
	}

	result, err := hasher.Hash(task.SrcPath, p.FollowSymlinks)
	if err != nil {
		return Counters{}, err
	}

	hashID, found, err := p.Store.GetHashID(result.Digest, statF.Size, result.IsSymlink)
	if err != nil {
		return Counters{}, err
	}

	var counters Counters
	if !found {
		hashID, err = p.Store.InsertHash(result.Digest, statF.Size, result.IsSymlink)
		if err != nil {
			return Counters{}, err
		}
		if err := fsadapter.CopyWithMetadata(task.SrcPath, task.DestPath, p.FollowSymlinks); err != nil {
			return Counters{}, err
		}
		counters.Copied = statF.Size
		p.printCompleted(task.RelPath)
	} else {
		candidates, err := p.Store.GetFilesByHash(hashID)
		if err != nil {
			return Counters{}, err
		}
		linked, origin, advisory, err := p.tryHashLink(task, statF, candidates)
		if err != nil {
			return Counters{}, err
		}
		if linked {
			counters.HashLinked = statF.Size
			p.printCompleted(task.RelPath)
			p.printHashLinkOrigin(origin)
		} else {
			if err := fsadapter.CopyWithMetadata(task.SrcPath, task.DestPath, p.FollowSymlinks); err != nil {
				return Counters{}, err
			}
			counters.Copied = statF.Size
			p.printCompleted(task.RelPath)
			p.printHashLinkAdvisory(advisory)
		}
	}

	if err := p.Store.InsertFile(task.RelPath, folderID, hashID); err != nil {
		return Counters{}, err
	}
	return counters, nil
}

// tryHashLink runs Pass 1 (mtime-matching) over the candidates, then
// Pass 2 (mtime-differing) over them. Pass 2 always looks for the first
// still-existing candidate, regardless of DBLinkMDiffer: when the flag
// is off it reports that candidate as an advisory instead of linking to
// it. Returns whether a link was made, the origin to report for a link,
// and an advisory origin to report when no link was made but a
// mtime-differing candidate was found.
func (p *Planner) tryHashLink(task Task, statF fsadapter.Info, candidates []index.FileRef) (bool, string, string, error) {
	for _, c := range candidates {
		path := p.candidatePath(c)
		if !fsadapter.IsRegularFile(path) {
			continue
		}
		info, err := fsadapter.Stat(path, p.FollowSymlinks)
		if err != nil {
			continue
		}
		if info.RoundedModTime() != statF.RoundedModTime() {
			continue
		}
		if err := fsadapter.Hardlink(path, task.DestPath, p.FollowSymlinks); err != nil {
			return false, "", "", err
		}
		return true, p.originLabel(c), "", nil
	}

	for _, c := range candidates {
		path := p.candidatePath(c)
		if !fsadapter.IsRegularFile(path) {
			continue
		}
		info, err := fsadapter.Stat(path, p.FollowSymlinks)
		if err != nil {
			continue
		}

		if !p.DBLinkMDiffer {
			return false, "", p.originLabel(c), nil
		}

		if err := fsadapter.Hardlink(path, task.DestPath, p.FollowSymlinks); err != nil {
			return false, "", "", err
		}
		if statF.ModTime.After(info.ModTime) {
			if err := fsadapter.CopyMetadataOnly(task.SrcPath, task.DestPath); err != nil {
				return false, "", "", err
			}
		}
		return true, p.originLabel(c) + " (mtime differs)", "", nil
	}

	return false, "", "", nil
}

func (p *Planner) candidatePath(c index.FileRef) string {
	return filepath.Join(p.DestRoot, c.SnapshotDatetime, c.FolderName, c.RelativePath)
}

func (p *Planner) originLabel(c index.FileRef) string {
	return filepath.Join(c.SnapshotDatetime, c.FolderName, c.RelativePath)
}

func (p *Planner) hashAndUpsert(path string, statF fsadapter.Info) (int64, error) {
	result, err := hasher.Hash(path, p.FollowSymlinks)
	if err != nil {
		return 0, err
	}
	hashID, found, err := p.Store.GetHashID(result.Digest, statF.Size, result.IsSymlink)
	if err != nil {
		return 0, err
	}
	if found {
		return hashID, nil
	}
	hashID, err = p.Store.InsertHash(result.Digest, statF.Size, result.IsSymlink)
	if err != nil {
		return 0, &bkerr.IndexError{Op: "insert_hash", Err: err}
	}
	return hashID, nil
}

func (p *Planner) printCompleted(relPath string) {
	if p.Out == nil {
		return
	}
	fmt.Fprintf(p.Out, "    %s\n", relPath)
}

func (p *Planner) printHashLinkOrigin(origin string) {
	if p.Out == nil || origin == "" {
		return
	}
	fmt.Fprintf(p.Out, "      hash-linked with %s\n", origin)
}

func (p *Planner) printHashLinkAdvisory(origin string) {
	if p.Out == nil || origin == "" {
		return
	}
	fmt.Fprintf(p.Out, "      may be hash-linked with different mtime with %s\n", origin)
}

// NewCounters returns a zero Counters, named for readability at call
// sites that accumulate per-tree totals.
func NewCounters() Counters { return Counters{} }

// Add accumulates other into c and returns c, letting the driver fold
// per-file counters into a running per-tree total.
func (c Counters) Add(other Counters) Counters {
	c.add(other)
	return c
}

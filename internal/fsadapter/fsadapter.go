// Package fsadapter wraps the filesystem operations the snapshot engine
// needs (component B): stat, walk, mkdir, hardlink, copy-with-metadata,
// readlink and sync. Keeping them behind one seam lets the planner and
// driver stay free of direct syscall error-code inspection.
package fsadapter

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
)

// Info is the subset of file metadata the planner's equivalence rules
// need: size and mtime, rounded for comparison to the nearest whole
// second because some filesystems lose sub-second precision across
// backups.
type Info struct {
	Size      int64
	ModTime   time.Time
	IsDir     bool
	IsSymlink bool
	Mode      os.FileMode
}

// RoundedModTime returns the modification time rounded to the nearest
// whole second, the granularity at which the planner compares mtimes.
func (i Info) RoundedModTime() int64 {
	return int64(math.Round(float64(i.ModTime.UnixNano()) / 1e9))
}

// Stat returns metadata for path. When followSymlinks is false, a
// symlink is reported as itself (not its target); when true, the
// target's metadata is reported.
func Stat(path string, followSymlinks bool) (Info, error) {
	var info os.FileInfo
	var err error
	if followSymlinks {
		info, err = os.Stat(path)
	} else {
		info, err = os.Lstat(path)
	}
	if err != nil {
		return Info{}, &bkerr.IOError{Op: "stat", Path: path, Err: err}
	}
	return Info{
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		IsDir:     info.IsDir(),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
		Mode:      info.Mode(),
	}, nil
}

// IsRegularFile reports whether path exists and is a regular file (not a
// directory, symlink, or special file). It returns false, not an error,
// when the path does not exist.
func IsRegularFile(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// Exists reports whether path exists, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Entry describes one immediate child of a directory visited by Walk.
type Entry struct {
	Name      string
	RelPath   string
	IsDir     bool
	IsSymlink bool
}

// VisitFunc is called once per directory in pre-order, before Walk
// recurses into any of that directory's subdirectories. This lets the
// caller create destination subdirectories before any file in them is
// linked or copied. It returns the subset of dirs to actually descend
// into, letting a caller prune subtrees (e.g. exclusion patterns)
// without Walk ever reporting files under a pruned directory.
type VisitFunc func(relDir string, dirs, files []Entry) (descend []Entry, err error)

// Walk enumerates root in pre-order: for each directory it calls visit
// with its immediate subdirectories and files (both sorted by name for
// deterministic ordering), then descends into whichever subdirectories
// visit chose to keep. Symlinks to directories are reported as files
// (leaf entries), never traversed, matching the engine's "symlink is an
// artifact, not a traversal point" treatment of non-followed symlinks.
func Walk(root string, visit VisitFunc) error {
	return walk(root, "", visit)
}

func walk(root, relDir string, visit VisitFunc) error {
	absDir := filepath.Join(root, relDir)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return &bkerr.IOError{Op: "readdir", Path: absDir, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var dirs, files []Entry
	for _, de := range entries {
		childRel := filepath.Join(relDir, de.Name())
		info, err := os.Lstat(filepath.Join(root, childRel))
		if err != nil {
			return &bkerr.IOError{Op: "lstat", Path: filepath.Join(root, childRel), Err: err}
		}
		isSymlink := info.Mode()&os.ModeSymlink != 0
		entry := Entry{Name: de.Name(), RelPath: childRel, IsSymlink: isSymlink}
		if de.IsDir() && !isSymlink {
			entry.IsDir = true
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	descend, err := visit(relDir, dirs, files)
	if err != nil {
		return err
	}

	for _, d := range descend {
		if err := walk(root, d.RelPath, visit); err != nil {
			return err
		}
	}
	return nil
}

// Mkdir creates dir, which must not already exist. The caller is
// expected to have already created dir's parent (Walk's pre-order
// guarantee makes that true for the snapshot tree).
func Mkdir(dir string) error {
	if err := os.Mkdir(dir, 0o755); err != nil {
		return &bkerr.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return nil
}

// Hardlink creates dst as a hardlink to src. followSymlinks controls
// whether a symlink src is linked as itself (default, POSIX os.Link
// behavior) or dereferenced first.
//
// A cross-device failure is reported as *bkerr.CrossDeviceError rather
// than folded into a generic IOError, because the caller must treat it
// as fatal: silently falling back to a copy would break the
// deduplication invariant the caller asked for.
func Hardlink(src, dst string, followSymlinks bool) error {
	linkSrc := src
	if followSymlinks {
		resolved, err := filepath.EvalSymlinks(src)
		if err != nil {
			return &bkerr.IOError{Op: "evalsymlinks", Path: src, Err: err}
		}
		linkSrc = resolved
	}

	if err := os.Link(linkSrc, dst); err != nil {
		var errno syscall.Errno
		if errors.As(err, &errno) && errno == syscall.EXDEV {
			return &bkerr.CrossDeviceError{Src: linkSrc, Dst: dst}
		}
		return &bkerr.IOError{Op: "link", Path: dst, Err: err}
	}
	return nil
}

// CopyWithMetadata copies src to dst, then forwards src's mode and mtime
// onto dst. When followSymlinks is false and src is a symlink, dst is
// created as a symlink to the same target instead of a byte copy.
func CopyWithMetadata(src, dst string, followSymlinks bool) error {
	if !followSymlinks {
		info, err := os.Lstat(src)
		if err != nil {
			return &bkerr.IOError{Op: "lstat", Path: src, Err: err}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(src)
			if err != nil {
				return &bkerr.IOError{Op: "readlink", Path: src, Err: err}
			}
			if err := os.Symlink(target, dst); err != nil {
				return &bkerr.IOError{Op: "symlink", Path: dst, Err: err}
			}
			return nil
		}
	}

	if err := copyBytes(src, dst); err != nil {
		return err
	}
	return CopyMetadataOnly(src, dst)
}

func copyBytes(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &bkerr.IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &bkerr.IOError{Op: "stat", Path: src, Err: err}
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return &bkerr.IOError{Op: "create", Path: dst, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &bkerr.IOError{Op: "copy", Path: dst, Err: err}
	}
	return nil
}

// CopyMetadataOnly forwards src's mtime and permission bits onto an
// already-materialized dst. It is used both by CopyWithMetadata and, on
// its own, to propagate a newer source mtime onto a hardlinked inode
// shared with an older capture (planner Pass 2).
func CopyMetadataOnly(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return &bkerr.IOError{Op: "lstat", Path: src, Err: err}
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// Symlink mtimes are not portably settable across platforms;
		// the symlink's own creation time stands.
		return nil
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return &bkerr.IOError{Op: "chmod", Path: dst, Err: err}
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return &bkerr.IOError{Op: "chtimes", Path: dst, Err: err}
	}
	return nil
}

// Readlink returns the target of the symlink at path.
func Readlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", &bkerr.IOError{Op: "readlink", Path: path, Err: err}
	}
	return target, nil
}

// Sync flushes all pending destination writes to stable storage. It is
// called once per source tree, after that tree's files have all been
// linked or copied.
func Sync() error {
	syscall.Sync()
	return nil
}

// Package hasher computes the content digest the index uses as its
// deduplication key (component A of the snapshot engine).
//
// The algorithm is fixed by contract: SHA-256, lowercase hex. For a
// regular file (or a symlink when symlinks are followed) the digest
// covers the file's contents, streamed in fixed-size chunks. For a
// symlink left unfollowed, the digest covers the raw bytes of the
// symlink's target string instead, and the result is flagged as a
// symlink so the index never confuses a symlink whose target text
// happens to equal some regular file's contents.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
)

// chunkSize is the buffer size used to stream file contents into the
// hash. 64KiB keeps memory bounded without excessive syscall overhead.
const chunkSize = 64 * 1024

// Result is the outcome of hashing one filesystem entry.
type Result struct {
	// Digest is the lowercase-hex SHA-256 digest.
	Digest string
	// IsSymlink is true when Digest was computed over a symlink's raw
	// target bytes rather than file contents.
	IsSymlink bool
}

// Hash computes the content digest of path. When followSymlinks is false
// and path is itself a symlink, the digest covers the target path's raw
// bytes (no trailing newline, no normalization) and IsSymlink is true.
// Otherwise the digest covers the file's contents and IsSymlink is false.
func Hash(path string, followSymlinks bool) (Result, error) {
	if !followSymlinks {
		info, err := os.Lstat(path)
		if err != nil {
			return Result{}, &bkerr.IOError{Op: "lstat", Path: path, Err: err}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return Result{}, &bkerr.IOError{Op: "readlink", Path: path, Err: err}
			}
			h := sha256.New()
			_, _ = io.WriteString(h, target)
			return Result{Digest: hex.EncodeToString(h.Sum(nil)), IsSymlink: true}, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, &bkerr.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return Result{}, &bkerr.IOError{Op: "read", Path: path, Err: err}
	}

	return Result{Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// Package index defines the content-addressed index's storage contract
// (component C) and its production backing store.
//
// The index is a key-value store over four relations — snapshots,
// folders, hashes, files — exposed as a Store interface so the planner
// can be tested against an in-memory fake without a real database.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
)

// FileRef is one historic file record sharing a hash, as reported by
// GetFilesByHash: enough to resolve the candidate's path under the
// destination root and to print a progress line naming it.
type FileRef struct {
	FileID           int64
	SnapshotDatetime string
	FolderName       string
	RelativePath     string
}

// Store is the index's storage contract. Any implementation supporting
// atomic insert-returning-id and simple secondary lookups satisfies it;
// SQLiteStore is the production implementation.
type Store interface {
	NewBackup(datetimeName string) (int64, error)
	GetBackup(datetimeName string) (id int64, ok bool, err error)
	DeleteBackup(id int64) error
	NewFolder(name string, snapshotID int64) (int64, error)
	GetFolder(name string, snapshotID int64) (id int64, ok bool, err error)
	GetHashID(digest string, size int64, isSymlink bool) (id int64, ok bool, err error)
	InsertHash(digest string, size int64, isSymlink bool) (int64, error)
	InsertFile(relPath string, folderID, hashID int64) error
	GetFile(relPath string, folderID int64) (fileID, hashID int64, ok bool, err error)
	GetFilesByHash(hashID int64) ([]FileRef, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    datetime_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS folders (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL REFERENCES snapshots(id),
    name        TEXT NOT NULL,
    UNIQUE (snapshot_id, name)
);

CREATE TABLE IF NOT EXISTS hashes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    digest     TEXT NOT NULL,
    size       INTEGER NOT NULL,
    is_symlink INTEGER NOT NULL,
    UNIQUE (digest, size, is_symlink)
);

CREATE TABLE IF NOT EXISTS files (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    folder_id     INTEGER NOT NULL REFERENCES folders(id),
    relative_path TEXT NOT NULL,
    hash_id       INTEGER NOT NULL REFERENCES hashes(id),
    UNIQUE (folder_id, relative_path)
);

CREATE INDEX IF NOT EXISTS idx_files_hash_id ON files(hash_id);
`

// SQLiteStore is the Store implementation backed by an embedded SQLite
// file, opened once per run with foreign keys enforced.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, &bkerr.IndexError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &bkerr.IndexError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return &bkerr.IndexError{Op: "close", Err: err}
	}
	return nil
}

// NewBackup appends a snapshot record and returns its id.
func (s *SQLiteStore) NewBackup(datetimeName string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO snapshots (datetime_name) VALUES (?)`, datetimeName)
	if err != nil {
		return 0, &bkerr.IndexError{Op: "new_backup", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &bkerr.IndexError{Op: "new_backup", Err: err}
	}
	return id, nil
}

// GetBackup looks up a snapshot by its datetime name.
func (s *SQLiteStore) GetBackup(datetimeName string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM snapshots WHERE datetime_name = ?`, datetimeName).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &bkerr.IndexError{Op: "get_backup", Err: err}
	}
	return id, true, nil
}

// DeleteBackup removes a snapshot record and everything nested under
// it (folders, files) — used to discard a prior snapshot an operator
// has chosen to overwrite after a clock collision, since the schema
// carries no cascading deletes.
func (s *SQLiteStore) DeleteBackup(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &bkerr.IndexError{Op: "delete_backup", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM files WHERE folder_id IN (SELECT id FROM folders WHERE snapshot_id = ?)
	`, id); err != nil {
		return &bkerr.IndexError{Op: "delete_backup", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM folders WHERE snapshot_id = ?`, id); err != nil {
		return &bkerr.IndexError{Op: "delete_backup", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return &bkerr.IndexError{Op: "delete_backup", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &bkerr.IndexError{Op: "delete_backup", Err: err}
	}
	return nil
}

// NewFolder appends a folder record under the given snapshot.
func (s *SQLiteStore) NewFolder(name string, snapshotID int64) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO folders (snapshot_id, name) VALUES (?, ?)`, snapshotID, name)
	if err != nil {
		return 0, &bkerr.IndexError{Op: "new_folder", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &bkerr.IndexError{Op: "new_folder", Err: err}
	}
	return id, nil
}

// GetFolder looks up a folder by name within a snapshot.
func (s *SQLiteStore) GetFolder(name string, snapshotID int64) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM folders WHERE snapshot_id = ? AND name = ?`, snapshotID, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &bkerr.IndexError{Op: "get_folder", Err: err}
	}
	return id, true, nil
}

// GetHashID looks up a hash record by the (digest, size, is_symlink)
// equivalence triple.
func (s *SQLiteStore) GetHashID(digest string, size int64, isSymlink bool) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM hashes WHERE digest = ? AND size = ? AND is_symlink = ?`,
		digest, size, boolToInt(isSymlink),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &bkerr.IndexError{Op: "get_hash_id", Err: err}
	}
	return id, true, nil
}

// InsertHash appends a hash record. The caller is expected to have
// already checked GetHashID returned no match.
func (s *SQLiteStore) InsertHash(digest string, size int64, isSymlink bool) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO hashes (digest, size, is_symlink) VALUES (?, ?, ?)`,
		digest, size, boolToInt(isSymlink),
	)
	if err != nil {
		return 0, &bkerr.IndexError{Op: "insert_hash", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &bkerr.IndexError{Op: "insert_hash", Err: err}
	}
	return id, nil
}

// InsertFile appends a file record.
func (s *SQLiteStore) InsertFile(relPath string, folderID, hashID int64) error {
	_, err := s.db.Exec(
		`INSERT INTO files (folder_id, relative_path, hash_id) VALUES (?, ?, ?)`,
		folderID, relPath, hashID,
	)
	if err != nil {
		return &bkerr.IndexError{Op: "insert_file", Err: err}
	}
	return nil
}

// GetFile looks up a file record by its relative path within a folder.
func (s *SQLiteStore) GetFile(relPath string, folderID int64) (int64, int64, bool, error) {
	var fileID, hashID int64
	err := s.db.QueryRow(
		`SELECT id, hash_id FROM files WHERE folder_id = ? AND relative_path = ?`,
		folderID, relPath,
	).Scan(&fileID, &hashID)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, &bkerr.IndexError{Op: "get_file", Err: err}
	}
	return fileID, hashID, true, nil
}

// GetFilesByHash returns every historic file record sharing hashID,
// joined against its folder and snapshot so the planner can resolve
// each candidate's absolute path and print its origin.
func (s *SQLiteStore) GetFilesByHash(hashID int64) ([]FileRef, error) {
	rows, err := s.db.Query(`
		SELECT files.id, snapshots.datetime_name, folders.name, files.relative_path
		FROM files
		JOIN folders ON folders.id = files.folder_id
		JOIN snapshots ON snapshots.id = folders.snapshot_id
		WHERE files.hash_id = ?
		ORDER BY files.id
	`, hashID)
	if err != nil {
		return nil, &bkerr.IndexError{Op: "get_files_by_hash", Err: err}
	}
	defer rows.Close()

	var refs []FileRef
	for rows.Next() {
		var ref FileRef
		if err := rows.Scan(&ref.FileID, &ref.SnapshotDatetime, &ref.FolderName, &ref.RelativePath); err != nil {
			return nil, &bkerr.IndexError{Op: "get_files_by_hash", Err: err}
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, &bkerr.IndexError{Op: "get_files_by_hash", Err: err}
	}
	return refs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

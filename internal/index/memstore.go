package index

// MemStore is an in-memory Store used by the planner's unit tests so
// they don't need a real SQLite file to exercise index-enabled paths.
type MemStore struct {
	snapshots []string
	folders   []memFolder
	hashes    []memHash
	files     []memFile
	// deleted marks snapshot ids removed by DeleteBackup. Entries are
	// tombstoned rather than spliced out, since every other id in this
	// store is a 1-based slice position and removing an element would
	// renumber everything after it.
	deleted map[int64]bool
}

type memFolder struct {
	name       string
	snapshotID int64
}

type memHash struct {
	digest    string
	size      int64
	isSymlink bool
}

type memFile struct {
	relPath  string
	folderID int64
	hashID   int64
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) NewBackup(datetimeName string) (int64, error) {
	m.snapshots = append(m.snapshots, datetimeName)
	return int64(len(m.snapshots)), nil
}

func (m *MemStore) GetBackup(datetimeName string) (int64, bool, error) {
	for i, name := range m.snapshots {
		id := int64(i + 1)
		if m.deleted[id] {
			continue
		}
		if name == datetimeName {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// DeleteBackup tombstones a snapshot id so later lookups treat it and
// everything nested under it as absent.
func (m *MemStore) DeleteBackup(id int64) error {
	if m.deleted == nil {
		m.deleted = make(map[int64]bool)
	}
	m.deleted[id] = true
	return nil
}

func (m *MemStore) NewFolder(name string, snapshotID int64) (int64, error) {
	m.folders = append(m.folders, memFolder{name: name, snapshotID: snapshotID})
	return int64(len(m.folders)), nil
}

func (m *MemStore) GetFolder(name string, snapshotID int64) (int64, bool, error) {
	if m.deleted[snapshotID] {
		return 0, false, nil
	}
	for i, f := range m.folders {
		if f.name == name && f.snapshotID == snapshotID {
			return int64(i + 1), true, nil
		}
	}
	return 0, false, nil
}

func (m *MemStore) GetHashID(digest string, size int64, isSymlink bool) (int64, bool, error) {
	for i, h := range m.hashes {
		if h.digest == digest && h.size == size && h.isSymlink == isSymlink {
			return int64(i + 1), true, nil
		}
	}
	return 0, false, nil
}

func (m *MemStore) InsertHash(digest string, size int64, isSymlink bool) (int64, error) {
	m.hashes = append(m.hashes, memHash{digest: digest, size: size, isSymlink: isSymlink})
	return int64(len(m.hashes)), nil
}

func (m *MemStore) InsertFile(relPath string, folderID, hashID int64) error {
	m.files = append(m.files, memFile{relPath: relPath, folderID: folderID, hashID: hashID})
	return nil
}

func (m *MemStore) GetFile(relPath string, folderID int64) (int64, int64, bool, error) {
	for i, f := range m.files {
		if f.relPath == relPath && f.folderID == folderID {
			return int64(i + 1), f.hashID, true, nil
		}
	}
	return 0, 0, false, nil
}

func (m *MemStore) GetFilesByHash(hashID int64) ([]FileRef, error) {
	var refs []FileRef
	for i, f := range m.files {
		if f.hashID != hashID {
			continue
		}
		folder := m.folders[f.folderID-1]
		if m.deleted[folder.snapshotID] {
			continue
		}
		refs = append(refs, FileRef{
			FileID:           int64(i + 1),
			SnapshotDatetime: m.snapshots[folder.snapshotID-1],
			FolderName:       folder.name,
			RelativePath:     f.relPath,
		})
	}
	return refs, nil
}

package anchor

import (
	"errors"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// FileStore persists every account's anchor Snapshot to a single file on
// disk, encoded with MessagePack. It exists so a monitor process restart
// does not grant every account a fresh (and wrong) day-start anchor mid-day
// (anchor persistence is an optional extension over the baseline
// in-memory-only tracker).
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (without yet reading) a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileRecord struct {
	Snapshots map[string]Snapshot `msgpack:"snapshots"`
}

func (f *FileStore) readAll() (fileRecord, error) {
	rec := fileRecord{Snapshots: make(map[string]Snapshot)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	if len(data) == 0 {
		return rec, nil
	}
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	if rec.Snapshots == nil {
		rec.Snapshots = make(map[string]Snapshot)
	}
	return rec, nil
}

// Load implements Store.
func (f *FileStore) Load(accountID string) (Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.readAll()
	if err != nil {
		return Snapshot{}, false, err
	}
	s, ok := rec.Snapshots[accountID]
	return s, ok, nil
}

// Save implements Store. It rewrites the whole file; anchor writes happen
// at most once per account per broker day, so contention and I/O volume
// are both negligible.
func (f *FileStore) Save(s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.readAll()
	if err != nil {
		return err
	}
	rec.Snapshots[s.AccountID] = s

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

package pool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomasv/fedipost/internal/domain"
)

// Snapshot is the on-disk shape of the pool state. The file is
// rewritten wholesale after every mutating operation and read once at
// startup.
type Snapshot struct {
	Used             []string `json:"used"`
	Unused           []string `json:"unused"`
	RandomDeck       []string `json:"random_deck"`
	VisibilityCursor int      `json:"visibility_cursor"`
}

// Snapshot captures the current pool state for persistence.
// Parameters: none.
// Returns:
//   - Snapshot: copy of the pool sequences and cursor.
func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		Used:             keysToStrings(p.used),
		Unused:           keysToStrings(p.unused),
		RandomDeck:       keysToStrings(p.randomDeck),
		VisibilityCursor: p.visibilityCursor,
	}
}

// Restore replaces the pool state with a previously captured snapshot.
// Parameters:
//   - s: snapshot loaded from the store.
// Returns: none.
func (p *Pool) Restore(s Snapshot) {
	p.used = stringsToKeys(s.Used)
	p.unused = stringsToKeys(s.Unused)
	p.randomDeck = stringsToKeys(s.RandomDeck)
	p.visibilityCursor = s.VisibilityCursor
}

func keysToStrings(keys []domain.ImageKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func stringsToKeys(values []string) []domain.ImageKey {
	out := make([]domain.ImageKey, len(values))
	for i, v := range values {
		out[i] = domain.ImageKey(v)
	}
	return out
}

// Store persists pool snapshots. The driver loop treats Save failures
// as best-effort: logged, never rolled back.
type Store interface {
	// Load reads the stored snapshot. A missing file is not an error;
	// found is false and the caller keeps an empty pool.
	Load() (snap Snapshot, found bool, err error)

	// Save rewrites the stored snapshot wholesale.
	Save(snap Snapshot) error
}

// FileStore is the JSON-file implementation of Store.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
// Parameters:
//   - path: snapshot file location.
// Returns:
//   - *FileStore: store instance.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and parses the snapshot file.
// Parameters: none.
// Returns:
//   - Snapshot: parsed snapshot, zero value when absent.
//   - bool: false if the file does not exist.
//   - error: non-nil if the file exists but cannot be read or parsed.
func (s *FileStore) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("failed to read pool snapshot %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to parse pool snapshot %s: %w", s.path, err)
	}
	return snap, true, nil
}

// Save serializes and rewrites the snapshot file. The parent directory
// is created when missing so a fresh deployment works without manual
// setup.
// Parameters:
//   - snap: snapshot to persist.
// Returns:
//   - error: non-nil if marshaling or writing fails.
func (s *FileStore) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pool snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pool snapshot %s: %w", s.path, err)
	}
	return nil
}

package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/oshokin/alarm-panel/internal/codec"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/domain/rules"
)

// DefaultFilePermissions is used for the state document.
const DefaultFilePermissions = 0o600

// document is the on-disk layout.
type document struct {
	Snapshot *alarm.Snapshot       `json:"snapshot,omitempty"`
	Runtime  []*rules.RuntimeState `json:"rule_runtime,omitempty"`
}

// FileRepository persists the snapshot and rule runtime rows to a JSON file.
// JSON is produced and consumed via protojson so the file matches the gRPC
// representation. Events and action logs are held in bounded memory.
type FileRepository struct {
	*MemoryRepository

	// path is the filesystem location of the JSON state file.
	path string
	// mu serialises file access.
	mu sync.Mutex
	// doc caches the last read or written document.
	doc *document
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string, retention int) *FileRepository {
	return &FileRepository{
		MemoryRepository: NewMemoryRepository(retention),
		path:             filepath.Clean(path),
	}
}

// Load reads the snapshot from disk.
func (r *FileRepository) Load(_ context.Context) (*alarm.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}

	if doc.Snapshot == nil {
		return nil, ErrNotFound
	}

	return doc.Snapshot.Clone(), nil
}

// Save writes the snapshot, keeping the runtime rows.
func (r *FileRepository) Save(_ context.Context, snapshot *alarm.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}

	next := &document{Snapshot: snapshot.Clone(), Runtime: doc.Runtime}

	return r.write(next)
}

// ListRuntime returns every stored runtime row.
func (r *FileRepository) ListRuntime(_ context.Context) (map[int64]*rules.RuntimeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*rules.RuntimeState, len(doc.Runtime))
	for _, s := range doc.Runtime {
		out[s.RuleID] = s.Clone()
	}

	return out, nil
}

// SaveRuntime upserts one runtime row.
func (r *FileRepository) SaveRuntime(_ context.Context, s *rules.RuntimeState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}

	runtime := slices.Clone(doc.Runtime)

	idx := slices.IndexFunc(runtime, func(existing *rules.RuntimeState) bool {
		return existing.RuleID == s.RuleID
	})
	if idx >= 0 {
		runtime[idx] = s.Clone()
	} else {
		runtime = append(runtime, s.Clone())
	}

	return r.write(&document{Snapshot: doc.Snapshot, Runtime: runtime})
}

// read returns the cached document, loading it on first use.
func (r *FileRepository) read() (*document, error) {
	if r.doc != nil {
		return r.doc, nil
	}

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.doc = new(document)

			return r.doc, nil
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	doc := new(document)
	if err = codec.Unmarshal(contents, doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	r.doc = doc

	return doc, nil
}

// write replaces the file atomically through a temporary sibling.
func (r *FileRepository) write(doc *document) error {
	data, err := codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	r.doc = doc

	return nil
}

package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mukut03/agents/framework"
)

const snapshotSuffix = ".memory.json"

// FileSnapshotStore keeps one JSON file per conversation.
type FileSnapshotStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileSnapshotStore builds a store in the provided root directory.
func NewFileSnapshotStore(root string) (*FileSnapshotStore, error) {
	if root == "" {
		return nil, errors.New("snapshot store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileSnapshotStore{root: root}, nil
}

func (s *FileSnapshotStore) pathFor(id string) string {
	return filepath.Join(s.root, id+snapshotSuffix)
}

// Save replaces the stored snapshot. The file is written to a temporary name
// and renamed into place.
func (s *FileSnapshotStore) Save(ctx context.Context, conversationID string, snap *framework.Snapshot) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	if snap == nil {
		return errors.New("snapshot required")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.pathFor(conversationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load returns the stored snapshot, or nil when none exists.
func (s *FileSnapshotStore) Load(ctx context.Context, conversationID string) (*framework.Snapshot, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := checkID(conversationID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.pathFor(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snap framework.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &framework.MemoryError{Message: "corrupt snapshot " + conversationID, Cause: err}
	}
	return &snap, nil
}

// Delete removes a snapshot. Deleting a missing conversation is not an error.
func (s *FileSnapshotStore) Delete(ctx context.Context, conversationID string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := checkID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(conversationID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns stored conversation ids in lexical order.
func (s *FileSnapshotStore) List(ctx context.Context) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileSnapshotStore) Close() error { return nil }

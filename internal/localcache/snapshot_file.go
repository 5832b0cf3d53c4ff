package localcache

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileSnapshotStore persists settings snapshots as JSON files under a device
// cache directory, one file per namespaced table key. Every failure mode
// (unwritable directory, quota, corrupt JSON) degrades to "no snapshot".
type FileSnapshotStore struct {
	directory string
	prefix    string
	logger    *zap.Logger
}

// NewFileSnapshotStore builds a snapshot store rooted at the given directory.
func NewFileSnapshotStore(directory, prefix string, logger *zap.Logger) *FileSnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSnapshotStore{directory: directory, prefix: prefix, logger: logger}
}

// ReadSnapshot loads the cached snapshot for a table, or nil when the file is
// missing, unreadable, or holds malformed JSON.
func (s *FileSnapshotStore) ReadSnapshot(tableID string) *Snapshot {
	if s.directory == "" {
		return nil
	}
	payload, err := os.ReadFile(s.snapshotPath(tableID))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("snapshot read failed", zap.String("table_id", tableID), zap.Error(err))
		}
		return nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		s.logger.Debug("snapshot parse failed", zap.String("table_id", tableID), zap.Error(err))
		return nil
	}
	return &snapshot
}

// WriteSnapshot stores or clears the snapshot for a table. Errors are
// swallowed after a debug log; snapshot writes are fire-and-forget.
func (s *FileSnapshotStore) WriteSnapshot(tableID string, snapshot *Snapshot) {
	if s.directory == "" {
		return
	}
	path := s.snapshotPath(tableID)
	if snapshot == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("snapshot remove failed", zap.String("table_id", tableID), zap.Error(err))
		}
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Debug("snapshot encode failed", zap.String("table_id", tableID), zap.Error(err))
		return
	}
	if err := os.MkdirAll(s.directory, 0o700); err != nil {
		s.logger.Debug("snapshot directory create failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		s.logger.Debug("snapshot write failed", zap.String("table_id", tableID), zap.Error(err))
	}
}

func (s *FileSnapshotStore) snapshotPath(tableID string) string {
	return filepath.Join(s.directory, url.PathEscape(Key(s.prefix, tableID))+".json")
}

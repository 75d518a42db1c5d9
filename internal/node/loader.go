package node

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadDir syncs the store with the regular files directly under dir, keyed by
// file name. Files removed since the last load are deleted from the index.
func LoadDir(s *Store, dir string) (SyncStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return SyncStats{}, fmt.Errorf("read documents dir: %w", err)
	}

	docs := make(map[string]string)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return SyncStats{}, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		docs[entry.Name()] = string(data)
	}

	stats, err := s.Sync(docs)
	if err != nil {
		return SyncStats{}, fmt.Errorf("index documents: %w", err)
	}
	return stats, nil
}

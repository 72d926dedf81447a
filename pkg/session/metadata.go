package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MetadataRecord is the small per-session record persisted so an external
// cleanup process can recover session age and ownership without the
// orchestrator being alive.
type MetadataRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Identity  string    `json:"identity"`
	PID       int       `json:"pid"`
}

// MetadataStore persists one JSON file per session under a directory.
type MetadataStore struct {
	dir string
}

// NewMetadataStore creates the store, ensuring the directory exists.
func NewMetadataStore(dir string) (*MetadataStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &MetadataStore{dir: dir}, nil
}

// Write persists a record atomically (temp file + rename) so a concurrent
// sweep never observes a half-written file.
func (s *MetadataStore) Write(record MetadataRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".meta-*")
	if err != nil {
		return fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close session metadata: %w", err)
	}
	if err := os.Rename(tmpName, s.path(record.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to place session metadata: %w", err)
	}
	return nil
}

// Read loads one record by session id.
func (s *MetadataStore) Read(id string) (MetadataRecord, error) {
	var record MetadataRecord
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("corrupt session metadata for %s: %w", id, err)
	}
	return record, nil
}

// List returns all readable records plus the ids of corrupt ones.
// Corruption is reported, not fatal; the sweeper treats it as staleness.
func (s *MetadataStore) List() ([]MetadataRecord, []string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	var records []MetadataRecord
	var corrupt []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		record, err := s.Read(id)
		if err != nil || record.ID == "" || record.CreatedAt.IsZero() {
			corrupt = append(corrupt, id)
			continue
		}
		records = append(records, record)
	}
	return records, corrupt, nil
}

// Remove deletes a record. Removing an absent id is a no-op.
func (s *MetadataStore) Remove(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session metadata: %w", err)
	}
	return nil
}

func (s *MetadataStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile stores records as a JSON array, replacing path atomically
func WriteFile(path string, records []RawTransaction) error {
	if records == nil {
		records = []RawTransaction{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode timeline: %w", err)
	}
	return WriteAtomic(path, data)
}

// ReadFile loads a JSON array of timeline records
func ReadFile(path string) ([]RawTransaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []RawTransaction
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode timeline %s: %w", path, err)
	}
	return records, nil
}

// WriteAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

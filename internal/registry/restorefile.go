package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RestoreEntry is one persisted (partition_id, session_id) pair (spec §4.6
// "Restore file").
type RestoreEntry struct {
	PartitionID string `yaml:"partitionId"`
	SessionID   string `yaml:"sessionId"`
}

type restoreFileContents struct {
	Partitions []RestoreEntry `yaml:"partitions"`
}

// readRestoreFile loads the persisted partition list. A missing file is not
// an error: it means no partitions were running the last time the process
// exited cleanly (or ever).
func readRestoreFile(path string) ([]RestoreEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read restore file %s: %w", path, err)
	}

	var contents restoreFileContents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("parse restore file %s: %w", path, err)
	}
	return contents.Partitions, nil
}

// writeRestoreFile atomically replaces the restore file's contents: written
// to a temp file in the same directory, then renamed over the final path,
// so readers never see a partially written file (spec §4.6 "format must be
// atomic-replace-safe"). Grounded on
// _examples/bureau-foundation-bureau/lib/artifact/metadata.go's
// temp-file-then-rename Write.
func writeRestoreFile(path string, entries []RestoreEntry) error {
	data, err := yaml.Marshal(restoreFileContents{Partitions: entries})
	if err != nil {
		return fmt.Errorf("marshal restore file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create restore file directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "restore-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp restore file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp restore file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp restore file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename restore file to %s: %w", path, err)
	}

	success = true
	return nil
}

// Package storage archives finished session transcripts.
package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Storage uploads one object. Keys use '/' separators.
type Storage interface {
	Upload(objectKey string, contentType string, body []byte) error
}

// Nop discards uploads. It is used when no archive is configured.
type Nop struct{}

func (Nop) Upload(objectKey, contentType string, body []byte) error {
	log.Printf("archive disabled, skipping %s (%d bytes)", objectKey, len(body))
	return nil
}

// LocalStorage writes objects under a directory, mirroring the key path.
type LocalStorage struct {
	Dir string
}

// NewLocalStorage returns a LocalStorage rooted at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{Dir: dir}
}

func (s *LocalStorage) Upload(objectKey, contentType string, body []byte) error {
	if s.Dir == "" {
		return fmt.Errorf("missing archive directory: ARCHIVE_DIR required")
	}
	clean := filepath.Clean("/" + filepath.FromSlash(objectKey))
	if clean == string(filepath.Separator) || strings.Contains(objectKey, "..") {
		return fmt.Errorf("invalid object key %q", objectKey)
	}
	path := filepath.Join(s.Dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", objectKey, err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// FileArtifactStore keeps artifacts under basePath/<kind>/<version>.json
// with a CURRENT file naming the latest version
type FileArtifactStore struct {
	basePath string
	retain   int
	mu       sync.Mutex
}

// NewFileArtifactStore creates a new file-based artifact store
func NewFileArtifactStore(basePath string, retain int) (*FileArtifactStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("%w: artifact directory is required", models.ErrValidation)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if retain < 1 {
		retain = DefaultRetain
	}
	return &FileArtifactStore{basePath: basePath, retain: retain}, nil
}

// Save writes blob as a new version and swaps the pointer to it
func (s *FileArtifactStore) Save(ctx context.Context, kind models.ModelKind, blob []byte) (string, error) {
	if err := validKind(kind); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.basePath, string(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}

	version := newVersion()
	if err := writeAtomic(dir, version+".json", blob); err != nil {
		return "", fmt.Errorf("failed to write %s artifact: %w", kind, err)
	}
	if err := writeAtomic(dir, CurrentPointer, []byte(version)); err != nil {
		return "", fmt.Errorf("failed to update %s pointer: %w", kind, err)
	}

	versions, err := s.listVersions(dir)
	if err != nil {
		return version, nil
	}
	for _, v := range staleVersions(versions, version, s.retain) {
		_ = os.Remove(filepath.Join(dir, v+".json"))
	}
	return version, nil
}

// Load reads the current version of kind
func (s *FileArtifactStore) Load(ctx context.Context, kind models.ModelKind) ([]byte, string, error) {
	if err := validKind(kind); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	dir := filepath.Join(s.basePath, string(kind))
	ptr, err := os.ReadFile(filepath.Join(dir, CurrentPointer))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: no %s artifact", models.ErrNotFound, kind)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s pointer: %w", kind, err)
	}

	version := strings.TrimSpace(string(ptr))
	blob, err := os.ReadFile(filepath.Join(dir, version+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s version %s is missing", models.ErrNotFound, kind, version)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s artifact: %w", kind, err)
	}
	return blob, version, nil
}

// Versions lists retained versions, oldest first
func (s *FileArtifactStore) Versions(ctx context.Context, kind models.ModelKind) ([]string, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	versions, err := s.listVersions(filepath.Join(s.basePath, string(kind)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return versions, err
}

func (s *FileArtifactStore) listVersions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(versions)
	return versions, nil
}

// writeAtomic writes data to a temp file in dir, syncs it and renames it over name
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fmueller/voxkey/internal/download"
)

// Storage answers where a model lives on disk.
type Storage interface {
	IsDownloaded(id string) bool
	ModelPath(id string) (string, bool)
}

// Fetcher is the download side of DirStorage.
type Fetcher interface {
	Fetch(ctx context.Context, asset download.Asset) error
}

// DirStorage keeps catalog models as ggml files in one directory. Ids that
// look like paths are used as-is.
type DirStorage struct {
	dir     string
	fetcher Fetcher
}

func NewDirStorage(dir string, fetcher Fetcher) (*DirStorage, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("model directory must not be empty")
	}
	return &DirStorage{dir: dir, fetcher: fetcher}, nil
}

func (s *DirStorage) Dir() string {
	return s.dir
}

func (s *DirStorage) IsDownloaded(id string) bool {
	_, ok := s.ModelPath(id)
	return ok
}

// ModelPath returns the file for id and whether it exists as a regular file.
func (s *DirStorage) ModelPath(id string) (string, bool) {
	path, err := s.pathFor(id)
	if err != nil {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

// Download fetches a catalog model unless it is already present.
func (s *DirStorage) Download(ctx context.Context, id string) (string, error) {
	if IsCustomPath(id) {
		return "", fmt.Errorf("custom model path %q cannot be downloaded", id)
	}

	model, err := LookupStrict(id)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, model.FileName)
	if _, ok := s.ModelPath(id); ok {
		return path, nil
	}

	if s.fetcher == nil {
		return "", errors.New("no downloader configured")
	}

	err = s.fetcher.Fetch(ctx, download.Asset{
		URL:         model.URL,
		Destination: path,
		SHA256:      model.SHA256,
		ChecksumURL: model.SHA256URL,
	})
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", id, err)
	}
	return path, nil
}

// Verify checks a downloaded catalog model against its pinned checksum.
func (s *DirStorage) Verify(id string) error {
	path, ok := s.ModelPath(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotDownloaded, id)
	}
	if IsCustomPath(id) {
		return nil
	}

	model, err := LookupStrict(id)
	if err != nil {
		return err
	}
	return download.VerifyFileChecksum(path, model.SHA256)
}

func (s *DirStorage) pathFor(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		id = DefaultModel
	}

	if IsCustomPath(id) {
		return filepath.Clean(id), nil
	}

	model, err := LookupStrict(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, model.FileName), nil
}

// Package uploads manages request-scoped image uploads.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"votechain.org/internal/ids"
)

var ErrTooLarge = errors.New("uploads: file too large")

// Store writes uploads to a scratch directory and moves accepted ones into the proof directory.
type Store struct {
	tmpDir   string
	proofDir string
	maxBytes int64
}

func NewStore(tmpDir, proofDir string, maxBytes int64) (*Store, error) {
	for _, dir := range []string{tmpDir, proofDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("uploads: create %s: %w", dir, err)
		}
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &Store{tmpDir: tmpDir, proofDir: proofDir, maxBytes: maxBytes}, nil
}

// File is one upload. Unless Keep is called, Discard removes it from wherever it lives.
type File struct {
	mu       sync.Mutex
	path     string
	proofDir string
	data     []byte
	kept     bool
	gone     bool
}

// Save copies r into a new scratch file named after originalName's extension.
func (s *Store) Save(r io.Reader, originalName string) (*File, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("uploads: read: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	path := filepath.Join(s.tmpDir, ids.FileName(originalName))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return nil, fmt.Errorf("uploads: write: %w", err)
	}
	return &File{path: path, proofDir: s.proofDir, data: data}, nil
}

func (f *File) Bytes() []byte { return f.data }

func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Commit moves the file into the proof directory and returns its new path.
func (f *File) Commit() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return "", errors.New("uploads: file already discarded")
	}
	dst := filepath.Join(f.proofDir, filepath.Base(f.path))
	if dst == f.path {
		return dst, nil
	}
	if err := os.Rename(f.path, dst); err != nil {
		return "", fmt.Errorf("uploads: commit: %w", err)
	}
	f.path = dst
	return dst, nil
}

// Keep marks the file as the durable record; later Discard calls do nothing.
func (f *File) Keep() {
	f.mu.Lock()
	f.kept = true
	f.mu.Unlock()
}

// Replace removes previous, a proof this file supersedes. Paths outside the proof directory
// and the file's own path are left alone.
func (f *File) Replace(previous string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if previous == "" {
		return nil
	}
	previous = filepath.Clean(previous)
	if previous == filepath.Clean(f.path) || filepath.Dir(previous) != filepath.Clean(f.proofDir) {
		return nil
	}
	if err := os.Remove(previous); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("uploads: remove superseded proof: %w", err)
	}
	return nil
}

// Discard deletes the file unless it was kept. It is safe to call more than once.
func (f *File) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kept || f.gone {
		return nil
	}
	f.gone = true
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

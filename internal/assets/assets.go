// Package assets resolves scenario asset names to raw 16 kHz mono 16-bit
// PCM, either from files on disk or synthesized on demand.
package assets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source resolves an asset name to PCM bytes.
type Source interface {
	ReadPCM(ctx context.Context, name string) ([]byte, error)
}

// DirStore serves pre-rendered PCM assets from a directory. Asset names map
// to <dir>/<name>.pcm; results are cached for the life of the store.
type DirStore struct {
	dir string

	mu    sync.Mutex
	cache map[string][]byte
}

// NewDirStore returns a store rooted at dir.
func NewDirStore(dir string) (*DirStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("asset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset path %q is not a directory", dir)
	}
	return &DirStore{dir: dir, cache: make(map[string][]byte)}, nil
}

// ReadPCM implements Source.
func (s *DirStore) ReadPCM(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("asset name is required")
	}
	if strings.Contains(name, "..") || strings.ContainsRune(name, filepath.Separator) {
		return nil, fmt.Errorf("asset name %q must be a bare file name", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached, ok := s.cache[name]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	pcm, err := os.ReadFile(filepath.Join(s.dir, name+".pcm"))
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", name, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("asset %q is empty", name)
	}

	s.mu.Lock()
	s.cache[name] = pcm
	s.mu.Unlock()
	return pcm, nil
}

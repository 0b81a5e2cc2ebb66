// Package local implements a storage.Adapter backed by a single
// directory on the local filesystem. Each WOPI file is one regular file
// directly under the root; version is derived from the file's mtime and
// size so it changes on every write without needing a side index.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

// Store is a filesystem-backed storage.Adapter. The zero value is not
// usable; construct with New.
type Store struct {
	mu       sync.RWMutex
	root     string
	name     string
	readOnly map[string]bool
}

// Config configures a Store.
type Config struct {
	// Root is the directory holding WOPI files, one per name. Created if
	// it does not already exist.
	Root string

	// Name is the folder name surfaced by CheckFolderInfo and in
	// CheckFileInfo's BreadcrumbFolderName.
	Name string

	// DirMode is the permission mode used when Root is created.
	DirMode fs.FileMode
}

// New creates a Store rooted at cfg.Root, creating the directory if
// necessary.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("local storage: root path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
		return nil, err
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("local storage: root is not a directory")
	}

	name := cfg.Name
	if name == "" {
		name = filepath.Base(cfg.Root)
	}

	return &Store{root: cfg.Root, name: name, readOnly: make(map[string]bool)}, nil
}

// path resolves id to an absolute path under root, rejecting any
// traversal outside it.
func (s *Store) path(id string) (string, error) {
	clean := filepath.Clean(id)
	if clean == "." || clean == ".." || filepath.IsAbs(clean) {
		return "", storage.ErrNotFound
	}
	full := filepath.Join(s.root, clean)
	if full != s.root && !isWithin(s.root, full) {
		return "", storage.ErrNotFound
	}
	return full, nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Store) Size(_ context.Context, id string) (int64, error) {
	p, err := s.path(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *Store) ReadOnly(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly[id]
}

// SetReadOnly marks id as read-only (or not), independent of lock state.
func (s *Store) SetReadOnly(id string, readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly[id] = readOnly
}

func (s *Store) Version(_ context.Context, id string) (string, error) {
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return versionOf(info), nil
}

// versionOf derives an opaque version string from mtime and size, stable
// across processes without a side index and changing on every write.
func versionOf(info os.FileInfo) string {
	sum := sha256.Sum256([]byte(info.ModTime().UTC().String() + ":" + strconv.FormatInt(info.Size(), 10)))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) Open(_ context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// writeAtomic writes r to path via a temp-file-then-rename so concurrent
// readers never observe a partial write.
func writeAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wopi-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) Upload(_ context.Context, id string, r io.Reader) (string, error) {
	p, err := s.path(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	if err := writeAtomic(p, r); err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	return versionOf(info), nil
}

func (s *Store) CreateOrOverwrite(_ context.Context, name string, r io.Reader) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return writeAtomic(p, r)
}

func (s *Store) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return err
	}

	s.mu.Lock()
	delete(s.readOnly, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Rename(_ context.Context, id, newName string) (string, bool, error) {
	oldPath, err := s.path(id)
	if err != nil {
		return "", false, err
	}
	newPath, err := s.path(newName)
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(oldPath); err != nil {
		if os.IsNotExist(err) {
			return "", false, storage.ErrNotFound
		}
		return "", false, err
	}
	if newPath != oldPath {
		if _, err := os.Stat(newPath); err == nil {
			return "", false, nil
		}
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	if ro, ok := s.readOnly[id]; ok {
		delete(s.readOnly, id)
		s.readOnly[newName] = ro
	}
	s.mu.Unlock()

	return newName, true, nil
}

func (s *Store) Exists(_ context.Context, id string) bool {
	p, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (s *Store) RootDirectory(_ context.Context) (storage.RootDirectory, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return storage.RootDirectory{}, err
	}

	children := make([]storage.ChildInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		children = append(children, storage.ChildInfo{Name: e.Name(), Version: versionOf(info)})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	return storage.RootDirectory{Name: s.name, Children: children}, nil
}

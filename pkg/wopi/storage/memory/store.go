// Package memory implements a storage.Adapter entirely in process
// memory, where nothing survives a restart. It backs unit tests; the
// wopihost serve command does not offer it as a storage backend.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
)

type entry struct {
	bytes    []byte
	version  int64
	readOnly bool
}

// Store is an in-memory storage.Adapter. The zero value is not usable;
// construct with New.
type Store struct {
	mu       sync.RWMutex
	root     string
	files    map[string]*entry
	readOnly bool
}

// New returns an empty store whose root folder is named root. If
// readOnly is true, every file in the store reports ReadOnly as true
// (used to exercise the read-only host contract in tests without
// per-file setup); Upload and CreateOrOverwrite still accept writes.
func New(root string, readOnly bool) *Store {
	return &Store{
		root:     root,
		files:    make(map[string]*entry),
		readOnly: readOnly,
	}
}

// Seed inserts a file directly, bypassing the normal write path. Useful
// for test setup.
func (s *Store) Seed(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = &entry{bytes: append([]byte(nil), content...), version: 1, readOnly: s.readOnly}
}

func (s *Store) Size(_ context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return int64(len(e.bytes)), nil
}

func (s *Store) ReadOnly(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[id]
	if !ok {
		return false
	}
	return e.readOnly
}

func (s *Store) Version(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return strconv.FormatInt(e.version, 10), nil
}

func (s *Store) Open(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(e.bytes)), nil
}

func (s *Store) Upload(_ context.Context, id string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	e.bytes = data
	e.version++
	return strconv.FormatInt(e.version, 10), nil
}

func (s *Store) CreateOrOverwrite(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.files[name]; ok {
		e.bytes = data
		e.version++
		return nil
	}
	s.files[name] = &entry{bytes: data, version: 1, readOnly: s.readOnly}
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.files, id)
	return nil
}

func (s *Store) Rename(_ context.Context, id, newName string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.files[id]
	if !ok {
		return "", false, storage.ErrNotFound
	}
	if _, collision := s.files[newName]; collision && newName != id {
		return "", false, nil
	}
	delete(s.files, id)
	s.files[newName] = e
	return newName, true, nil
}

func (s *Store) Exists(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[id]
	return ok
}

func (s *Store) RootDirectory(_ context.Context) (storage.RootDirectory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	children := make([]storage.ChildInfo, 0, len(s.files))
	for name, e := range s.files {
		children = append(children, storage.ChildInfo{Name: name, Version: strconv.FormatInt(e.version, 10)})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })

	return storage.RootDirectory{Name: s.root, Children: children}, nil
}

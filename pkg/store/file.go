package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// FileStore keeps all namespaces in one JSON document. A commit rewrites the
// document through a temporary file and a rename.
type FileStore struct {
	path string

	mu   sync.Mutex
	data map[string]map[string]int64
}

// NewFileStore loads path. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]map[string]int64)}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("Store %v does not exist yet, starting empty", path)
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Open(namespace string) (Handle, error) {
	return newHandle(s, namespace), nil
}

func (s *FileStore) get(ns, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[ns][key]
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

func (s *FileStore) commit(ns string, staged map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]int64, len(s.data[ns])+len(staged))
	for k, v := range s.data[ns] {
		m[k] = v
	}
	for k, v := range staged {
		m[k] = v
	}

	next := make(map[string]map[string]int64, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	next[ns] = m

	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	s.data = next
	log.Debugf("Store %v: committed %v", s.path, ns)
	return nil
}

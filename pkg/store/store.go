// Package store keeps small typed values across restarts. Values live in
// namespaces and are read and written through a Handle; writes are staged
// until Commit.
package store

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotFound     = errors.New("key not found")
	ErrClosed       = errors.New("handle closed")
	ErrTypeMismatch = errors.New("stored value does not fit the requested type")
)

// Store opens namespaces
type Store interface {
	Open(namespace string) (Handle, error)
}

// Handle reads and writes keys of one namespace. A Handle is used by a
// single goroutine.
type Handle interface {
	GetInt32(key string) (int32, error)
	SetInt32(key string, v int32) error
	GetUint8(key string) (uint8, error)
	SetUint8(key string, v uint8) error
	Commit() error
	Close() error
}

// backend is the persistence behind the shared handle implementation
type backend interface {
	get(ns, key string) (int64, error)
	commit(ns string, staged map[string]int64) error
}

type handle struct {
	b      backend
	ns     string
	staged map[string]int64
	closed bool
}

func newHandle(b backend, ns string) *handle {
	return &handle{b: b, ns: ns, staged: make(map[string]int64)}
}

func (h *handle) get(key string) (int64, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if v, ok := h.staged[key]; ok {
		return v, nil
	}
	return h.b.get(h.ns, key)
}

func (h *handle) set(key string, v int64) error {
	if h.closed {
		return ErrClosed
	}
	h.staged[key] = v
	return nil
}

func (h *handle) GetInt32(key string) (int32, error) {
	v, err := h.get(key)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s/%s = %d", ErrTypeMismatch, h.ns, key, v)
	}
	return int32(v), nil
}

func (h *handle) SetInt32(key string, v int32) error {
	return h.set(key, int64(v))
}

func (h *handle) GetUint8(key string) (uint8, error) {
	v, err := h.get(key)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %s/%s = %d", ErrTypeMismatch, h.ns, key, v)
	}
	return uint8(v), nil
}

func (h *handle) SetUint8(key string, v uint8) error {
	return h.set(key, int64(v))
}

// Commit persists all staged values of the namespace at once
func (h *handle) Commit() error {
	if h.closed {
		return ErrClosed
	}
	if len(h.staged) == 0 {
		return nil
	}
	if err := h.b.commit(h.ns, h.staged); err != nil {
		return fmt.Errorf("commit %s: %w", h.ns, err)
	}
	h.staged = make(map[string]int64)
	return nil
}

// Close drops uncommitted values
func (h *handle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.staged = nil
	return nil
}

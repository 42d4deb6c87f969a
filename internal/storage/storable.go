package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Dict.Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// KeyJoin joins a sequence of path components into a single storage key
// prefix. It must be injective: two distinct sequences never produce the
// same string. Each component is length-prefixed before concatenation so a
// component containing the separator cannot cause a collision.
func KeyJoin(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString("||")
		}
		fmt.Fprintf(&b, "[%d:%s]", len(p), p)
	}
	return b.String()
}

// Dir is a logical namespace: it contributes to the key prefix of any Dict
// built under it, but holds no value of its own (see spec's open question
// on StorableValue/StorableDir — this is a pure namespace, nothing more).
type Dir struct {
	baseKey []string
}

// NewRootDir builds the engine-wide root namespace, keyed by this party's
// own encoded address as spec.md §6 requires for the persistent key layout.
func NewRootDir(myEncodedAddress string) *Dir {
	return &Dir{baseKey: []string{"", myEncodedAddress}}
}

// Sub returns a child namespace nested under d.
func (d *Dir) Sub(name string) *Dir {
	next := make([]string, len(d.baseKey)+1)
	copy(next, d.baseKey)
	next[len(d.baseKey)] = name
	return &Dir{baseKey: next}
}

// BaseKey returns the path components that make up this namespace's prefix.
func (d *Dir) BaseKey() []string {
	return append([]string(nil), d.baseKey...)
}

// Dict is a persistent map from string keys to values of type T, backed by
// one SQLite-row-per-entry under a namespace prefix built from (parent, name).
type Dict[T any] struct {
	store  *Storage
	prefix string
}

// NewDict constructs a persistent dictionary named `name` under `parent`
// (or the store root, if parent is nil).
func NewDict[T any](store *Storage, name string, parent *Dir) *Dict[T] {
	var base []string
	if parent == nil {
		base = []string{"", name}
	} else {
		base = append(parent.BaseKey(), name)
	}
	return &Dict[T]{store: store, prefix: KeyJoin(base)}
}

// Get returns the value stored at key, or ErrNotFound if absent.
func (d *Dict[T]) Get(key string) (T, error) {
	val, ok, err := d.TryGet(key)
	if err != nil {
		return val, err
	}
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return val, nil
}

// TryGet returns the value stored at key and whether it was present.
func (d *Dict[T]) TryGet(key string) (T, bool, error) {
	var zero T
	raw, ok, err := d.store.tryGet(d.prefix, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		return zero, false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return val, true, nil
}

// Put writes (or overwrites) the value at key.
func (d *Dict[T]) Put(key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return d.store.put(d.prefix, key, raw)
}

// Delete removes key, if present.
func (d *Dict[T]) Delete(key string) error {
	return d.store.delete(d.prefix, key)
}

// Contains reports whether key is present.
func (d *Dict[T]) Contains(key string) (bool, error) {
	return d.store.contains(d.prefix, key)
}

// Len returns the number of entries.
func (d *Dict[T]) Len() (int, error) {
	return d.store.count(d.prefix)
}

// IsEmpty reports whether the dictionary has no entries.
func (d *Dict[T]) IsEmpty() (bool, error) {
	n, err := d.Len()
	return n == 0, err
}

// Keys returns all keys, ordered by original insertion (first write wins the
// position; an overwrite does not move a key). Crash recovery relies on this
// order to replay committed commands in their original commit order.
func (d *Dict[T]) Keys() ([]string, error) {
	return d.store.keysInInsertionOrder(d.prefix)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/math/set"
)

// records caches one record family for the duration of a call. Every record
// handed out is written back on write, since callers mutate them in place.
type records[K comparable, V any] struct {
	db      database.Database
	key     func(K) []byte
	cache   map[K]V
	deleted set.Set[K]
}

func newRecords[K comparable, V any](db database.Database, key func(K) []byte) *records[K, V] {
	return &records[K, V]{
		db:      db,
		key:     key,
		cache:   make(map[K]V),
		deleted: set.NewSet[K](0),
	}
}

// get returns the record for k, reporting false if it does not exist.
func (r *records[K, V]) get(k K) (V, bool, error) {
	var zero V
	if v, ok := r.cache[k]; ok {
		return v, true, nil
	}
	if r.deleted.Contains(k) {
		return zero, false, nil
	}
	b, err := r.db.Get(r.key(k))
	if errors.Is(err, database.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	r.cache[k] = v
	return v, true, nil
}

func (r *records[K, V]) put(k K, v V) {
	r.deleted.Remove(k)
	r.cache[k] = v
}

func (r *records[K, V]) remove(k K) {
	delete(r.cache, k)
	r.deleted.Add(k)
}

func (r *records[K, V]) write() error {
	for k := range r.deleted {
		if err := r.db.Delete(r.key(k)); err != nil {
			return err
		}
	}
	for k, v := range r.cache {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := r.db.Put(r.key(k), b); err != nil {
			return err
		}
	}
	return nil
}

// all returns every record of the family, cached or persisted.
func (r *records[K, V]) all(parse func([]byte) (K, error)) ([]V, error) {
	it := r.db.NewIterator()
	defer it.Release()

	for it.Next() {
		k, err := parse(it.Key())
		if err != nil {
			return nil, err
		}
		if _, err := r.getKeyed(k); err != nil {
			return nil, err
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	values := make([]V, 0, len(r.cache))
	for _, v := range r.cache {
		values = append(values, v)
	}
	return values, nil
}

func (r *records[K, V]) getKeyed(k K) (V, error) {
	v, _, err := r.get(k)
	return v, err
}

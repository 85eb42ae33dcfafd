package memory

import (
	"context"
	"sync"
)

// Documents is an in-process keyed byte store. It backs the local board
// document when nothing outlives the process.
type Documents struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewDocuments() *Documents {
	return &Documents{
		docs: make(map[string][]byte),
	}
}

// Blob returns a view of the document stored under key.
func (d *Documents) Blob(key string) *Blob {
	return &Blob{docs: d, key: key}
}

func (d *Documents) Get(key string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.docs[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (d *Documents) Put(key string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[key] = append([]byte(nil), data...)
}

// update replaces the document under key with fn's result while holding
// the write lock. Nothing is stored when fn fails.
func (d *Documents) update(key string, fn func([]byte) ([]byte, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var current []byte
	if data, ok := d.docs[key]; ok {
		current = append([]byte(nil), data...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	d.docs[key] = append([]byte(nil), next...)
	return nil
}

// Blob is a single document inside Documents.
type Blob struct {
	docs *Documents
	key  string
}

func (b *Blob) Load(_ context.Context) ([]byte, error) {
	data, _ := b.docs.Get(b.key)
	return data, nil
}

func (b *Blob) Update(_ context.Context, fn func([]byte) ([]byte, error)) error {
	return b.docs.update(b.key, fn)
}

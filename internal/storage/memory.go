package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vitalik-svt/tomata/internal/errs"
)

// Memory is an in-process ObjectStore for local development and tests.
type Memory struct {
	bucket string

	mu      sync.RWMutex
	objects map[string]Object
	// FailPut, when set, is returned by Put for matching keys.
	FailPut func(key string) error
}

func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: map[string]Object{}}
}

func (m *Memory) Bucket() string {
	return m.bucket
}

func (m *Memory) EnsureBucket(context.Context) error {
	return nil
}

func (m *Memory) Put(_ context.Context, key, contentType string, data []byte) error {
	if m.FailPut != nil {
		if err := m.FailPut(key); err != nil {
			return fmt.Errorf("%w: put %s: %v", errs.ErrStorageTransfer, key, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Key: key, ContentType: contentType, Data: append([]byte(nil), data...)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, fmt.Errorf("%w: get %s", errs.ErrNotFound, key)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, _ := m.List(ctx, prefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return len(keys), nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

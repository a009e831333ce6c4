// Package archive keeps a copy of raw uploads in object storage.
package archive

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

const ContentTypeGeoJSON = "application/geo+json"

// Store writes raw upload payloads.
type Store interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) error
}

// ObjectKey is the object name of an upload: uploads/YYYY/MM/DD/<jobID>.geojson.
func ObjectKey(jobID string, at time.Time) string {
	return fmt.Sprintf("uploads/%s/%s.geojson", at.UTC().Format("2006/01/02"), jobID)
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, key string, payload []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), payload...)
	return nil
}

func (m *Memory) Objects() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.objects)
}

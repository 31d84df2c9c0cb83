package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type memoryObject struct {
	data     []byte
	modified time.Time
}

// Memory keeps objects in process memory. Safe for concurrent use
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemory creates empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
	}
}

// Driver returns DriverMemory
func (s *Memory) Driver() Driver {
	return DriverMemory
}

// Put stores copy of payload
func (s *Memory) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	if strings.TrimSpace(key) == "" {
		return Info{}, errors.New("empty key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, errors.Wrapf(err, "can't read payload of %s", key)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, modified: now}
	s.mu.Unlock()
	return Info{Key: key, Size: int64(len(data)), LastModified: now}, nil
}

// Get returns reader over stored payload
func (s *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes object
func (s *Memory) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// List returns objects whose keys start with prefix, sorted by key
func (s *Memory) List(ctx context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]Info, 0)
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, Info{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

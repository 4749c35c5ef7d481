package storage

import (
	"sort"
	"sync"
	"time"
)

type sourceEntry struct {
	checksum string
	chunks   []Chunk
}

type MemoryStorage struct {
	sources map[string]*sourceEntry
	mutex   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sources: make(map[string]*sourceEntry),
	}
}

func (m *MemoryStorage) SourceChecksum(source string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if entry, ok := m.sources[source]; ok {
		return entry.checksum, nil
	}
	return "", nil
}

func (m *MemoryStorage) ReplaceSource(source, checksum string, chunks []Chunk) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	stored := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Source = source
		c.SourceChecksum = checksum
		c.UpdatedAt = now
		stored[i] = c
	}
	m.sources[source] = &sourceEntry{checksum: checksum, chunks: stored}
	return nil
}

func (m *MemoryStorage) DeleteSource(source string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sources, source)
	return nil
}

func (m *MemoryStorage) Sources() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	sources := make([]string, 0, len(m.sources))
	for s := range m.sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

func (m *MemoryStorage) Chunks() ([]Chunk, error) {
	sources, _ := m.Sources()

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var chunks []Chunk
	for _, s := range sources {
		entry, ok := m.sources[s]
		if !ok {
			continue
		}
		chunks = append(chunks, entry.chunks...)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Source != chunks[j].Source {
			return chunks[i].Source < chunks[j].Source
		}
		return chunks[i].Index < chunks[j].Index
	})
	return chunks, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

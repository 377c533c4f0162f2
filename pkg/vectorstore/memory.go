package vectorstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process backend for tests and demo mode. Brute-force
// cosine distance over a map; fine for small corpora.
type MemoryStore struct {
	embedder Embedder

	mu      sync.RWMutex
	order   []string
	entries map[string]memoryEntry
}

type memoryEntry struct {
	document string
	metadata map[string]string
	vector   []float32
}

func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		entries:  make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Initialize(ctx context.Context) error { return nil }

func (s *MemoryStore) AddDocuments(ctx context.Context, docs, ids []string, metadatas []map[string]string) error {
	if len(docs) != len(ids) {
		return errLengthMismatch(len(docs), len(ids))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range docs {
		if _, exists := s.entries[ids[i]]; exists {
			continue
		}
		var meta map[string]string
		if i < len(metadatas) && metadatas[i] != nil {
			meta = metadatas[i]
		} else {
			meta = map[string]string{}
		}
		s.entries[ids[i]] = memoryEntry{
			document: docs[i],
			metadata: meta,
			vector:   s.embedder.Embed(docs[i]),
		}
		s.order = append(s.order, ids[i])
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, text string, topK int, filter map[string]string) (*QueryResult, error) {
	if topK <= 0 {
		topK = 5
	}
	query := s.embedder.Embed(text)

	type scored struct {
		id       string
		distance float64
	}
	s.mu.RLock()
	var candidates []scored
	for _, id := range s.order {
		entry := s.entries[id]
		if !matchesFilter(entry.metadata, filter) {
			continue
		}
		candidates = append(candidates, scored{id: id, distance: 1 - cosine(query, entry.vector)})
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	result := &QueryResult{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range candidates {
		entry := s.entries[c.id]
		result.IDs = append(result.IDs, c.id)
		result.Documents = append(result.Documents, entry.document)
		result.Metadatas = append(result.Metadatas, entry.metadata)
		result.Distances = append(result.Distances, c.distance)
	}
	return result, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) GetSample(ctx context.Context, limit int) (*QueryResult, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &QueryResult{}
	for _, id := range s.order {
		if len(result.IDs) >= limit {
			break
		}
		entry := s.entries[id]
		result.IDs = append(result.IDs, id)
		result.Documents = append(result.Documents, entry.document)
		result.Metadatas = append(result.Metadatas, entry.metadata)
	}
	return result, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.entries[id]; !ok {
			continue
		}
		delete(s.entries, id)
		for i, have := range s.order {
			if have == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
	}
	// Embedder output is L2-normalized, so the dot product is the cosine.
	return dot
}

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

// MemoryStore is a brute-force cosine store used by tests and the "memory" backend.
type MemoryStore struct {
	mu    sync.RWMutex
	dims  int
	items map[uuid.UUID]models.KnowledgeItem
}

func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{dims: dims, items: make(map[uuid.UUID]models.KnowledgeItem)}
}

func (s *MemoryStore) Search(ctx context.Context, scope tenant.Scope, query []float32, limit int, minSimilarity float64) ([]models.ScoredItem, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dims, len(query))
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ScoredItem
	for _, item := range s.items {
		if item.ValidityStatus != models.ValidityActive || !visibleTo(scope, &item) {
			continue
		}
		sim := math.Max(0, cosine(query, item.Embedding))
		if minSimilarity > 0 && sim < minSimilarity {
			continue
		}
		out = append(out, models.ScoredItem{KnowledgeItem: item, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity == out[j].Similarity {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, item *models.KnowledgeItem) error {
	if err := validateItem(item, s.dims); err != nil {
		return err
	}
	item.CreatedAt = time.Now().UTC()
	stored := *item
	stored.Embedding = append([]float32(nil), item.Embedding...)

	s.mu.Lock()
	s.items[item.ID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Retire(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	item.ValidityStatus = models.ValidityRetired
	s.items[id] = item
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &item, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

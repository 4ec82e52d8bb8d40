package knowledge

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func testScope() tenant.Scope {
	return tenant.Scope{HospitalID: uuid.New(), UserID: uuid.New(), Role: models.RoleMedico}
}

func insert(t *testing.T, store *MemoryStore, title string, vector []float32, hospital *uuid.UUID) uuid.UUID {
	t.Helper()
	item := &models.KnowledgeItem{
		HospitalID:  hospital,
		Content:     title + " content",
		Embedding:   vector,
		SourceType:  models.SourceOfficialProtocol,
		SourceTitle: title,
	}
	require.NoError(t, store.Insert(context.Background(), item))
	return item.ID
}

func TestRetrieveOrdersBySimilarity(t *testing.T) {
	store := NewMemoryStore(testDims)
	insert(t, store, "close", []float32{1, 0.1, 0, 0}, nil)
	insert(t, store, "exact", []float32{1, 0, 0, 0}, nil)
	insert(t, store, "orthogonal", []float32{0, 1, 0, 0}, nil)

	retriever := NewRetriever(store, testDims, Options{Policy: PolicyStrict, MinSimilarity: 0.5})
	items, err := retriever.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "exact", items[0].SourceTitle)
	assert.Equal(t, "close", items[1].SourceTitle)
	assert.InDelta(t, 1.0, items[0].Similarity, 1e-6)
	for _, item := range items {
		assert.GreaterOrEqual(t, item.Similarity, 0.5)
	}
}

func TestRetrieveSkipsRetiredItems(t *testing.T) {
	store := NewMemoryStore(testDims)
	retired := insert(t, store, "old protocol", []float32{1, 0, 0, 0}, nil)
	insert(t, store, "current protocol", []float32{0.9, 0.1, 0, 0}, nil)
	require.NoError(t, store.Retire(context.Background(), retired))

	retriever := NewRetriever(store, testDims, Options{})
	items, err := retriever.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "current protocol", items[0].SourceTitle)
}

func TestRetrieveHonoursHospitalVisibility(t *testing.T) {
	store := NewMemoryStore(testDims)
	scope := testScope()
	other := uuid.New()
	insert(t, store, "global", []float32{1, 0, 0, 0}, nil)
	insert(t, store, "own", []float32{1, 0, 0, 0}, &scope.HospitalID)
	insert(t, store, "foreign", []float32{1, 0, 0, 0}, &other)

	retriever := NewRetriever(store, testDims, Options{Limit: 10})
	items, err := retriever.Retrieve(context.Background(), scope, []float32{1, 0, 0, 0})
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.SourceTitle)
	}
	assert.ElementsMatch(t, []string{"global", "own"}, titles)
}

func TestStrictPolicyFailsWithoutContext(t *testing.T) {
	store := NewMemoryStore(testDims)
	insert(t, store, "unrelated", []float32{0, 0, 1, 0}, nil)

	retriever := NewRetriever(store, testDims, Options{Policy: "STRICT"})
	_, err := retriever.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})

	require.ErrorIs(t, err, ErrInsufficientContext)
	var insufficient *InsufficientContextError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, http.StatusUnprocessableEntity, insufficient.HTTPStatus())
}

func TestPermissivePolicyDropsFloor(t *testing.T) {
	store := NewMemoryStore(testDims)
	insert(t, store, "weak", []float32{0.2, 1, 0, 0}, nil)

	retriever := NewRetriever(store, testDims, Options{Policy: PolicyPermissive})
	assert.Equal(t, PolicyPermissive, retriever.Policy())

	items, err := retriever.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Less(t, items[0].Similarity, DefaultMinSimilarity)

	empty := NewRetriever(NewMemoryStore(testDims), testDims, Options{Policy: PolicyPermissive})
	items, err = empty.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	retriever := NewRetriever(NewMemoryStore(testDims), testDims, Options{})
	_, err := retriever.Search(context.Background(), testScope(), []float32{1, 0}, 5, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSimilarityNeverNegative(t *testing.T) {
	store := NewMemoryStore(testDims)
	insert(t, store, "opposite", []float32{-1, 0, 0, 0}, nil)

	retriever := NewRetriever(store, testDims, Options{Policy: PolicyPermissive})
	items, err := retriever.Retrieve(context.Background(), testScope(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0.0, items[0].Similarity)
}

func TestMemoryStoreValidation(t *testing.T) {
	store := NewMemoryStore(testDims)
	err := store.Insert(context.Background(), &models.KnowledgeItem{Content: "x", Embedding: []float32{1}, SourceType: models.SourceReference})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = store.Insert(context.Background(), &models.KnowledgeItem{Content: "x", Embedding: make([]float32, testDims), SourceType: "BLOG"})
	assert.Error(t, err)

	assert.ErrorIs(t, store.Retire(context.Background(), uuid.New()), ErrItemNotFound)
	_, err = store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrItemNotFound)
}

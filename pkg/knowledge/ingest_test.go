package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyEmbedder struct {
	mu        sync.Mutex
	failures  map[string]int
	permanent map[string]bool
	calls     map[string]int
}

func newFlakyEmbedder() *flakyEmbedder {
	return &flakyEmbedder{failures: map[string]int{}, permanent: map[string]bool{}, calls: map[string]int{}}
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[text]++
	if f.permanent[text] {
		return nil, &embedding.Error{Op: "call", Status: 400, Err: errors.New("bad input")}
	}
	if f.failures[text] > 0 {
		f.failures[text]--
		return nil, &embedding.Error{Op: "call", Status: 503, Err: errors.New("overloaded")}
	}
	return []float32{1, 0, 0, 0}, nil
}

func TestIngestRetriesTemporaryFailures(t *testing.T) {
	store := NewMemoryStore(testDims)
	embedder := newFlakyEmbedder()
	embedder.failures["flaky"] = 2
	embedder.permanent["broken"] = true

	docs := []Document{
		{Content: "flaky", SourceType: "OFFICIAL_PROTOCOL", SourceTitle: "A", SourceID: "a"},
		{Content: "stable", SourceType: "DRUG_LEAFLET", SourceTitle: "B", SourceID: "b", VersionDate: "2024-01-15"},
		{Content: "broken", SourceType: "REFERENCE", SourceTitle: "C", SourceID: "c"},
	}

	ingester := NewIngester(store, embedder, IngestOptions{Workers: 2, RetryAttempts: 3, RetryDelay: time.Millisecond})
	report, err := ingester.Ingest(context.Background(), docs)
	require.NoError(t, err)

	assert.Len(t, report.Inserted, 2)
	require.Contains(t, report.Failed, "c")
	assert.Equal(t, 1, embedder.calls["broken"])
	assert.Equal(t, 3, embedder.calls["flaky"])
	assert.Equal(t, 2, store.Len())

	for _, id := range report.Inserted {
		item, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		if item.SourceID == "b" {
			require.NotNil(t, item.VersionDate)
			assert.Equal(t, 2024, item.VersionDate.Year())
		}
	}
}

func TestIngestRejectsBadVersionDate(t *testing.T) {
	store := NewMemoryStore(testDims)
	ingester := NewIngester(store, newFlakyEmbedder(), IngestOptions{Workers: 1})
	report, err := ingester.Ingest(context.Background(), []Document{
		{Content: "x", SourceType: "REFERENCE", SourceID: "bad-date", VersionDate: "15/01/2024"},
	})
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "bad-date")
	assert.Zero(t, store.Len())
}

func TestLoadDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocols.yaml")
	manifest := `documents:
  - content: "Paracetamol 750mg a cada 6 horas"
    source_type: DRUG_LEAFLET
    source_title: "Bula - Paracetamol"
    source_id: bula_paracetamol
    version_date: "2024-02-10"
    metadata:
      tier: 3
`
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	docs, err := LoadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "bula_paracetamol", docs[0].SourceID)
	assert.Equal(t, 3, docs[0].Metadata["tier"])

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("documents: []\n"), 0o600))
	_, err = LoadDocuments(empty)
	assert.Error(t, err)
}

func TestSeedDocumentsAreWellFormed(t *testing.T) {
	for _, doc := range SeedDocuments() {
		item, err := doc.toItem(make([]float32, testDims))
		require.NoError(t, err)
		assert.NoError(t, validateItem(item, testDims), doc.SourceID)
	}
}

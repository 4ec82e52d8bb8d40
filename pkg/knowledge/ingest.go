package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/prescritto-ai/platform/pkg/gateway/httpclient"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Document is one protocol or leaflet excerpt awaiting embedding.
type Document struct {
	HospitalID  *uuid.UUID             `yaml:"hospital_id,omitempty"`
	Content     string                 `yaml:"content"`
	SourceType  string                 `yaml:"source_type"`
	SourceTitle string                 `yaml:"source_title"`
	SourceID    string                 `yaml:"source_id"`
	VersionDate string                 `yaml:"version_date,omitempty"`
	Metadata    map[string]interface{} `yaml:"metadata,omitempty"`
}

type manifest struct {
	Documents []Document `yaml:"documents"`
}

// LoadDocuments reads a YAML manifest with a top-level "documents" list.
func LoadDocuments(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Documents) == 0 {
		return nil, errors.New("manifest has no documents")
	}
	return m.Documents, nil
}

func (d Document) toItem(vector []float32) (*models.KnowledgeItem, error) {
	item := &models.KnowledgeItem{
		HospitalID:     d.HospitalID,
		Content:        d.Content,
		Embedding:      vector,
		SourceType:     d.SourceType,
		SourceTitle:    d.SourceTitle,
		SourceID:       d.SourceID,
		ValidityStatus: models.ValidityActive,
		Metadata:       d.Metadata,
	}
	if d.VersionDate != "" {
		parsed, err := time.Parse("2006-01-02", d.VersionDate)
		if err != nil {
			return nil, fmt.Errorf("version_date %q: %w", d.VersionDate, err)
		}
		item.VersionDate = &parsed
	}
	return item, nil
}

type IngestOptions struct {
	Workers       int
	RetryAttempts int
	RetryDelay    time.Duration
}

type IngestReport struct {
	Inserted []uuid.UUID
	Failed   map[string]error
}

// Ingester embeds documents concurrently on a bounded worker pool and inserts them into a Store.
type Ingester struct {
	store    Store
	embedder embedding.Embedder
	opts     IngestOptions
}

func NewIngester(store Store, embedder embedding.Embedder, opts IngestOptions) *Ingester {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	return &Ingester{store: store, embedder: embedder, opts: opts}
}

func (in *Ingester) Ingest(ctx context.Context, docs []Document) (IngestReport, error) {
	report := IngestReport{Failed: make(map[string]error)}

	pool, err := ants.NewPool(in.opts.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Log.WithField("panic", p).Error("ingest worker panic recovered")
	}))
	if err != nil {
		return report, fmt.Errorf("create ingest pool: %w", err)
	}
	defer pool.Release()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, doc := range docs {
		doc := doc
		key := doc.SourceID
		if key == "" {
			key = fmt.Sprintf("document-%d", i)
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			id, err := in.ingestOne(ctx, doc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[key] = err
				return
			}
			report.Inserted = append(report.Inserted, id)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			report.Failed[key] = submitErr
			mu.Unlock()
		}
	}
	wg.Wait()

	logger.Log.WithFields(logrus.Fields{
		"inserted": len(report.Inserted),
		"failed":   len(report.Failed),
	}).Info("knowledge ingest finished")

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

func (in *Ingester) ingestOne(ctx context.Context, doc Document) (uuid.UUID, error) {
	var vector []float32
	err := httpclient.RetryIf(ctx, in.opts.RetryAttempts, in.opts.RetryDelay, temporaryEmbeddingError, func() error {
		var embedErr error
		vector, embedErr = in.embedder.Embed(ctx, doc.Content)
		return embedErr
	})
	if err != nil {
		return uuid.Nil, err
	}

	item, err := doc.toItem(vector)
	if err != nil {
		return uuid.Nil, err
	}
	if err := in.store.Insert(ctx, item); err != nil {
		return uuid.Nil, err
	}
	return item.ID, nil
}

func temporaryEmbeddingError(err error) bool {
	var embErr *embedding.Error
	if errors.As(err, &embErr) {
		return embErr.Temporary()
	}
	return httpclient.IsRetriable(err)
}

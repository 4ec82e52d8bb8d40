package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/sirupsen/logrus"
)

const (
	PolicyStrict     = "strict"
	PolicyPermissive = "permissive"

	DefaultLimit         = 5
	DefaultMinSimilarity = 0.7
)

type Options struct {
	Policy        string
	Limit         int
	MinSimilarity float64
}

// Retriever applies the retrieval policy on top of a Store. Under the strict policy an empty result
// is an error; the permissive policy drops the similarity floor and lets the caller continue with
// no grounding documents.
type Retriever struct {
	store Store
	dims  int
	opts  Options
}

func NewRetriever(store Store, dims int, opts Options) *Retriever {
	opts.Policy = strings.ToLower(strings.TrimSpace(opts.Policy))
	if opts.Policy != PolicyPermissive {
		opts.Policy = PolicyStrict
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MinSimilarity <= 0 || opts.MinSimilarity > 1 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	return &Retriever{store: store, dims: dims, opts: opts}
}

func (r *Retriever) Policy() string { return r.opts.Policy }

// Search returns ACTIVE items visible to the scope above minSimilarity, best first.
func (r *Retriever) Search(ctx context.Context, scope tenant.Scope, query []float32, limit int, minSimilarity float64) ([]models.ScoredItem, error) {
	if len(query) != r.dims {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, r.dims, len(query))
	}
	items, err := r.store.Search(ctx, scope, query, limit, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	out := items[:0]
	for _, item := range items {
		if item.ValidityStatus != models.ValidityActive {
			continue
		}
		if item.Similarity < 0 {
			item.Similarity = 0
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (r *Retriever) Retrieve(ctx context.Context, scope tenant.Scope, query []float32) ([]models.ScoredItem, error) {
	floor := r.opts.MinSimilarity
	if r.opts.Policy == PolicyPermissive {
		floor = 0
	}

	items, err := r.Search(ctx, scope, query, r.opts.Limit, floor)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"hospital_id": scope.HospitalID,
		"policy":      r.opts.Policy,
		"results":     len(items),
	}).Debug("knowledge retrieval")

	if len(items) == 0 && r.opts.Policy == PolicyStrict {
		return nil, &InsufficientContextError{MinSimilarity: floor}
	}
	return items, nil
}

// Package knowledge holds the clinical protocol base: vector storage, similarity retrieval and bulk
// ingestion of protocols and drug leaflets.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

var (
	ErrDimensionMismatch = errors.New("query vector has the wrong dimension")
	ErrItemNotFound      = errors.New("knowledge item not found")
)

// InsufficientContextError is returned by a strict retriever when nothing clears the similarity floor.
type InsufficientContextError struct {
	MinSimilarity float64
}

func (e *InsufficientContextError) Error() string {
	return fmt.Sprintf("no knowledge item above similarity %.2f", e.MinSimilarity)
}

func (e *InsufficientContextError) Is(target error) bool { return target == ErrInsufficientContext }

func (e *InsufficientContextError) HTTPStatus() int { return http.StatusUnprocessableEntity }

func (e *InsufficientContextError) PublicMessage() string {
	return "Não foram encontrados protocolos clínicos suficientes para fundamentar a prescrição."
}

var ErrInsufficientContext = errors.New("insufficient clinical context")

// Store persists knowledge items with their embeddings.
type Store interface {
	// Search returns ACTIVE items visible to the scope (global or owned by its hospital) ordered by
	// descending cosine similarity. A minSimilarity of zero disables the floor.
	Search(ctx context.Context, scope tenant.Scope, query []float32, limit int, minSimilarity float64) ([]models.ScoredItem, error)
	Insert(ctx context.Context, item *models.KnowledgeItem) error
	Retire(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error)
}

func validateItem(item *models.KnowledgeItem, dims int) error {
	if item == nil {
		return errors.New("nil knowledge item")
	}
	if item.Content == "" {
		return errors.New("knowledge item content is required")
	}
	if len(item.Embedding) != dims {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dims, len(item.Embedding))
	}
	switch item.SourceType {
	case models.SourceOfficialProtocol, models.SourceDrugLeaflet, models.SourceReference:
	default:
		return fmt.Errorf("unknown source type %q", item.SourceType)
	}
	if item.ValidityStatus == "" {
		item.ValidityStatus = models.ValidityActive
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return nil
}

func visibleTo(scope tenant.Scope, item *models.KnowledgeItem) bool {
	return item.HospitalID == nil || *item.HospitalID == scope.HospitalID
}

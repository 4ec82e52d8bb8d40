package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/embedding"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ItemModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	HospitalID     *uuid.UUID      `gorm:"type:uuid;index"`
	Content        string          `gorm:"type:text;not null"`
	Embedding      pgvector.Vector `gorm:"type:vector(1536);not null"`
	SourceType     string          `gorm:"size:32;index"`
	SourceTitle    string
	SourceID       string `gorm:"index"`
	VersionDate    *time.Time
	ValidityStatus string            `gorm:"size:16;index;default:ACTIVE"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (ItemModel) TableName() string {
	return "knowledge_items"
}

func (m ItemModel) toDomain() models.KnowledgeItem {
	return models.KnowledgeItem{
		ID:             m.ID,
		HospitalID:     m.HospitalID,
		Content:        m.Content,
		Embedding:      m.Embedding.Slice(),
		SourceType:     m.SourceType,
		SourceTitle:    m.SourceTitle,
		SourceID:       m.SourceID,
		VersionDate:    m.VersionDate,
		ValidityStatus: m.ValidityStatus,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

type scoredRow struct {
	ItemModel
	Similarity float64
}

// PostgresStore keeps embeddings in a pgvector column and ranks them by cosine distance.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AutoMigrate() error {
	if err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	if err := s.db.AutoMigrate(&ItemModel{}); err != nil {
		return err
	}
	return s.db.Exec("CREATE INDEX IF NOT EXISTS knowledge_items_embedding_idx ON knowledge_items USING hnsw (embedding vector_cosine_ops)").Error
}

func (s *PostgresStore) Search(ctx context.Context, scope tenant.Scope, query []float32, limit int, minSimilarity float64) ([]models.ScoredItem, error) {
	if len(query) != embedding.Dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, embedding.Dimensions, len(query))
	}
	if limit <= 0 {
		limit = 5
	}
	vector := pgvector.NewVector(query)

	q := s.db.WithContext(ctx).
		Model(&ItemModel{}).
		Select("knowledge_items.*, GREATEST(0, 1 - (embedding <=> ?)) AS similarity", vector).
		Where("validity_status = ?", models.ValidityActive).
		Where("hospital_id IS NULL OR hospital_id = ?", scope.HospitalID)
	if minSimilarity > 0 {
		q = q.Where("1 - (embedding <=> ?) >= ?", vector, minSimilarity)
	}

	var rows []scoredRow
	err := q.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{vector}}}).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.ScoredItem{KnowledgeItem: row.toDomain(), Similarity: row.Similarity})
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, item *models.KnowledgeItem) error {
	if err := validateItem(item, embedding.Dimensions); err != nil {
		return err
	}
	model := ItemModel{
		ID:             item.ID,
		HospitalID:     item.HospitalID,
		Content:        item.Content,
		Embedding:      pgvector.NewVector(item.Embedding),
		SourceType:     item.SourceType,
		SourceTitle:    item.SourceTitle,
		SourceID:       item.SourceID,
		VersionDate:    item.VersionDate,
		ValidityStatus: item.ValidityStatus,
		Metadata:       datatypes.JSONMap(item.Metadata),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	item.CreatedAt = model.CreatedAt
	return nil
}

func (s *PostgresStore) Retire(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&ItemModel{}).
		Where("id = ?", id).
		Update("validity_status", models.ValidityRetired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeItem, error) {
	var model ItemModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	item := model.toDomain()
	return &item, nil
}

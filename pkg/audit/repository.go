package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrImmutable = errors.New("audit entries are append-only")

type LogModel struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey"`
	HospitalID           uuid.UUID  `gorm:"type:uuid;index;not null"`
	UserID               uuid.UUID  `gorm:"type:uuid;index;not null"`
	Action               string     `gorm:"size:40;index;not null"`
	Timestamp            time.Time  `gorm:"index;not null"`
	ConsultaID           *uuid.UUID `gorm:"type:uuid;index"`
	ReceitaID            *uuid.UUID `gorm:"type:uuid;index"`
	InputData            datatypes.JSONMap
	AISuggestion         datatypes.JSONMap
	SourceIDsUsed        datatypes.JSONSlice[string]
	ConfidenceScore      *float64
	ModeloIA             string `gorm:"size:100"`
	PromptVersion        string `gorm:"size:50"`
	DoctorEdit           datatypes.JSONMap
	ManualOverrideReason string `gorm:"type:text"`
	BreakGlassConfirmed  bool
	FinalPrescription    datatypes.JSONMap
	PDFHash              string `gorm:"size:64"`
	PDFGeneratedAt       *time.Time
	SessionID            string `gorm:"size:100"`
	IPAddress            string `gorm:"size:45"`
	UserAgent            string `gorm:"type:text"`
	LGPDCompliant        bool
	ANVISACompliant      bool
}

func (LogModel) TableName() string {
	return "audit_logs"
}

func (LogModel) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutable
}

func (LogModel) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutable
}

func toModel(entry *models.AuditLog) LogModel {
	return LogModel{
		ID:                   entry.ID,
		HospitalID:           entry.HospitalID,
		UserID:               entry.UserID,
		Action:               entry.Action,
		Timestamp:            entry.Timestamp,
		ConsultaID:           entry.ConsultaID,
		ReceitaID:            entry.ReceitaID,
		InputData:            datatypes.JSONMap(entry.InputData),
		AISuggestion:         datatypes.JSONMap(entry.AISuggestion),
		SourceIDsUsed:        datatypes.JSONSlice[string](entry.SourceIDsUsed),
		ConfidenceScore:      entry.ConfidenceScore,
		ModeloIA:             entry.ModeloIA,
		PromptVersion:        entry.PromptVersion,
		DoctorEdit:           datatypes.JSONMap(entry.DoctorEdit),
		ManualOverrideReason: entry.ManualOverrideReason,
		BreakGlassConfirmed:  entry.BreakGlassConfirmed,
		FinalPrescription:    datatypes.JSONMap(entry.FinalPrescription),
		PDFHash:              entry.PDFHash,
		PDFGeneratedAt:       entry.PDFGeneratedAt,
		SessionID:            entry.SessionID,
		IPAddress:            entry.IPAddress,
		UserAgent:            entry.UserAgent,
		LGPDCompliant:        entry.LGPDCompliant,
		ANVISACompliant:      entry.ANVISACompliant,
	}
}

func (m LogModel) toDomain() models.AuditLog {
	return models.AuditLog{
		ID:                   m.ID,
		HospitalID:           m.HospitalID,
		UserID:               m.UserID,
		Action:               m.Action,
		Timestamp:            m.Timestamp,
		ConsultaID:           m.ConsultaID,
		ReceitaID:            m.ReceitaID,
		InputData:            m.InputData,
		AISuggestion:         m.AISuggestion,
		SourceIDsUsed:        []string(m.SourceIDsUsed),
		ConfidenceScore:      m.ConfidenceScore,
		ModeloIA:             m.ModeloIA,
		PromptVersion:        m.PromptVersion,
		DoctorEdit:           m.DoctorEdit,
		ManualOverrideReason: m.ManualOverrideReason,
		BreakGlassConfirmed:  m.BreakGlassConfirmed,
		FinalPrescription:    m.FinalPrescription,
		PDFHash:              m.PDFHash,
		PDFGeneratedAt:       m.PDFGeneratedAt,
		SessionID:            m.SessionID,
		IPAddress:            m.IPAddress,
		UserAgent:            m.UserAgent,
		LGPDCompliant:        m.LGPDCompliant,
		ANVISACompliant:      m.ANVISACompliant,
	}
}

// Repository only ever inserts and reads; the model hooks reject updates and deletes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&LogModel{})
}

// WithTx binds the repository to an open transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) Append(ctx context.Context, entry *models.AuditLog) error {
	model := toModel(entry)
	return r.db.WithContext(ctx).Create(&model).Error
}

// ListByConsulta returns the trail of one consulta inside the scope's hospital, oldest first.
func (r *Repository) ListByConsulta(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) ([]models.AuditLog, error) {
	if err := scope.Valid(); err != nil {
		return nil, err
	}
	var rows []LogModel
	err := r.db.WithContext(ctx).
		Where("hospital_id = ? AND consulta_id = ?", scope.HospitalID, consultaID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// CountByAction aggregates a hospital's entries since the given time.
func (r *Repository) CountByAction(ctx context.Context, hospitalID uuid.UUID, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Action string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&LogModel{}).
		Select("action, COUNT(*) AS total").
		Where("hospital_id = ? AND timestamp >= ?", hospitalID, since.UTC()).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Action] = row.Total
	}
	return out, nil
}

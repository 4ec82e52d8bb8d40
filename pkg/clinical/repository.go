package clinical

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PacienteModel struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey"`
	HospitalID          uuid.UUID  `gorm:"type:uuid;index;not null"`
	NomeCompleto        string     `gorm:"size:200;not null"`
	DataNascimento      *time.Time `gorm:"type:date"`
	CPF                 string     `gorm:"size:14;index"`
	HistoricoAlergias   string     `gorm:"type:text"`
	MedicoResponsavelID *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt           time.Time
}

func (PacienteModel) TableName() string {
	return "pacientes"
}

type ConsultaModel struct {
	ID           uuid.UUID                               `gorm:"type:uuid;primaryKey"`
	HospitalID   uuid.UUID                               `gorm:"type:uuid;index;not null"`
	PacienteID   uuid.UUID                               `gorm:"type:uuid;index;not null"`
	MedicoID     uuid.UUID                               `gorm:"type:uuid;index;not null"`
	Sintomas     string                                  `gorm:"type:text"`
	AnaliseIA    string                                  `gorm:"type:text"`
	Prescricao   string                                  `gorm:"type:text"`
	Status       string                                  `gorm:"size:20;index;not null"`
	ChatMessages datatypes.JSONSlice[models.ChatMessage] `gorm:"column:chat_messages"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ConsultaModel) TableName() string {
	return "consultas"
}

type ReceitaModel struct {
	ID          uuid.UUID                                    `gorm:"type:uuid;primaryKey"`
	ConsultaID  uuid.UUID                                    `gorm:"type:uuid;not null;uniqueIndex:idx_receita_version"`
	HospitalID  uuid.UUID                                    `gorm:"type:uuid;index;not null"`
	Version     int                                          `gorm:"not null;uniqueIndex:idx_receita_version"`
	Status      string                                       `gorm:"size:20;index;not null"`
	JSONContent datatypes.JSONType[models.PrescriptionDraft] `gorm:"column:json_content"`
	CreatedBy   uuid.UUID                                    `gorm:"type:uuid"`
	CreatedAt   time.Time
	SignedAt    *time.Time
}

func (ReceitaModel) TableName() string {
	return "receitas"
}

// Repository methods take the caller's tenant.Scope first; none of them can reach another
// hospital's rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PacienteModel{}, &ConsultaModel{}, &ReceitaModel{})
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) DB() *gorm.DB { return r.db }

func (r *Repository) CreatePaciente(ctx context.Context, scope tenant.Scope, req models.CreatePacienteRequest) (models.Paciente, error) {
	if err := scope.Valid(); err != nil {
		return models.Paciente{}, err
	}
	responsavel := req.MedicoResponsavelID
	if responsavel == nil && scope.Role == models.RoleMedico {
		self := scope.UserID
		responsavel = &self
	}
	paciente := PacienteModel{
		ID:                  uuid.New(),
		HospitalID:          scope.HospitalID,
		NomeCompleto:        req.NomeCompleto,
		DataNascimento:      req.DataNascimento,
		CPF:                 req.CPF,
		HistoricoAlergias:   req.HistoricoAlergias,
		MedicoResponsavelID: responsavel,
		CreatedAt:           time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&paciente).Error; err != nil {
		return models.Paciente{}, err
	}
	return mapPaciente(paciente), nil
}

func (r *Repository) GetPaciente(ctx context.Context, scope tenant.Scope, id uuid.UUID) (models.Paciente, error) {
	var paciente PacienteModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&paciente).Error; err != nil {
		return models.Paciente{}, fmt.Errorf("paciente %s: %w", id, err)
	}
	if err := scope.Authorize("paciente", id, paciente.HospitalID); err != nil {
		return models.Paciente{}, err
	}
	if !scope.CanViewAll && !responsibleFor(scope, paciente.MedicoResponsavelID) {
		var attended int64
		if err := r.db.WithContext(ctx).Model(&ConsultaModel{}).
			Where("paciente_id = ? AND medico_id = ?", id, scope.UserID).
			Count(&attended).Error; err != nil {
			return models.Paciente{}, err
		}
		if attended == 0 {
			return models.Paciente{}, tenant.Deny("paciente", id, "not assigned to caller")
		}
	}
	return mapPaciente(paciente), nil
}

func (r *Repository) ListPacientes(ctx context.Context, scope tenant.Scope, limit int) ([]models.Paciente, error) {
	if err := scope.Valid(); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Where("hospital_id = ?", scope.HospitalID)
	if !scope.CanViewAll {
		q = q.Where("medico_responsavel_id = ? OR id IN (?)", scope.UserID,
			r.db.Model(&ConsultaModel{}).Select("paciente_id").Where("medico_id = ?", scope.UserID))
	}
	var rows []PacienteModel
	if err := q.Order("nome_completo ASC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Paciente, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapPaciente(row))
	}
	return out, nil
}

func (r *Repository) CreateConsulta(ctx context.Context, scope tenant.Scope, pacienteID uuid.UUID) (models.Consulta, error) {
	if _, err := r.GetPaciente(ctx, scope, pacienteID); err != nil {
		return models.Consulta{}, err
	}
	now := time.Now().UTC()
	consulta := ConsultaModel{
		ID:           uuid.New(),
		HospitalID:   scope.HospitalID,
		PacienteID:   pacienteID,
		MedicoID:     scope.UserID,
		Status:       models.ConsultaEmAndamento,
		ChatMessages: datatypes.JSONSlice[models.ChatMessage]{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(&consulta).Error; err != nil {
		return models.Consulta{}, err
	}
	return mapConsulta(consulta), nil
}

// GetConsulta enforces both the hospital boundary and, for restricted doctors, that the caller
// attends the consulta or is responsible for its patient.
func (r *Repository) GetConsulta(ctx context.Context, scope tenant.Scope, id uuid.UUID) (models.Consulta, error) {
	var consulta ConsultaModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&consulta).Error; err != nil {
		return models.Consulta{}, fmt.Errorf("consulta %s: %w", id, err)
	}
	if err := scope.Authorize("consulta", id, consulta.HospitalID); err != nil {
		return models.Consulta{}, err
	}
	if !scope.CanViewAll && consulta.MedicoID != scope.UserID {
		var paciente PacienteModel
		err := r.db.WithContext(ctx).Select("medico_responsavel_id").Where("id = ?", consulta.PacienteID).First(&paciente).Error
		if err != nil || !responsibleFor(scope, paciente.MedicoResponsavelID) {
			return models.Consulta{}, tenant.Deny("consulta", id, "not assigned to caller")
		}
	}
	return mapConsulta(consulta), nil
}

type ConsultaFilter struct {
	PacienteID *uuid.UUID
	Status     string
	Limit      int
}

func (r *Repository) ListConsultas(ctx context.Context, scope tenant.Scope, filter ConsultaFilter) ([]models.Consulta, error) {
	if err := scope.Valid(); err != nil {
		return nil, err
	}
	q := r.db.WithContext(ctx).Where("hospital_id = ?", scope.HospitalID)
	if !scope.CanViewAll {
		q = q.Where("medico_id = ? OR paciente_id IN (?)", scope.UserID,
			r.db.Model(&PacienteModel{}).Select("id").Where("medico_responsavel_id = ?", scope.UserID))
	}
	if filter.PacienteID != nil {
		q = q.Where("paciente_id = ?", *filter.PacienteID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var rows []ConsultaModel
	if err := q.Order("created_at DESC").Limit(clampLimit(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Consulta, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapConsulta(row))
	}
	return out, nil
}

// TransitionConsulta moves a consulta to status `to` only while it is still in one of `from`,
// applying updates in the same statement. It reports whether a row changed.
func (r *Repository) TransitionConsulta(ctx context.Context, scope tenant.Scope, id uuid.UUID, from []string, to string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).Model(&ConsultaModel{}).
		Where("id = ? AND hospital_id = ? AND status IN ?", id, scope.HospitalID, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateReceita stores the next version of the consulta's prescription.
func (r *Repository) CreateReceita(ctx context.Context, consulta models.Consulta, draft models.PrescriptionDraft, createdBy uuid.UUID) (models.Receita, error) {
	var current int
	err := r.db.WithContext(ctx).Model(&ReceitaModel{}).
		Where("consulta_id = ?", consulta.ID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error
	if err != nil {
		return models.Receita{}, err
	}
	receita := ReceitaModel{
		ID:          uuid.New(),
		ConsultaID:  consulta.ID,
		HospitalID:  consulta.HospitalID,
		Version:     current + 1,
		Status:      models.ReceitaRascunho,
		JSONContent: datatypes.NewJSONType(draft),
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&receita).Error; err != nil {
		return models.Receita{}, err
	}
	return mapReceita(receita), nil
}

// LatestReceita returns the highest version, which is always the one a signature targets.
func (r *Repository) LatestReceita(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) (models.Receita, error) {
	var receita ReceitaModel
	err := r.db.WithContext(ctx).
		Where("consulta_id = ? AND hospital_id = ?", consultaID, scope.HospitalID).
		Order("version DESC").
		First(&receita).Error
	if err != nil {
		return models.Receita{}, fmt.Errorf("receita of consulta %s: %w", consultaID, err)
	}
	return mapReceita(receita), nil
}

func (r *Repository) ListReceitas(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) ([]models.Receita, error) {
	var rows []ReceitaModel
	err := r.db.WithContext(ctx).
		Where("consulta_id = ? AND hospital_id = ?", consultaID, scope.HospitalID).
		Order("version DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Receita, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapReceita(row))
	}
	return out, nil
}

func (r *Repository) SignReceita(ctx context.Context, scope tenant.Scope, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ReceitaModel{}).
		Where("id = ? AND hospital_id = ? AND status = ?", id, scope.HospitalID, models.ReceitaRascunho).
		Updates(map[string]interface{}{
			"status":    models.ReceitaAssinada,
			"signed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func responsibleFor(scope tenant.Scope, medicoID *uuid.UUID) bool {
	return medicoID != nil && *medicoID == scope.UserID
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func mapPaciente(m PacienteModel) models.Paciente {
	return models.Paciente{
		ID:                  m.ID,
		HospitalID:          m.HospitalID,
		NomeCompleto:        m.NomeCompleto,
		DataNascimento:      m.DataNascimento,
		CPF:                 m.CPF,
		HistoricoAlergias:   m.HistoricoAlergias,
		MedicoResponsavelID: m.MedicoResponsavelID,
		CreatedAt:           m.CreatedAt,
	}
}

func mapConsulta(m ConsultaModel) models.Consulta {
	messages := []models.ChatMessage(m.ChatMessages)
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return models.Consulta{
		ID:           m.ID,
		HospitalID:   m.HospitalID,
		PacienteID:   m.PacienteID,
		MedicoID:     m.MedicoID,
		Sintomas:     m.Sintomas,
		AnaliseIA:    m.AnaliseIA,
		Prescricao:   m.Prescricao,
		Status:       m.Status,
		ChatMessages: messages,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func mapReceita(m ReceitaModel) models.Receita {
	return models.Receita{
		ID:          m.ID,
		ConsultaID:  m.ConsultaID,
		HospitalID:  m.HospitalID,
		Version:     m.Version,
		Status:      m.Status,
		JSONContent: m.JSONContent.Data(),
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		SignedAt:    m.SignedAt,
	}
}

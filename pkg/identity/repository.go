package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrHospitalNotFound   = errors.New("hospital not found")
	ErrEmailAlreadyExists = errors.New("email already registered")
)

const DefaultRetencaoDias = 365

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type HospitalModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Nome      string    `gorm:"size:200;not null"`
	CNPJ      *string   `gorm:"size:18;uniqueIndex"`
	Ativo     bool      `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (HospitalModel) TableName() string {
	return "hospitals"
}

type UserModel struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	HospitalID            *uuid.UUID `gorm:"type:uuid;index"`
	Subject               *string    `gorm:"size:255;uniqueIndex"`
	Email                 string     `gorm:"size:255;uniqueIndex"`
	Nome                  string     `gorm:"size:200"`
	Role                  string     `gorm:"size:16;index"`
	CRM                   string     `gorm:"size:20"`
	PodeVerTodosPacientes bool
	Ativo                 bool `gorm:"default:true"`
	CreatedAt             time.Time
	UpdatedAt             time.Time

	Hospital *HospitalModel `gorm:"foreignKey:HospitalID"`
}

func (UserModel) TableName() string {
	return "users"
}

type HospitalConfigModel struct {
	HospitalID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModeloIA          string    `gorm:"size:100"`
	EstiloOrientacao  string    `gorm:"type:text"`
	AssinaturaRodape  string    `gorm:"type:text"`
	RetencaoDadosDias int
	UpdatedAt         time.Time
}

func (HospitalConfigModel) TableName() string {
	return "hospital_configs"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&HospitalModel{}, &UserModel{}, &HospitalConfigModel{})
}

type CreateHospitalInput struct {
	Nome string
	CNPJ string
}

func (r *Repository) CreateHospital(ctx context.Context, input CreateHospitalInput) (models.Hospital, error) {
	now := time.Now().UTC()
	hospital := HospitalModel{
		ID:        uuid.New(),
		Nome:      strings.TrimSpace(input.Nome),
		CNPJ:      nullableString(input.CNPJ),
		Ativo:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.db.WithContext(ctx).Create(&hospital).Error; err != nil {
		return models.Hospital{}, err
	}
	return mapHospitalModel(hospital), nil
}

func (r *Repository) GetHospital(ctx context.Context, id uuid.UUID) (models.Hospital, error) {
	var hospital HospitalModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&hospital).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Hospital{}, ErrHospitalNotFound
	}
	if err != nil {
		return models.Hospital{}, err
	}
	return mapHospitalModel(hospital), nil
}

type CreateUserInput struct {
	HospitalID            uuid.UUID
	Subject               string
	Email                 string
	Nome                  string
	Role                  string
	CRM                   string
	PodeVerTodosPacientes bool
}

func (r *Repository) CreateUser(ctx context.Context, input CreateUserInput) (models.User, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(input.Email))

	var existing int64
	if err := r.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", normalizedEmail).Count(&existing).Error; err != nil {
		return models.User{}, err
	}
	if existing > 0 {
		return models.User{}, ErrEmailAlreadyExists
	}

	hospitalID := input.HospitalID
	now := time.Now().UTC()
	user := UserModel{
		ID:                    uuid.New(),
		HospitalID:            &hospitalID,
		Subject:               nullableString(input.Subject),
		Email:                 normalizedEmail,
		Nome:                  strings.TrimSpace(input.Nome),
		Role:                  input.Role,
		CRM:                   strings.TrimSpace(input.CRM),
		PodeVerTodosPacientes: input.PodeVerTodosPacientes,
		Ativo:                 true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return models.User{}, err
	}
	return mapUserModel(user), nil
}

func (r *Repository) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	return r.findUser(ctx, "subject = ?", subject)
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.findUser(ctx, "id = ?", id)
}

func (r *Repository) findUser(ctx context.Context, query string, arg interface{}) (models.User, error) {
	var user UserModel
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return mapUserModel(user), nil
}

// BindSubject links an identity-provider subject to a pre-provisioned user on first login.
func (r *Repository) BindSubject(ctx context.Context, userID uuid.UUID, subject string) error {
	res := r.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND subject IS NULL", userID).
		Updates(map[string]interface{}{
			"subject":    subject,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) SetUserActive(ctx context.Context, userID uuid.UUID, ativo bool) error {
	return r.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"ativo":      ativo,
		"updated_at": time.Now().UTC(),
	}).Error
}

// GetHospitalConfig returns the stored configuration or the defaults when none was saved.
func (r *Repository) GetHospitalConfig(ctx context.Context, hospitalID uuid.UUID) (models.HospitalConfig, error) {
	var cfg HospitalConfigModel
	err := r.db.WithContext(ctx).Where("hospital_id = ?", hospitalID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.HospitalConfig{HospitalID: hospitalID, RetencaoDadosDias: DefaultRetencaoDias}, nil
	}
	if err != nil {
		return models.HospitalConfig{}, err
	}
	return mapHospitalConfigModel(cfg), nil
}

func (r *Repository) UpsertHospitalConfig(ctx context.Context, cfg models.HospitalConfig) (models.HospitalConfig, error) {
	if cfg.RetencaoDadosDias <= 0 {
		cfg.RetencaoDadosDias = DefaultRetencaoDias
	}
	model := HospitalConfigModel{
		HospitalID:        cfg.HospitalID,
		ModeloIA:          strings.TrimSpace(cfg.ModeloIA),
		EstiloOrientacao:  strings.TrimSpace(cfg.EstiloOrientacao),
		AssinaturaRodape:  strings.TrimSpace(cfg.AssinaturaRodape),
		RetencaoDadosDias: cfg.RetencaoDadosDias,
		UpdatedAt:         time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hospital_id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return models.HospitalConfig{}, err
	}
	return mapHospitalConfigModel(model), nil
}

func nullableString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func mapHospitalModel(h HospitalModel) models.Hospital {
	out := models.Hospital{
		ID:        h.ID,
		Nome:      h.Nome,
		Ativo:     h.Ativo,
		CreatedAt: h.CreatedAt,
	}
	if h.CNPJ != nil {
		out.CNPJ = *h.CNPJ
	}
	return out
}

func mapUserModel(user UserModel) models.User {
	out := models.User{
		ID:                    user.ID,
		HospitalID:            user.HospitalID,
		Email:                 user.Email,
		Nome:                  user.Nome,
		Role:                  user.Role,
		CRM:                   user.CRM,
		PodeVerTodosPacientes: user.PodeVerTodosPacientes,
		Ativo:                 user.Ativo,
		CreatedAt:             user.CreatedAt,
	}
	if user.Subject != nil {
		out.Subject = *user.Subject
	}
	return out
}

func mapHospitalConfigModel(cfg HospitalConfigModel) models.HospitalConfig {
	return models.HospitalConfig{
		HospitalID:        cfg.HospitalID,
		ModeloIA:          cfg.ModeloIA,
		EstiloOrientacao:  cfg.EstiloOrientacao,
		AssinaturaRodape:  cfg.AssinaturaRodape,
		RetencaoDadosDias: cfg.RetencaoDadosDias,
		UpdatedAt:         cfg.UpdatedAt,
	}
}

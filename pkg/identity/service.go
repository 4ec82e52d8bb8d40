package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

// ErrUnknownSubject is a permission error so unprovisioned logins surface as 403.
var ErrUnknownSubject error = &tenant.PermissionError{Resource: "user", Reason: "authenticated subject is not provisioned"}

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Repository() *Repository { return s.repo }

func (s *Service) CreateHospital(ctx context.Context, nome, cnpj string) (models.Hospital, error) {
	if strings.TrimSpace(nome) == "" {
		return models.Hospital{}, fmt.Errorf("hospital name required")
	}
	return s.repo.CreateHospital(ctx, CreateHospitalInput{Nome: nome, CNPJ: cnpj})
}

type RegisterUserInput struct {
	HospitalID            uuid.UUID
	Subject               string
	Email                 string
	Nome                  string
	Role                  string
	CRM                   string
	PodeVerTodosPacientes bool
}

// RegisterUser provisions a staff member. Doctors must carry a CRM.
func (s *Service) RegisterUser(ctx context.Context, input RegisterUserInput) (models.User, error) {
	role := strings.ToUpper(strings.TrimSpace(input.Role))
	switch role {
	case models.RoleAdmin, models.RoleGestor, models.RoleMedico:
	default:
		return models.User{}, fmt.Errorf("unknown role %q", input.Role)
	}
	if strings.TrimSpace(input.Email) == "" {
		return models.User{}, fmt.Errorf("email required")
	}
	if role == models.RoleMedico && strings.TrimSpace(input.CRM) == "" {
		return models.User{}, fmt.Errorf("crm required for role %s", models.RoleMedico)
	}
	if _, err := s.repo.GetHospital(ctx, input.HospitalID); err != nil {
		return models.User{}, err
	}

	return s.repo.CreateUser(ctx, CreateUserInput{
		HospitalID:            input.HospitalID,
		Subject:               input.Subject,
		Email:                 input.Email,
		Nome:                  input.Nome,
		Role:                  role,
		CRM:                   input.CRM,
		PodeVerTodosPacientes: input.PodeVerTodosPacientes,
	})
}

// ResolveScope maps a verified token subject to the caller's tenant scope. A user provisioned by
// email without a subject is bound to it on first login, and only when the identity provider has
// verified that email.
func (s *Service) ResolveScope(ctx context.Context, subject, email string, emailVerified bool) (tenant.Scope, models.User, error) {
	user, err := s.repo.GetUserBySubject(ctx, subject)
	if errors.Is(err, ErrUserNotFound) && email != "" {
		if !emailVerified {
			logger.Log.WithField("subject", subject).Warn("refusing first-login binding for unverified email")
			return tenant.Scope{}, models.User{}, ErrUnknownSubject
		}
		user, err = s.bindByEmail(ctx, subject, email)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return tenant.Scope{}, models.User{}, ErrUnknownSubject
		}
		return tenant.Scope{}, models.User{}, err
	}

	scope, err := tenant.CurrentScope(user)
	if err != nil {
		return tenant.Scope{}, models.User{}, err
	}
	return scope, user, nil
}

func (s *Service) bindByEmail(ctx context.Context, subject, email string) (models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if user.Subject != "" {
		return models.User{}, ErrUserNotFound
	}
	if err := s.repo.BindSubject(ctx, user.ID, subject); err != nil {
		return models.User{}, err
	}
	logger.Log.WithField("user_id", user.ID).Info("identity subject bound on first login")
	user.Subject = subject
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) HospitalConfig(ctx context.Context, scope tenant.Scope) (models.HospitalConfig, error) {
	if err := scope.Valid(); err != nil {
		return models.HospitalConfig{}, err
	}
	return s.repo.GetHospitalConfig(ctx, scope.HospitalID)
}

// UpdateHospitalConfig is restricted to managers and admins of the hospital.
func (s *Service) UpdateHospitalConfig(ctx context.Context, scope tenant.Scope, cfg models.HospitalConfig) (models.HospitalConfig, error) {
	if !scope.HasRole(models.RoleGestor, models.RoleAdmin) {
		return models.HospitalConfig{}, tenant.Deny("hospital_config", scope.HospitalID, "role "+scope.Role)
	}
	cfg.HospitalID = scope.HospitalID
	return s.repo.UpsertHospitalConfig(ctx, cfg)
}

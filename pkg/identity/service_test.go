package identity

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return NewService(repo)
}

func TestRegisterAndResolveScope(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	hospital, err := svc.CreateHospital(ctx, "Hospital Central", "12.345.678/0001-90")
	require.NoError(t, err)

	user, err := svc.RegisterUser(ctx, RegisterUserInput{
		HospitalID: hospital.ID,
		Subject:    "oidc|medico-1",
		Email:      "Medico@Hospital.org",
		Nome:       "Dra. Ana",
		Role:       "medico",
		CRM:        "CRM-SP 123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "medico@hospital.org", user.Email)
	assert.Equal(t, models.RoleMedico, user.Role)

	scope, resolved, err := svc.ResolveScope(ctx, "oidc|medico-1", "", false)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, hospital.ID, scope.HospitalID)
	assert.False(t, scope.CanViewAll)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	hospital, err := svc.CreateHospital(ctx, "Hospital Norte", "")
	require.NoError(t, err)

	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "a@h.org", Role: "ENFERMEIRO"})
	assert.Error(t, err)

	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "b@h.org", Role: models.RoleMedico})
	assert.Error(t, err)

	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: uuid.New(), Email: "c@h.org", Role: models.RoleGestor})
	assert.ErrorIs(t, err, ErrHospitalNotFound)

	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "d@h.org", Role: models.RoleGestor})
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "D@h.org", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestResolveScopeBindsSubjectByEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	hospital, err := svc.CreateHospital(ctx, "Hospital Sul", "")
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "gestor@sul.org", Role: models.RoleGestor})
	require.NoError(t, err)

	scope, user, err := svc.ResolveScope(ctx, "oidc|gestor", "gestor@sul.org", true)
	require.NoError(t, err)
	assert.Equal(t, "oidc|gestor", user.Subject)
	assert.True(t, scope.CanViewAll)

	_, _, err = svc.ResolveScope(ctx, "oidc|someone-else", "gestor@sul.org", true)
	assert.ErrorIs(t, err, ErrUnknownSubject)

	_, _, err = svc.ResolveScope(ctx, "oidc|ghost", "", false)
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestResolveScopeRejectsInactiveUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	hospital, err := svc.CreateHospital(ctx, "Hospital Leste", "")
	require.NoError(t, err)
	user, err := svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Subject: "oidc|x", Email: "x@leste.org", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, svc.Repository().SetUserActive(ctx, user.ID, false))

	_, _, err = svc.ResolveScope(ctx, "oidc|x", "", false)
	assert.ErrorIs(t, err, tenant.ErrForbidden)
}

func TestHospitalConfig(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	scope := tenant.Scope{HospitalID: uuid.New(), UserID: uuid.New(), Role: models.RoleGestor, CanViewAll: true}

	cfg, err := svc.HospitalConfig(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetencaoDias, cfg.RetencaoDadosDias)

	saved, err := svc.UpdateHospitalConfig(ctx, scope, models.HospitalConfig{ModeloIA: "gpt-4o-mini", AssinaturaRodape: "Hospital Central - CRM"})
	require.NoError(t, err)
	assert.Equal(t, scope.HospitalID, saved.HospitalID)

	_, err = svc.UpdateHospitalConfig(ctx, scope, models.HospitalConfig{ModeloIA: "gpt-4o", RetencaoDadosDias: 730})
	require.NoError(t, err)

	cfg, err = svc.HospitalConfig(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.ModeloIA)
	assert.Equal(t, 730, cfg.RetencaoDadosDias)

	doctor := scope
	doctor.Role = models.RoleMedico
	_, err = svc.UpdateHospitalConfig(ctx, doctor, models.HospitalConfig{})
	assert.ErrorIs(t, err, tenant.ErrForbidden)
}

func TestResolveScopeRefusesUnverifiedEmailBinding(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	hospital, err := svc.CreateHospital(ctx, "Hospital Oeste", "")
	require.NoError(t, err)
	doctor, err := svc.RegisterUser(ctx, RegisterUserInput{HospitalID: hospital.ID, Email: "medico@oeste.org", Role: models.RoleMedico, CRM: "CRM-PR 1"})
	require.NoError(t, err)

	_, _, err = svc.ResolveScope(ctx, "oidc|attacker", "medico@oeste.org", false)
	assert.ErrorIs(t, err, ErrUnknownSubject)
	assert.ErrorIs(t, err, tenant.ErrForbidden)

	stored, err := svc.GetUser(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Subject)

	scope, _, err := svc.ResolveScope(ctx, "oidc|medico", "medico@oeste.org", true)
	require.NoError(t, err)
	assert.Equal(t, doctor.ID, scope.UserID)
}

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configRequest(t *testing.T, router *mux.Router, scope tenant.Scope, method string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, "/hospital/config", bytes.NewReader(payload))
	req = req.WithContext(tenant.WithScope(req.Context(), scope))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHospitalConfigRoutes(t *testing.T) {
	svc := newTestService(t)
	router := mux.NewRouter()
	NewHandler(svc).Register(router)

	hospital := uuid.New()
	gestor := tenant.Scope{HospitalID: hospital, UserID: uuid.New(), Role: models.RoleGestor, CanViewAll: true}
	medico := tenant.Scope{HospitalID: hospital, UserID: uuid.New(), Role: models.RoleMedico}

	rec := configRequest(t, router, gestor, http.MethodPut, UpdateHospitalConfigRequest{
		ModeloIA:         "gpt-4o-mini",
		EstiloOrientacao: "Orientações curtas, linguagem simples.",
		AssinaturaRodape: "Hospital Central - Farmácia Clínica",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = configRequest(t, router, medico, http.MethodGet, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.HospitalConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "gpt-4o-mini", cfg.ModeloIA)
	assert.Equal(t, "Hospital Central - Farmácia Clínica", cfg.AssinaturaRodape)
	assert.Equal(t, DefaultRetencaoDias, cfg.RetencaoDadosDias)

	stored, err := svc.HospitalConfig(context.Background(), medico)
	require.NoError(t, err)
	assert.Equal(t, "Orientações curtas, linguagem simples.", stored.EstiloOrientacao)
}

func TestHospitalConfigUpdateRejects(t *testing.T) {
	svc := newTestService(t)
	router := mux.NewRouter()
	NewHandler(svc).Register(router)

	hospital := uuid.New()
	medico := tenant.Scope{HospitalID: hospital, UserID: uuid.New(), Role: models.RoleMedico}
	admin := tenant.Scope{HospitalID: hospital, UserID: uuid.New(), Role: models.RoleAdmin, CanViewAll: true}

	rec := configRequest(t, router, medico, http.MethodPut, UpdateHospitalConfigRequest{ModeloIA: "gpt-4o"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = configRequest(t, router, admin, http.MethodPut, UpdateHospitalConfigRequest{RetencaoDadosDias: 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cfg, err := svc.HospitalConfig(context.Background(), admin)
	require.NoError(t, err)
	assert.Empty(t, cfg.ModeloIA)
}

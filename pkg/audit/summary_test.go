package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryRequest(router *mux.Router, scope tenant.Scope, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/hospital/audit/summary"+query, nil)
	req = req.WithContext(tenant.WithScope(req.Context(), scope))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuditSummaryRoute(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	router := mux.NewRouter()
	NewHandler(recorder.Repository()).Register(router)

	medico := testScope()
	gestor := tenant.Scope{HospitalID: medico.HospitalID, UserID: uuid.New(), Role: models.RoleGestor, CanViewAll: true}
	other := tenant.Scope{HospitalID: uuid.New(), UserID: uuid.New(), Role: models.RoleMedico}

	input := models.AuditLog{Action: models.ActionInputReceived, InputData: map[string]interface{}{"sintomas": "tosse"}}
	override := models.AuditLog{Action: models.ActionManualOverride, ManualOverrideReason: "sem sugestão adequada"}
	for _, entry := range []models.AuditLog{input, input, override} {
		_, err := recorder.Record(context.Background(), medico, models.RequestMeta{}, entry)
		require.NoError(t, err)
	}
	_, err := recorder.Record(context.Background(), other, models.RequestMeta{}, input)
	require.NoError(t, err)

	rec := summaryRequest(router, gestor, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.PorAcao[models.ActionInputReceived])
	assert.Equal(t, int64(1), summary.PorAcao[models.ActionManualOverride])

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec = summaryRequest(router, gestor, "?since="+future)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Zero(t, summary.Total)

	assert.Equal(t, http.StatusBadRequest, summaryRequest(router, gestor, "?since=ontem").Code)
	assert.Equal(t, http.StatusForbidden, summaryRequest(router, medico, "").Code)
}

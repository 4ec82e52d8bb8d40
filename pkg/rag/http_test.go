package rag

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/knowledge"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAuditRecorder(t *testing.T) (*audit.Recorder, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := audit.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return audit.NewRecorder(repo, dlp.MustNewDetector(dlp.DefaultRules()), nil, "test"), db
}

func serve(t *testing.T, h *Handler, scope *tenant.Scope, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	h.Register(router, nil)

	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/prescribe", bytes.NewReader(payload))
	if scope != nil {
		req = req.WithContext(tenant.WithScope(req.Context(), *scope))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlePrescribeReturnsDraftAndAudits(t *testing.T) {
	f := newFixture(t, knowledge.PolicyStrict, models.HospitalConfig{})
	f.seed(t, "PCDT Amigdalite", []float32{1, 0, 0, 0})
	recorder, db := newAuditRecorder(t)

	rec := serve(t, NewHandler(f.service, recorder), &f.scope, models.PrescribeRequest{
		Symptoms:  "febre alta e dor de garganta há 3 dias",
		Diagnosis: "amigdalite",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var draft models.PrescriptionDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	require.Len(t, draft.Fontes, 1)
	assert.Equal(t, "pcdt-amigdalite", draft.Fontes[0].SourceID)

	var rows []audit.LogModel
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)
	byAction := map[string]audit.LogModel{}
	for _, row := range rows {
		byAction[row.Action] = row
		assert.Equal(t, f.scope.HospitalID, row.HospitalID)
		assert.True(t, row.LGPDCompliant)
	}
	require.Contains(t, byAction, models.ActionInputReceived)
	suggestion, ok := byAction[models.ActionAISuggestionGenerated]
	require.True(t, ok)
	assert.Equal(t, []string{"pcdt-amigdalite"}, []string(suggestion.SourceIDsUsed))
	assert.Equal(t, "gpt-4o-mini", suggestion.ModeloIA)
}

func TestHandlePrescribeErrors(t *testing.T) {
	f := newFixture(t, knowledge.PolicyStrict, models.HospitalConfig{})
	recorder, db := newAuditRecorder(t)
	h := NewHandler(f.service, recorder)

	rec := serve(t, h, &f.scope, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, &f.scope, models.PrescribeRequest{Symptoms: "febre"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, &f.scope, models.PrescribeRequest{Symptoms: "febre alta e dor de garganta"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(t, h, nil, models.PrescribeRequest{Symptoms: "febre alta e dor de garganta"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var count int64
	require.NoError(t, db.Model(&audit.LogModel{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, f.completer.calls)
}

func TestDraftMap(t *testing.T) {
	draft := &models.PrescriptionDraft{ResumoTecnicoMedico: []string{"x"}}
	out := DraftMap(draft)
	assert.Contains(t, out, "resumo_tecnico_medico")
}

package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, NewRepository(db).AutoMigrate())
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []map[string]interface{}
	err    error
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, data)
	return p.err
}

func testScope() tenant.Scope {
	return tenant.Scope{HospitalID: uuid.New(), UserID: uuid.New(), Role: models.RoleMedico}
}

func newRecorder(t *testing.T, publisher Publisher) (*Recorder, *gorm.DB) {
	db := openTestDB(t)
	return NewRecorder(NewRepository(db), dlp.MustNewDetector(dlp.DefaultRules()), publisher, "test"), db
}

func TestRecordStampsTenantAndCompliance(t *testing.T) {
	publisher := &recordingPublisher{}
	recorder, _ := newRecorder(t, publisher)
	scope := testScope()
	consultaID := uuid.New()

	entry, err := recorder.Record(context.Background(), scope, models.RequestMeta{IPAddress: "10.0.0.1", UserAgent: "curl"}, models.AuditLog{
		Action:     models.ActionInputReceived,
		ConsultaID: &consultaID,
		InputData:  map[string]interface{}{"sintomas": "febre há 3 dias"},
	})
	require.NoError(t, err)

	assert.Equal(t, scope.HospitalID, entry.HospitalID)
	assert.Equal(t, scope.UserID, entry.UserID)
	assert.True(t, entry.LGPDCompliant)
	assert.True(t, entry.ANVISACompliant)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, consultaID.String(), publisher.events[0]["consulta_id"])
	assert.NotContains(t, publisher.events[0], "input_data")

	trail, err := recorder.Repository().ListByConsulta(context.Background(), scope, consultaID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "febre há 3 dias", trail[0].InputData["sintomas"])

	other := testScope()
	trail, err = recorder.Repository().ListByConsulta(context.Background(), other, consultaID)
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestRecordRequiredFieldsPerAction(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	receitaID := uuid.New()
	cases := map[string]models.AuditLog{
		"input without data":         {Action: models.ActionInputReceived},
		"suggestion without payload": {Action: models.ActionAISuggestionGenerated},
		"edit without details":       {Action: models.ActionDoctorEdit},
		"override without reason":    {Action: models.ActionManualOverride, ManualOverrideReason: "  "},
		"finalized without receita":  {Action: models.ActionPrescriptionFinalized, FinalPrescription: map[string]interface{}{"medicamentos": []interface{}{}}},
		"finalized without payload":  {Action: models.ActionPrescriptionFinalized, ReceitaID: &receitaID},
		"pdf without hash":           {Action: models.ActionPDFGenerated},
		"pdf with bad hash":          {Action: models.ActionPDFGenerated, PDFHash: "abc"},
		"break glass unconfirmed":    {Action: models.ActionBreakGlassConfirmation},
		"unknown action":             {Action: "DELETED_EVERYTHING"},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{}, entry)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	var count int64
	require.NoError(t, recorder.Repository().db.Model(&LogModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordAcceptsPDFHash(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	_, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{}, models.AuditLog{
		Action:  models.ActionPDFGenerated,
		PDFHash: strings.Repeat("ab", 32),
	})
	require.NoError(t, err)
}

func TestRecordRejectsPII(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	cases := map[string]models.AuditLog{
		"pii key in input":     {Action: models.ActionInputReceived, InputData: map[string]interface{}{"nome_completo": "Maria"}},
		"cpf in input":         {Action: models.ActionInputReceived, InputData: map[string]interface{}{"sintomas": "cpf 123.456.789-00"}},
		"email in doctor edit": {Action: models.ActionDoctorEdit, DoctorEdit: map[string]interface{}{"prescricao": "enviar para maria@example.com"}},
		"phone in override":    {Action: models.ActionManualOverride, ManualOverrideReason: "ligar (11) 98765-4321"},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{}, entry)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.NotContains(t, validationErr.Error(), "123.456.789-00")
		})
	}
}

func TestRecordAllowsDrugNamesInPrescriptions(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	receitaID := uuid.New()
	_, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{}, models.AuditLog{
		Action:    models.ActionPrescriptionFinalized,
		ReceitaID: &receitaID,
		FinalPrescription: map[string]interface{}{
			"medicamentos": []interface{}{map[string]interface{}{"nome": "Amoxicilina", "posologia": "500mg 8/8h"}},
		},
	})
	require.NoError(t, err)
}

func TestEntriesAreImmutable(t *testing.T) {
	recorder, db := newRecorder(t, nil)
	entry, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{}, models.AuditLog{
		Action:               models.ActionManualOverride,
		ManualOverrideReason: "paciente transferido",
	})
	require.NoError(t, err)

	err = db.Model(&LogModel{}).Where("id = ?", entry.ID).Update("manual_override_reason", "x").Error
	assert.True(t, errors.Is(err, ErrImmutable))

	err = db.Where("id = ?", entry.ID).Delete(&LogModel{}).Error
	assert.True(t, errors.Is(err, ErrImmutable))

	var stored LogModel
	require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, "paciente transferido", stored.ManualOverrideReason)
}

func TestWithTxDefersPublishing(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	recorder, db := newRecorder(t, publisher)
	scope := testScope()

	var recorded []models.AuditLog
	err := db.Transaction(func(tx *gorm.DB) error {
		entry, err := recorder.WithTx(tx).Record(context.Background(), scope, models.RequestMeta{}, models.AuditLog{
			Action:              models.ActionBreakGlassConfirmation,
			BreakGlassConfirmed: true,
		})
		if err != nil {
			return err
		}
		recorded = append(recorded, *entry)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, publisher.events)

	recorder.Publish(context.Background(), recorded...)
	assert.Len(t, publisher.events, 1)
}

func TestCountByAction(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	scope := testScope()
	for i := 0; i < 2; i++ {
		_, err := recorder.Record(context.Background(), scope, models.RequestMeta{}, models.AuditLog{
			Action:    models.ActionInputReceived,
			InputData: map[string]interface{}{"sintomas": "tosse seca"},
		})
		require.NoError(t, err)
	}
	counts, err := recorder.Repository().CountByAction(context.Background(), scope.HospitalID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.ActionInputReceived])
}

func TestRecordTruncatesUserAgentOnRuneBoundary(t *testing.T) {
	recorder, _ := newRecorder(t, nil)
	agent := "x" + strings.Repeat("ç", 300)

	entry, err := recorder.Record(context.Background(), testScope(), models.RequestMeta{UserAgent: agent}, models.AuditLog{
		Action:    models.ActionInputReceived,
		InputData: map[string]interface{}{"sintomas": "cefaleia"},
	})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(entry.UserAgent))
	assert.Len(t, entry.UserAgent, 511)
	assert.True(t, strings.HasPrefix(agent, entry.UserAgent))
}

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compliantEntry() models.AuditLog {
	consulta := uuid.New()
	return models.AuditLog{
		ID:              uuid.New(),
		Action:          models.ActionInputReceived,
		HospitalID:      uuid.New(),
		UserID:          uuid.New(),
		ConsultaID:      &consulta,
		Timestamp:       time.Now(),
		LGPDCompliant:   true,
		ANVISACompliant: true,
	}
}

func TestViolationsAcceptsRecordedEntry(t *testing.T) {
	event := models.Event{Type: EventType, Data: EventData(compliantEntry())}
	assert.Empty(t, Violations(event))
}

func TestViolationsFlagsMissingCompliance(t *testing.T) {
	entry := compliantEntry()
	entry.ANVISACompliant = false
	data := EventData(entry)
	delete(data, "user_id")

	problems := Violations(models.Event{Type: EventType, Data: data})
	assert.ElementsMatch(t, []string{"missing user_id", "anvisa_compliant not set"}, problems)
}

func TestMonitorEventCountsViolations(t *testing.T) {
	unknown := metrics.AuditEventsViolations.WithLabelValues("unknown")
	input := metrics.AuditEventsViolations.WithLabelValues(models.ActionInputReceived)
	before, beforeInput := testutil.ToFloat64(unknown), testutil.ToFloat64(input)

	require.NoError(t, MonitorEvent(context.Background(), models.Event{Type: EventType, Data: map[string]interface{}{}}))
	assert.Equal(t, before+1, testutil.ToFloat64(unknown))

	require.NoError(t, MonitorEvent(context.Background(), models.Event{Type: "other", Data: map[string]interface{}{}}))
	require.NoError(t, MonitorEvent(context.Background(), models.Event{Type: EventType, Data: EventData(compliantEntry())}))
	assert.Equal(t, before+1, testutil.ToFloat64(unknown))
	assert.Equal(t, beforeInput, testutil.ToFloat64(input))
}

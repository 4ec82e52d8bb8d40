package audit

import (
	"context"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/sirupsen/logrus"
)

// Violations lists what is wrong with an audit event seen on the bus. An empty result means the
// event carries its identifiers and both compliance flags.
func Violations(event models.Event) []string {
	var problems []string
	for _, key := range []string{"audit_id", "action", "hospital_id", "user_id"} {
		if s, _ := event.Data[key].(string); s == "" {
			problems = append(problems, "missing "+key)
		}
	}
	for _, flag := range []string{"lgpd_compliant", "anvisa_compliant"} {
		if ok, _ := event.Data[flag].(bool); !ok {
			problems = append(problems, flag+" not set")
		}
	}
	return problems
}

// MonitorEvent is the audit-monitor consumer handler. Violations are logged and counted but the
// event is still acknowledged.
func MonitorEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventType {
		return nil
	}
	problems := Violations(event)
	if len(problems) == 0 {
		return nil
	}
	action, _ := event.Data["action"].(string)
	if action == "" {
		action = "unknown"
	}
	metrics.AuditEventsViolations.WithLabelValues(action).Inc()
	logger.Log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"source":     event.Source,
		"action":     action,
		"violations": problems,
	}).Warn("audit event failed compliance check")
	return nil
}

// Package audit keeps the append-only compliance trail of every prescription lifecycle event.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const EventType = "audit.recorded"

// ValidationError rejects an entry before it is persisted.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("audit %s: %s %s", e.Action, e.Field, e.Reason)
}

func (e *ValidationError) HTTPStatus() int { return http.StatusInternalServerError }

func (e *ValidationError) PublicMessage() string {
	return "Não foi possível registrar a trilha de auditoria."
}

// Publisher fans recorded entries out to the event bus. kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

var pdfHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

type Recorder struct {
	repo      *Repository
	detector  *dlp.Detector
	publisher Publisher
	source    string
	now       func() time.Time
}

func NewRecorder(repo *Repository, detector *dlp.Detector, publisher Publisher, source string) *Recorder {
	return &Recorder{repo: repo, detector: detector, publisher: publisher, source: source, now: time.Now}
}

// WithTx returns a recorder writing inside tx. It never publishes; call Publish after commit.
func (r *Recorder) WithTx(tx *gorm.DB) *Recorder {
	return &Recorder{repo: r.repo.WithTx(tx), detector: r.detector, source: r.source, now: r.now}
}

func (r *Recorder) Repository() *Repository { return r.repo }

// Record validates entry for its action kind, stamps tenant and compliance fields and appends it.
func (r *Recorder) Record(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, entry models.AuditLog) (*models.AuditLog, error) {
	if err := scope.Valid(); err != nil {
		return nil, err
	}
	entry.ID = uuid.New()
	entry.HospitalID = scope.HospitalID
	entry.UserID = scope.UserID
	entry.Timestamp = r.now().UTC()
	entry.IPAddress = meta.IPAddress
	entry.UserAgent = truncate(meta.UserAgent, 512)
	entry.SessionID = meta.SessionID

	if err := Validate(&entry); err != nil {
		return nil, err
	}
	if err := r.checkPII(&entry); err != nil {
		return nil, err
	}
	entry.LGPDCompliant = true
	entry.ANVISACompliant = true

	if err := r.repo.Append(ctx, &entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	if r.publisher != nil {
		r.Publish(ctx, entry)
	}
	return &entry, nil
}

// Publish emits committed entries. Publishing is best effort: the database row is the record.
func (r *Recorder) Publish(ctx context.Context, entries ...models.AuditLog) {
	if r.publisher == nil {
		return
	}
	for _, entry := range entries {
		if err := r.publisher.PublishEvent(ctx, EventType, r.source, EventData(entry)); err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"audit_id": entry.ID,
				"action":   entry.Action,
			}).Warn("audit event not published")
		}
	}
}

// EventData is the bus projection of an entry. It carries identifiers only, never payloads.
func EventData(entry models.AuditLog) map[string]interface{} {
	data := map[string]interface{}{
		"audit_id":         entry.ID.String(),
		"action":           entry.Action,
		"hospital_id":      entry.HospitalID.String(),
		"user_id":          entry.UserID.String(),
		"timestamp":        entry.Timestamp.Format(time.RFC3339Nano),
		"lgpd_compliant":   entry.LGPDCompliant,
		"anvisa_compliant": entry.ANVISACompliant,
	}
	if entry.ConsultaID != nil {
		data["consulta_id"] = entry.ConsultaID.String()
	}
	if entry.ReceitaID != nil {
		data["receita_id"] = entry.ReceitaID.String()
	}
	if entry.ManualOverrideReason != "" {
		data["manual_override"] = true
	}
	return data
}

// Validate enforces the required fields of each action kind.
func Validate(entry *models.AuditLog) error {
	missing := func(field string) error {
		return &ValidationError{Action: entry.Action, Field: field, Reason: "is required"}
	}

	switch entry.Action {
	case models.ActionInputReceived:
		if len(entry.InputData) == 0 {
			return missing("input_data")
		}
	case models.ActionAISuggestionGenerated:
		if len(entry.AISuggestion) == 0 {
			return missing("ai_suggestion")
		}
		if entry.ConfidenceScore != nil && (*entry.ConfidenceScore < 0 || *entry.ConfidenceScore > 1) {
			return &ValidationError{Action: entry.Action, Field: "confidence_score", Reason: "must be within [0,1]"}
		}
	case models.ActionDoctorEdit:
		if len(entry.DoctorEdit) == 0 {
			return missing("doctor_edit")
		}
	case models.ActionManualOverride:
		if strings.TrimSpace(entry.ManualOverrideReason) == "" {
			return missing("manual_override_reason")
		}
	case models.ActionPrescriptionFinalized:
		if len(entry.FinalPrescription) == 0 {
			return missing("final_prescription")
		}
		if entry.ReceitaID == nil || *entry.ReceitaID == uuid.Nil {
			return missing("receita_id")
		}
	case models.ActionPDFGenerated:
		if entry.PDFHash == "" {
			return missing("pdf_hash")
		}
		if !pdfHashPattern.MatchString(entry.PDFHash) {
			return &ValidationError{Action: entry.Action, Field: "pdf_hash", Reason: "must be a hex sha256 digest"}
		}
	case models.ActionBreakGlassConfirmation:
		if !entry.BreakGlassConfirmed {
			return &ValidationError{Action: entry.Action, Field: "break_glass_confirmed", Reason: "must be true"}
		}
	default:
		return &ValidationError{Action: entry.Action, Field: "action", Reason: "is not a known audit action"}
	}
	return nil
}

// checkPII rejects identifying data in the JSON fields. input_data is also checked for PII keys;
// prescription payloads legitimately use keys such as "nome" for drugs, so only patterns apply there.
func (r *Recorder) checkPII(entry *models.AuditLog) error {
	if result := r.detector.Detect(entry.InputData); result.Detected {
		return &ValidationError{Action: entry.Action, Field: "input_data", Reason: "contains identifying data: " + describe(result)}
	}
	payloads := []struct {
		field string
		data  map[string]interface{}
	}{
		{"ai_suggestion", entry.AISuggestion},
		{"doctor_edit", entry.DoctorEdit},
		{"final_prescription", entry.FinalPrescription},
	}
	for _, p := range payloads {
		if len(p.data) == 0 {
			continue
		}
		if result := r.detector.Detect(p.data); len(result.Positions) > 0 {
			return &ValidationError{Action: entry.Action, Field: p.field, Reason: "contains identifying data: " + describe(result)}
		}
	}
	if text := r.detector.SanitizeText(entry.ManualOverrideReason); text != entry.ManualOverrideReason {
		return &ValidationError{Action: entry.Action, Field: "manual_override_reason", Reason: "contains identifying data"}
	}
	return nil
}

func describe(result models.PHIDetectionResult) string {
	kinds := append(append([]string{}, result.PHITypes...), result.PIIKeys...)
	return strings.Join(kinds, ", ")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

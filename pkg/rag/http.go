package rag

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/gateway/middleware"
	"github.com/prescritto-ai/platform/pkg/gateway/respond"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

type Handler struct {
	service  *Service
	recorder *audit.Recorder
	validate *validator.Validate
}

func NewHandler(service *Service, recorder *audit.Recorder) *Handler {
	return &Handler{service: service, recorder: recorder, validate: validator.New()}
}

// Register mounts the prescribe route. limit, when set, wraps it.
func (h *Handler) Register(r *mux.Router, limit func(http.Handler) http.Handler) {
	var handler http.Handler = http.HandlerFunc(h.handlePrescribe)
	if limit != nil {
		handler = limit(handler)
	}
	r.Handle("/prescribe", handler).Methods(http.MethodPost)
}

func (h *Handler) handlePrescribe(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("prescribe", "-", "no scope on request"))
		return
	}

	var req models.PrescribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Requisição inválida.")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, &InputError{Field: "symptoms", Message: "O campo symptoms é obrigatório."})
		return
	}

	input := models.ClinicalInput{Sintomas: req.Symptoms, Diagnostico: req.Diagnosis, Historico: req.Historico}
	result, err := h.service.Prescribe(r.Context(), scope, input)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	if err := h.recordSuggestion(r, scope, result); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, result.Draft)
}

// recordSuggestion audits the sanitized input and the draft. A draft that cannot be audited is not
// returned.
func (h *Handler) recordSuggestion(r *http.Request, scope tenant.Scope, result *Result) error {
	meta := middleware.RequestMeta(r)
	if _, err := h.recorder.Record(r.Context(), scope, meta, models.AuditLog{
		Action:    models.ActionInputReceived,
		InputData: result.Sanitized.Fields(),
	}); err != nil {
		return err
	}

	confidence := result.Draft.ConfidenceScore
	entry, err := h.recorder.Record(r.Context(), scope, meta, models.AuditLog{
		Action:          models.ActionAISuggestionGenerated,
		AISuggestion:    DraftMap(result.Draft),
		SourceIDsUsed:   result.SourceIDs(),
		ConfidenceScore: &confidence,
		ModeloIA:        result.Model,
		PromptVersion:   result.PromptVersion,
	})
	if err != nil {
		return err
	}
	logger.Log.WithField("audit_id", entry.ID).Debug("ai suggestion audited")
	return nil
}

// DraftMap is the JSON object form of a draft as stored in audit payloads.
func DraftMap(draft *models.PrescriptionDraft) map[string]interface{} {
	data, err := json.Marshal(draft)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

package clinical

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/audit"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/prescritto-ai/platform/pkg/observability/metrics"
	"github.com/prescritto-ai/platform/pkg/rag"
	"github.com/prescritto-ai/platform/pkg/tenant"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DraftGenerator produces a grounded draft from raw clinical input. rag.Service satisfies it.
type DraftGenerator interface {
	Prescribe(ctx context.Context, scope tenant.Scope, input models.ClinicalInput) (*rag.Result, error)
}

type Service struct {
	repo     *Repository
	audit    *audit.Recorder
	detector *dlp.Detector
	drafts   DraftGenerator
	validate *validator.Validate
	now      func() time.Time
}

func NewService(repo *Repository, recorder *audit.Recorder, detector *dlp.Detector, drafts DraftGenerator) *Service {
	return &Service{
		repo:     repo,
		audit:    recorder,
		detector: detector,
		drafts:   drafts,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Service) Repository() *Repository { return s.repo }

// unit is one transaction: repository and recorder bound to the same tx, plus the audit entries
// to publish once it commits.
type unit struct {
	repo    *Repository
	audit   *audit.Recorder
	scope   tenant.Scope
	meta    models.RequestMeta
	entries []models.AuditLog
}

func (u *unit) record(ctx context.Context, entry models.AuditLog) error {
	saved, err := u.audit.Record(ctx, u.scope, u.meta, entry)
	if err != nil {
		return err
	}
	u.entries = append(u.entries, *saved)
	return nil
}

func (s *Service) transact(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, fn func(u *unit) error) error {
	var committed *unit
	err := s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u := &unit{repo: s.repo.WithTx(tx), audit: s.audit.WithTx(tx), scope: scope, meta: meta}
		if err := fn(u); err != nil {
			return err
		}
		committed = u
		return nil
	})
	if err != nil {
		return err
	}
	for _, entry := range committed.entries {
		metrics.AuditEntries.WithLabelValues(entry.Action).Inc()
	}
	s.audit.Publish(ctx, committed.entries...)
	return nil
}

// CanMutate reports whether the caller may act on the consulta: its attending doctor, or anyone
// with hospital-wide visibility.
func CanMutate(scope tenant.Scope, consulta models.Consulta) bool {
	return consulta.HospitalID == scope.HospitalID && (consulta.MedicoID == scope.UserID || scope.CanViewAll)
}

func badRequest(acao, msg string) error {
	return &TransitionError{Acao: acao, Status: http.StatusBadRequest, Message: msg}
}

func staleState(acao, from string) error {
	return conflict(acao, from, "A consulta foi alterada por outra requisição. Recarregue e tente novamente.")
}

// Apply runs one workflow action. Every state change and its audit entries commit together.
func (s *Service) Apply(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.WorkflowActionResponse{}, badRequest(req.Acao, "Informe a ação e a consulta.")
	}

	consulta, err := s.repo.GetConsulta(ctx, scope, req.ConsultaID)
	if err != nil {
		return models.WorkflowActionResponse{}, err
	}
	if !CanMutate(scope, consulta) {
		return models.WorkflowActionResponse{}, tenant.Deny("consulta", consulta.ID, "caller does not attend consulta")
	}

	if _, err := NextStatus(consulta.Status, req.Acao); err != nil {
		metrics.TransitionsRejected.WithLabelValues(req.Acao).Inc()
		return models.WorkflowActionResponse{}, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"consulta_id": consulta.ID,
		"acao":        req.Acao,
		"from":        consulta.Status,
	})

	var resp models.WorkflowActionResponse
	switch req.Acao {
	case models.AcaoGerarIA:
		resp, err = s.generateDraft(ctx, scope, meta, consulta, req)
	case models.AcaoSalvarEdicao:
		resp, err = s.saveEdit(ctx, scope, meta, consulta, req)
	case models.AcaoEditarMedicamento:
		resp, err = s.editMedication(ctx, scope, meta, consulta, req)
	case models.AcaoAvancarRevisao:
		resp, err = s.advanceToReview(ctx, scope, meta, consulta)
	case models.AcaoAssinarRevisao, models.AcaoFinalizarReceita:
		resp, err = s.sign(ctx, scope, meta, consulta, req)
	case models.AcaoArquivar:
		resp, err = s.archive(ctx, scope, meta, consulta, req)
	}
	if err != nil {
		var transitionErr *TransitionError
		if errors.As(err, &transitionErr) {
			metrics.TransitionsRejected.WithLabelValues(req.Acao).Inc()
		}
		log.WithError(err).Warn("workflow action failed")
		return models.WorkflowActionResponse{}, err
	}

	log.WithField("to", resp.Consulta.Status).Info("workflow action applied")
	return resp, nil
}

// generateDraft calls the model outside any transaction, then stores the draft as a new receita
// version together with the sanitized symptoms and chat history.
func (s *Service) generateDraft(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	result, err := s.drafts.Prescribe(ctx, scope, models.ClinicalInput{
		Sintomas:    req.Sintomas,
		Diagnostico: req.Diagnostico,
		Historico:   req.Historico,
	})
	if err != nil {
		return models.WorkflowActionResponse{}, err
	}

	draft := *result.Draft
	rendered := RenderPrescricao(draft)
	sintomas := result.Sanitized.Text("sintomas")

	var resp models.WorkflowActionResponse
	err = s.transact(ctx, scope, meta, func(u *unit) error {
		current, err := u.repo.GetConsulta(ctx, scope, consulta.ID)
		if err != nil {
			return err
		}
		if IsTerminal(current.Status) {
			return staleState(models.AcaoGerarIA, current.Status)
		}
		now := s.now().UTC()
		messages := append(current.ChatMessages,
			models.ChatMessage{Role: "user", Content: sintomas, CreatedAt: now},
			models.ChatMessage{Role: "assistant", Content: rendered, CreatedAt: now},
		)
		history := sintomas
		if strings.TrimSpace(current.Sintomas) != "" {
			history = current.Sintomas + "\n" + sintomas
		}

		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID, []string{current.Status}, models.ConsultaRascunhoSalvo, map[string]interface{}{
			"sintomas":      history,
			"analise_ia":    strings.Join(draft.ResumoTecnicoMedico, "\n"),
			"prescricao":    rendered,
			"chat_messages": chatMessages(messages),
		})
		if err != nil {
			return err
		}
		if !ok {
			return staleState(models.AcaoGerarIA, current.Status)
		}

		receita, err := u.repo.CreateReceita(ctx, current, draft, scope.UserID)
		if err != nil {
			return err
		}

		if err := u.record(ctx, models.AuditLog{
			Action:     models.ActionInputReceived,
			ConsultaID: &consulta.ID,
			InputData:  result.Sanitized.Fields(),
		}); err != nil {
			return err
		}
		confidence := draft.ConfidenceScore
		if err := u.record(ctx, models.AuditLog{
			Action:          models.ActionAISuggestionGenerated,
			ConsultaID:      &consulta.ID,
			ReceitaID:       &receita.ID,
			AISuggestion:    toMap(draft),
			SourceIDsUsed:   sourceIDs(draft),
			ConfidenceScore: &confidence,
			ModeloIA:        result.Model,
			PromptVersion:   result.PromptVersion,
		}); err != nil {
			return err
		}

		resp, err = s.response(ctx, u, scope, consulta.ID, &receita)
		return err
	})
	return resp, err
}

func (s *Service) saveEdit(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	text := strings.TrimSpace(req.Prescricao)
	if text == "" {
		return models.WorkflowActionResponse{}, unprocessable(req.Acao, consulta.Status, "Informe o texto da prescrição.")
	}

	var resp models.WorkflowActionResponse
	err := s.transact(ctx, scope, meta, func(u *unit) error {
		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID, nonTerminal, models.ConsultaRascunhoSalvo, map[string]interface{}{
			"prescricao": text,
		})
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, consulta.Status)
		}

		edit := map[string]interface{}{
			"campo_editado":  "prescricao",
			"valor_original": s.detector.SanitizeText(consulta.Prescricao),
			"valor_editado":  s.detector.SanitizeText(text),
		}
		if motivo := strings.TrimSpace(req.Motivo); motivo != "" {
			edit["motivo"] = s.detector.SanitizeText(motivo)
		}
		if err := u.record(ctx, models.AuditLog{
			Action:     models.ActionDoctorEdit,
			ConsultaID: &consulta.ID,
			DoctorEdit: edit,
		}); err != nil {
			return err
		}

		resp, err = s.response(ctx, u, scope, consulta.ID, nil)
		return err
	})
	return resp, err
}

// editMedication never mutates a stored receita: the edited draft becomes a new version.
func (s *Service) editMedication(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	if req.MedicamentoIndex == nil {
		return models.WorkflowActionResponse{}, unprocessable(req.Acao, consulta.Status, "Informe o medicamento a editar.")
	}
	edit := models.MedicationEdit{
		Index:  *req.MedicamentoIndex,
		Campo:  strings.TrimSpace(req.Campo),
		Valor:  strings.TrimSpace(req.Valor),
		Motivo: strings.TrimSpace(req.Motivo),
	}

	var resp models.WorkflowActionResponse
	err := s.transact(ctx, scope, meta, func(u *unit) error {
		// The conditional update takes the consulta row lock before the latest version is read.
		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID, nonTerminal, models.ConsultaRascunhoSalvo, nil)
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, consulta.Status)
		}

		latest, err := u.repo.LatestReceita(ctx, scope, consulta.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return unprocessable(req.Acao, consulta.Status, "Gere uma sugestão antes de editar medicamentos.")
		}
		if err != nil {
			return err
		}

		draft, original, err := s.applyEdit(latest.JSONContent, edit, consulta.Status)
		if err != nil {
			return err
		}

		current, err := u.repo.GetConsulta(ctx, scope, consulta.ID)
		if err != nil {
			return err
		}
		receita, err := u.repo.CreateReceita(ctx, current, draft, scope.UserID)
		if err != nil {
			return err
		}
		ok, err = u.repo.TransitionConsulta(ctx, scope, consulta.ID, []string{models.ConsultaRascunhoSalvo}, models.ConsultaRascunhoSalvo, map[string]interface{}{
			"prescricao": RenderPrescricao(draft),
		})
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, current.Status)
		}

		doctorEdit := map[string]interface{}{
			"medicamento_index": edit.Index,
			"campo_editado":     edit.Campo,
			"valor_original":    s.detector.SanitizeText(original),
			"valor_editado":     s.detector.SanitizeText(edit.Valor),
		}
		if edit.Motivo != "" {
			doctorEdit["motivo"] = s.detector.SanitizeText(edit.Motivo)
		}
		if err := u.record(ctx, models.AuditLog{
			Action:     models.ActionDoctorEdit,
			ConsultaID: &consulta.ID,
			ReceitaID:  &receita.ID,
			DoctorEdit: doctorEdit,
		}); err != nil {
			return err
		}

		resp, err = s.response(ctx, u, scope, consulta.ID, &receita)
		return err
	})
	return resp, err
}

// applyEdit returns a copy of draft with one medication field replaced, and the previous value.
func (s *Service) applyEdit(draft models.PrescriptionDraft, edit models.MedicationEdit, from string) (models.PrescriptionDraft, string, error) {
	reject := func(msg string) (models.PrescriptionDraft, string, error) {
		return draft, "", unprocessable(models.AcaoEditarMedicamento, from, msg)
	}
	if edit.Index < 0 || edit.Index >= len(draft.Medicamentos) {
		return reject(fmt.Sprintf("Medicamento %d não existe na receita.", edit.Index))
	}
	meds := make([]models.Medication, len(draft.Medicamentos))
	copy(meds, draft.Medicamentos)
	draft.Medicamentos = meds

	field, ok := medicationField(&draft.Medicamentos[edit.Index], edit.Campo)
	if !ok {
		return reject(fmt.Sprintf("Campo %q não pode ser editado.", edit.Campo))
	}
	original := *field
	*field = edit.Valor

	if err := s.validate.Struct(draft); err != nil {
		return reject(fmt.Sprintf("A receita editada é inválida: o campo %s é obrigatório.", edit.Campo))
	}
	return draft, original, nil
}

func (s *Service) advanceToReview(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta) (models.WorkflowActionResponse, error) {
	var resp models.WorkflowActionResponse
	err := s.transact(ctx, scope, meta, func(u *unit) error {
		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID,
			[]string{models.ConsultaRascunhoSalvo, models.ConsultaEmRevisao}, models.ConsultaEmRevisao, nil)
		if err != nil {
			return err
		}
		if !ok {
			return staleState(models.AcaoAvancarRevisao, consulta.Status)
		}
		resp, err = s.response(ctx, u, scope, consulta.ID, nil)
		return err
	})
	return resp, err
}

// sign finalizes the latest receita. The consulta transition, the signature and the audit entries
// commit atomically; events are published only after commit.
func (s *Service) sign(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	if scope.Role != models.RoleMedico {
		return models.WorkflowActionResponse{}, tenant.Deny("consulta", consulta.ID, "only doctors sign prescriptions")
	}
	if err := CheckConfirmations(req.Acao, consulta.Status, req.Confirmacoes); err != nil {
		return models.WorkflowActionResponse{}, err
	}

	var resp models.WorkflowActionResponse
	err := s.transact(ctx, scope, meta, func(u *unit) error {
		latest, err := u.repo.LatestReceita(ctx, scope, consulta.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return unprocessable(req.Acao, consulta.Status, "Não há receita para assinar.")
		}
		if err != nil {
			return err
		}

		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID, []string{models.ConsultaEmRevisao}, models.ConsultaAssinada, nil)
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, consulta.Status)
		}
		signedAt := s.now().UTC()
		ok, err = u.repo.SignReceita(ctx, scope, latest.ID, signedAt)
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, consulta.Status)
		}
		latest.Status = models.ReceitaAssinada
		latest.SignedAt = &signedAt

		if reason := strings.TrimSpace(req.ManualOverrideReason); reason != "" {
			if err := u.record(ctx, models.AuditLog{
				Action:               models.ActionManualOverride,
				ConsultaID:           &consulta.ID,
				ReceitaID:            &latest.ID,
				ManualOverrideReason: s.detector.SanitizeText(reason),
			}); err != nil {
				return err
			}
		}
		if err := u.record(ctx, models.AuditLog{
			Action:              models.ActionBreakGlassConfirmation,
			ConsultaID:          &consulta.ID,
			ReceitaID:           &latest.ID,
			BreakGlassConfirmed: true,
		}); err != nil {
			return err
		}
		confidence := latest.JSONContent.ConfidenceScore
		if err := u.record(ctx, models.AuditLog{
			Action:            models.ActionPrescriptionFinalized,
			ConsultaID:        &consulta.ID,
			ReceitaID:         &latest.ID,
			FinalPrescription: toMap(latest.JSONContent),
			SourceIDsUsed:     sourceIDs(latest.JSONContent),
			ConfidenceScore:   &confidence,
		}); err != nil {
			return err
		}

		resp, err = s.response(ctx, u, scope, consulta.ID, &latest)
		return err
	})
	if err != nil {
		return models.WorkflowActionResponse{}, err
	}
	metrics.PrescriptionsSigned.Inc()
	return resp, nil
}

func (s *Service) archive(ctx context.Context, scope tenant.Scope, meta models.RequestMeta, consulta models.Consulta, req models.WorkflowActionRequest) (models.WorkflowActionResponse, error) {
	if !scope.HasRole(models.RoleGestor, models.RoleAdmin) {
		return models.WorkflowActionResponse{}, tenant.Deny("consulta", consulta.ID, "archive requires GESTOR or ADMIN")
	}
	motivo := strings.TrimSpace(req.Motivo)
	if motivo == "" {
		return models.WorkflowActionResponse{}, unprocessable(req.Acao, consulta.Status, "Informe o motivo do arquivamento.")
	}

	var resp models.WorkflowActionResponse
	err := s.transact(ctx, scope, meta, func(u *unit) error {
		ok, err := u.repo.TransitionConsulta(ctx, scope, consulta.ID, nonTerminal, models.ConsultaArquivada, nil)
		if err != nil {
			return err
		}
		if !ok {
			return staleState(req.Acao, consulta.Status)
		}
		if err := u.record(ctx, models.AuditLog{
			Action:               models.ActionManualOverride,
			ConsultaID:           &consulta.ID,
			ManualOverrideReason: "Arquivamento: " + s.detector.SanitizeText(motivo),
		}); err != nil {
			return err
		}
		resp, err = s.response(ctx, u, scope, consulta.ID, nil)
		return err
	})
	return resp, err
}

func (s *Service) response(ctx context.Context, u *unit, scope tenant.Scope, consultaID uuid.UUID, receita *models.Receita) (models.WorkflowActionResponse, error) {
	consulta, err := u.repo.GetConsulta(ctx, scope, consultaID)
	if err != nil {
		return models.WorkflowActionResponse{}, err
	}
	return models.WorkflowActionResponse{Consulta: consulta, Receita: receita}, nil
}

func (s *Service) CreatePaciente(ctx context.Context, scope tenant.Scope, req models.CreatePacienteRequest) (models.Paciente, error) {
	req.NomeCompleto = strings.TrimSpace(req.NomeCompleto)
	if err := s.validate.Struct(req); err != nil {
		return models.Paciente{}, badRequest("criar_paciente", "Informe o nome completo do paciente.")
	}
	if req.MedicoResponsavelID != nil && scope.Role == models.RoleMedico && !scope.CanViewAll && *req.MedicoResponsavelID != scope.UserID {
		return models.Paciente{}, tenant.Deny("paciente", "-", "restricted doctor assigning another doctor")
	}
	return s.repo.CreatePaciente(ctx, scope, req)
}

func (s *Service) ListPacientes(ctx context.Context, scope tenant.Scope, limit int) ([]models.Paciente, error) {
	return s.repo.ListPacientes(ctx, scope, limit)
}

func (s *Service) GetPaciente(ctx context.Context, scope tenant.Scope, id uuid.UUID) (models.Paciente, error) {
	return s.repo.GetPaciente(ctx, scope, id)
}

func (s *Service) StartConsulta(ctx context.Context, scope tenant.Scope, req models.StartConsultaRequest) (models.Consulta, error) {
	if req.PacienteID == uuid.Nil {
		return models.Consulta{}, badRequest("iniciar_consulta", "Informe o paciente.")
	}
	if scope.Role != models.RoleMedico {
		return models.Consulta{}, tenant.Deny("consulta", "-", "only doctors start consultas")
	}
	return s.repo.CreateConsulta(ctx, scope, req.PacienteID)
}

func (s *Service) ListConsultas(ctx context.Context, scope tenant.Scope, filter ConsultaFilter) ([]models.Consulta, error) {
	return s.repo.ListConsultas(ctx, scope, filter)
}

func (s *Service) GetConsulta(ctx context.Context, scope tenant.Scope, id uuid.UUID) (models.Consulta, error) {
	return s.repo.GetConsulta(ctx, scope, id)
}

func (s *Service) ListReceitas(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) ([]models.Receita, error) {
	if _, err := s.repo.GetConsulta(ctx, scope, consultaID); err != nil {
		return nil, err
	}
	return s.repo.ListReceitas(ctx, scope, consultaID)
}

// LatestReceita returns the consulta and its newest receita after the visibility check.
func (s *Service) LatestReceita(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) (models.Consulta, models.Receita, error) {
	consulta, err := s.repo.GetConsulta(ctx, scope, consultaID)
	if err != nil {
		return models.Consulta{}, models.Receita{}, err
	}
	receita, err := s.repo.LatestReceita(ctx, scope, consultaID)
	if err != nil {
		return models.Consulta{}, models.Receita{}, err
	}
	return consulta, receita, nil
}

func (s *Service) AuditTrail(ctx context.Context, scope tenant.Scope, consultaID uuid.UUID) ([]models.AuditLog, error) {
	if _, err := s.repo.GetConsulta(ctx, scope, consultaID); err != nil {
		return nil, err
	}
	return s.audit.Repository().ListByConsulta(ctx, scope, consultaID)
}

func chatMessages(messages []models.ChatMessage) datatypes.JSONSlice[models.ChatMessage] {
	return datatypes.JSONSlice[models.ChatMessage](messages)
}

package clinical

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/gateway/middleware"
	"github.com/prescritto-ai/platform/pkg/gateway/respond"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the patient, consulta and workflow routes. limit, when set, wraps the workflow
// route.
func (h *Handler) Register(r *mux.Router, limit func(http.Handler) http.Handler) {
	r.HandleFunc("/pacientes", h.handleCreatePaciente).Methods(http.MethodPost)
	r.HandleFunc("/pacientes", h.handleListPacientes).Methods(http.MethodGet)
	r.HandleFunc("/pacientes/{id}", h.handleGetPaciente).Methods(http.MethodGet)
	r.HandleFunc("/consultas", h.handleStartConsulta).Methods(http.MethodPost)
	r.HandleFunc("/consultas", h.handleListConsultas).Methods(http.MethodGet)
	r.HandleFunc("/consultas/{id}", h.handleGetConsulta).Methods(http.MethodGet)
	r.HandleFunc("/consultas/{id}/receitas", h.handleListReceitas).Methods(http.MethodGet)
	r.HandleFunc("/consultas/{id}/audit", h.handleAuditTrail).Methods(http.MethodGet)

	var workflow http.Handler = http.HandlerFunc(h.handleWorkflow)
	if limit != nil {
		workflow = limit(workflow)
	}
	r.Handle("/workflow", workflow).Methods(http.MethodPost)
}

func (h *Handler) handleCreatePaciente(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	var req models.CreatePacienteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Requisição inválida.")
		return
	}
	paciente, err := h.service.CreatePaciente(r.Context(), scope, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]interface{}{"paciente": paciente})
}

func (h *Handler) handleListPacientes(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	pacientes, err := h.service.ListPacientes(r.Context(), scope, parseLimit(r, 50))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"items": pacientes})
}

func (h *Handler) handleGetPaciente(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	paciente, err := h.service.GetPaciente(r.Context(), scope, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"paciente": paciente})
}

func (h *Handler) handleStartConsulta(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	var req models.StartConsultaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Requisição inválida.")
		return
	}
	consulta, err := h.service.StartConsulta(r.Context(), scope, req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]interface{}{"consulta": consulta})
}

func (h *Handler) handleListConsultas(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	filter := ConsultaFilter{Status: r.URL.Query().Get("status"), Limit: parseLimit(r, 50)}
	if raw := r.URL.Query().Get("paciente_id"); raw != "" {
		pacienteID, err := uuid.Parse(raw)
		if err != nil {
			respond.Message(w, http.StatusBadRequest, "paciente_id inválido.")
			return
		}
		filter.PacienteID = &pacienteID
	}
	consultas, err := h.service.ListConsultas(r.Context(), scope, filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"items": consultas})
}

func (h *Handler) handleGetConsulta(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	consulta, err := h.service.GetConsulta(r.Context(), scope, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"consulta": consulta})
}

func (h *Handler) handleListReceitas(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	receitas, err := h.service.ListReceitas(r.Context(), scope, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"items": receitas})
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), scope, id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func (h *Handler) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r)
	if !ok {
		return
	}
	var req models.WorkflowActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Requisição inválida.")
		return
	}
	resp, err := h.service.Apply(r.Context(), scope, middleware.RequestMeta(r), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, resp)
}

func requireScope(w http.ResponseWriter, r *http.Request) (tenant.Scope, bool) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("request", r.URL.Path, "no scope on request"))
		return tenant.Scope{}, false
	}
	return scope, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respond.Message(w, http.StatusBadRequest, "Identificador inválido.")
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

package identity

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/gateway/respond"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

// UpdateHospitalConfigRequest is the body of PUT /hospital/config. Omitted text fields are cleared.
type UpdateHospitalConfigRequest struct {
	ModeloIA          string `json:"modelo_ia" validate:"max=100"`
	EstiloOrientacao  string `json:"estilo_orientacao" validate:"max=2000"`
	AssinaturaRodape  string `json:"assinatura_rodape" validate:"max=500"`
	RetencaoDadosDias int    `json:"retencao_dados_dias" validate:"gte=0,lte=3650"`
}

type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Register mounts the hospital settings routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/hospital/config", h.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/hospital/config", h.handleUpdateConfig).Methods(http.MethodPut)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("hospital_config", "-", "no scope on request"))
		return
	}
	cfg, err := h.service.HospitalConfig(r.Context(), scope)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("hospital_config", "-", "no scope on request"))
		return
	}
	var req UpdateHospitalConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Requisição inválida.")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Message(w, http.StatusBadRequest, "Configuração inválida.")
		return
	}

	cfg, err := h.service.UpdateHospitalConfig(r.Context(), scope, models.HospitalConfig{
		ModeloIA:          req.ModeloIA,
		EstiloOrientacao:  req.EstiloOrientacao,
		AssinaturaRodape:  req.AssinaturaRodape,
		RetencaoDadosDias: req.RetencaoDadosDias,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, cfg)
}

package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/gateway/respond"
	"github.com/prescritto-ai/platform/pkg/tenant"
)

const defaultSummaryWindow = 30 * 24 * time.Hour

// Summary is a hospital's audit activity grouped by action.
type Summary struct {
	HospitalID string           `json:"hospital_id"`
	Since      time.Time        `json:"since"`
	Total      int64            `json:"total"`
	PorAcao    map[string]int64 `json:"por_acao"`
}

// Summarize counts the scope's hospital entries since the given time. Managers only.
func (r *Repository) Summarize(ctx context.Context, scope tenant.Scope, since time.Time) (*Summary, error) {
	if !scope.HasRole(models.RoleGestor, models.RoleAdmin) {
		return nil, tenant.Deny("audit_summary", scope.HospitalID, "role "+scope.Role+" cannot read audit summary")
	}
	counts, err := r.CountByAction(ctx, scope.HospitalID, since)
	if err != nil {
		return nil, err
	}
	summary := &Summary{HospitalID: scope.HospitalID.String(), Since: since.UTC(), PorAcao: counts}
	for _, n := range counts {
		summary.Total += n
	}
	return summary, nil
}

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/hospital/audit/summary", h.handleSummary).Methods(http.MethodGet)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("audit_summary", "-", "no scope on request"))
		return
	}
	since := time.Now().UTC().Add(-defaultSummaryWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respond.Message(w, http.StatusBadRequest, "Parâmetro since inválido.")
			return
		}
		since = parsed
	}
	summary, err := h.repo.Summarize(r.Context(), scope, since)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, summary)
}

package export

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prescritto-ai/platform/pkg/common/logger"
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

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/consultas/{id}/receita.pdf", h.handleExport).Methods(http.MethodGet)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		respond.Error(w, r, tenant.Deny("receita.pdf", "-", "no scope on request"))
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respond.Message(w, http.StatusBadRequest, "Identificador inválido.")
		return
	}

	doc, err := h.service.Export(r.Context(), scope, middleware.RequestMeta(r), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Bytes)))
	w.Header().Set("X-Content-SHA256", doc.Hash)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Bytes); err != nil {
		logger.Log.WithError(err).Warn("failed to write pdf response")
	}
}

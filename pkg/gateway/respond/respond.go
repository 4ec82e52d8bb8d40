// Package respond writes JSON bodies and maps domain errors onto HTTP statuses without leaking
// internal error text.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"gorm.io/gorm"
)

// StatusError is implemented by every domain error that knows how to present itself.
type StatusError interface {
	error
	HTTPStatus() int
	PublicMessage() string
}

func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Error logs err server-side and writes its public form.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := Classify(err)
	entry := logger.Log.WithError(err).WithField("status", status)
	if r != nil {
		entry = entry.WithField("path", r.URL.Path)
	}
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	Message(w, status, msg)
}

func Classify(err error) (int, string) {
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus(), statusErr.PublicMessage()
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, "Registro não encontrado."
	}
	return http.StatusInternalServerError, "Erro interno. Tente novamente."
}

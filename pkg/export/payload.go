// Package export renders signed prescriptions to PDF.
package export

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prescritto-ai/platform/pkg/common/models"
)

const fallbackPatientName = "Paciente Não Identificado"

// NotSignedError is returned when a PDF is requested for a prescription that is not signed yet.
type NotSignedError struct {
	Status string
}

func (e *NotSignedError) Error() string {
	return fmt.Sprintf("prescription not signed (status %s)", e.Status)
}

func (e *NotSignedError) HTTPStatus() int { return http.StatusConflict }

func (e *NotSignedError) PublicMessage() string {
	return "A receita só pode ser exportada após a assinatura."
}

type Item struct {
	Nome    string `json:"nome"`
	Dosagem string `json:"dosagem"`
	Uso     string `json:"uso"`
}

// Payload is everything the renderer consumes.
type Payload struct {
	PacienteNome string    `json:"paciente_nome"`
	Medicamentos []Item    `json:"medicamentos"`
	Observacoes  string    `json:"observacoes"`
	Rodape       string    `json:"rodape,omitempty"`
	AssinadaEm   time.Time `json:"assinada_em"`
}

// BuildPayload derives the printable prescription from a signed receita.
func BuildPayload(paciente models.Paciente, receita models.Receita, cfg models.HospitalConfig) (Payload, error) {
	if receita.Status != models.ReceitaAssinada || receita.SignedAt == nil {
		return Payload{}, &NotSignedError{Status: receita.Status}
	}

	draft := receita.JSONContent
	items := make([]Item, 0, len(draft.Medicamentos))
	for _, med := range draft.Medicamentos {
		items = append(items, Item{
			Nome:    strings.TrimSpace(med.Nome),
			Dosagem: joinNonEmpty(" - ", med.Concentracao, med.Posologia),
			Uso:     joinNonEmpty(", ", "via "+med.Via, med.Frequencia, duration(med.Duracao), med.Observacoes),
		})
	}

	nome := strings.TrimSpace(paciente.NomeCompleto)
	if nome == "" {
		nome = fallbackPatientName
	}

	var obs []string
	obs = append(obs, draft.OrientacoesAoPaciente...)
	for _, alerta := range draft.AlertasSeguranca {
		obs = append(obs, "Atenção: "+alerta)
	}

	return Payload{
		PacienteNome: nome,
		Medicamentos: items,
		Observacoes:  strings.Join(obs, "\n"),
		Rodape:       strings.TrimSpace(cfg.AssinaturaRodape),
		AssinadaEm:   receita.SignedAt.UTC(),
	}, nil
}

func duration(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		return ""
	}
	return "por " + d
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "via" {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, sep)
}

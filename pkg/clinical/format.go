package clinical

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prescritto-ai/platform/pkg/common/models"
)

// medicationField resolves the JSON name of an editable Medication field.
func medicationField(m *models.Medication, campo string) (*string, bool) {
	switch campo {
	case "nome":
		return &m.Nome, true
	case "principio_ativo":
		return &m.PrincipioAtivo, true
	case "forma":
		return &m.Forma, true
	case "concentracao":
		return &m.Concentracao, true
	case "posologia":
		return &m.Posologia, true
	case "via":
		return &m.Via, true
	case "frequencia":
		return &m.Frequencia, true
	case "duracao":
		return &m.Duracao, true
	case "observacoes":
		return &m.Observacoes, true
	case "ajustes":
		return &m.Ajustes, true
	}
	return nil, false
}

// RenderPrescricao is the plain-text form kept on the consulta for manual editing.
func RenderPrescricao(draft models.PrescriptionDraft) string {
	var b strings.Builder
	for i, med := range draft.Medicamentos {
		fmt.Fprintf(&b, "%d. %s %s (%s) - %s, via %s, %s, por %s\n",
			i+1, med.Nome, med.Concentracao, med.Forma, med.Posologia, med.Via, med.Frequencia, med.Duracao)
		if med.Observacoes != "" {
			fmt.Fprintf(&b, "   Obs.: %s\n", med.Observacoes)
		}
	}
	if len(draft.OrientacoesAoPaciente) > 0 {
		b.WriteString("\nOrientações:\n")
		for _, o := range draft.OrientacoesAoPaciente {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func toMap(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func sourceIDs(draft models.PrescriptionDraft) []string {
	ids := make([]string, 0, len(draft.Fontes))
	for _, f := range draft.Fontes {
		ids = append(ids, f.SourceID)
	}
	return ids
}

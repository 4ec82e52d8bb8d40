package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prescritto-ai/platform/pkg/common/models"
)

var validate = validator.New()

var (
	draftKeys = []string{
		"resumo_tecnico_medico",
		"orientacoes_ao_paciente",
		"medicamentos",
		"alertas_seguranca",
		"monitorizacao",
		"fontes",
	}
	medicationKeys = []string{
		"nome",
		"principio_ativo",
		"forma",
		"concentracao",
		"posologia",
		"via",
		"frequencia",
		"duracao",
	}
	optionalMedicationKeys = []string{"observacoes", "ajustes"}
)

func stringArray() map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
}

// DraftSchema is the strict JSON schema sent as response_format. Strict mode requires every
// property to be listed as required, so optional medication fields are nullable instead.
func DraftSchema() map[string]interface{} {
	medProps := map[string]interface{}{}
	for _, key := range medicationKeys {
		medProps[key] = map[string]interface{}{"type": "string"}
	}
	for _, key := range optionalMedicationKeys {
		medProps[key] = map[string]interface{}{"type": []string{"string", "null"}}
	}

	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"required":             draftKeys,
		"properties": map[string]interface{}{
			"resumo_tecnico_medico":   stringArray(),
			"orientacoes_ao_paciente": stringArray(),
			"alertas_seguranca":       stringArray(),
			"monitorizacao":           stringArray(),
			"medicamentos": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": false,
					"required":             append(append([]string{}, medicationKeys...), optionalMedicationKeys...),
					"properties":           medProps,
				},
			},
			"fontes": stringArray(),
		},
	}
}

// ParseDraft decodes model output into a PrescriptionDraft. Missing or extra keys, an empty
// medication list or a blank required medication field fail the whole draft.
func ParseDraft(raw string) (*models.PrescriptionDraft, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &Error{Reason: "empty model output"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, &Error{Reason: "model output is not a JSON object", Raw: raw, Err: err}
	}
	if err := checkKeys("draft", top, draftKeys, nil); err != nil {
		return nil, &Error{Reason: err.Error(), Raw: raw}
	}

	var meds []map[string]json.RawMessage
	if err := json.Unmarshal(top["medicamentos"], &meds); err != nil {
		return nil, &Error{Reason: "medicamentos is not a list of objects", Raw: raw, Err: err}
	}
	if len(meds) == 0 {
		return nil, &Error{Reason: "medicamentos is empty", Raw: raw}
	}
	for i, med := range meds {
		if err := checkKeys(fmt.Sprintf("medicamentos[%d]", i), med, medicationKeys, optionalMedicationKeys); err != nil {
			return nil, &Error{Reason: err.Error(), Raw: raw}
		}
	}

	// Model citations are never trusted; AttachSources fills them from retrieval.
	delete(top, "fontes")
	body, err := json.Marshal(top)
	if err != nil {
		return nil, &Error{Reason: "re-encode model output", Raw: raw, Err: err}
	}

	var draft models.PrescriptionDraft
	if err := json.Unmarshal(body, &draft); err != nil {
		return nil, &Error{Reason: "model output does not match the draft types", Raw: raw, Err: err}
	}
	normalize(&draft)

	if err := validate.Struct(draft); err != nil {
		return nil, &Error{Reason: "draft failed validation", Raw: raw, Err: err}
	}
	return &draft, nil
}

func checkKeys(path string, obj map[string]json.RawMessage, required, optional []string) error {
	var missing []string
	for _, key := range required {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s missing keys: %s", path, strings.Join(missing, ", "))
	}

	allowed := make(map[string]struct{}, len(required)+len(optional))
	for _, key := range required {
		allowed[key] = struct{}{}
	}
	for _, key := range optional {
		allowed[key] = struct{}{}
	}
	var extra []string
	for key := range obj {
		if _, ok := allowed[key]; !ok {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("%s unexpected keys: %s", path, strings.Join(extra, ", "))
	}
	return nil
}

func normalize(draft *models.PrescriptionDraft) {
	for i := range draft.Medicamentos {
		m := &draft.Medicamentos[i]
		for _, field := range []*string{&m.Nome, &m.PrincipioAtivo, &m.Forma, &m.Concentracao, &m.Posologia, &m.Via, &m.Frequencia, &m.Duracao, &m.Observacoes, &m.Ajustes} {
			*field = strings.TrimSpace(*field)
		}
	}
	draft.ResumoTecnicoMedico = compact(draft.ResumoTecnicoMedico)
	draft.OrientacoesAoPaciente = compact(draft.OrientacoesAoPaciente)
	draft.AlertasSeguranca = compact(draft.AlertasSeguranca)
	draft.Monitorizacao = compact(draft.Monitorizacao)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AttachSources replaces whatever the model cited with the retrieved documents and sets the
// draft's confidence to their mean similarity.
func AttachSources(draft *models.PrescriptionDraft, docs []models.ScoredItem) {
	draft.Fontes = make([]models.SourceRef, 0, len(docs))
	var total float64
	for _, doc := range docs {
		score := clamp(doc.Similarity)
		sourceID := doc.SourceID
		if sourceID == "" {
			sourceID = doc.ID.String()
		}
		draft.Fontes = append(draft.Fontes, models.SourceRef{
			SourceID:        sourceID,
			SourceType:      doc.SourceType,
			Title:           doc.SourceTitle,
			ConfidenceScore: score,
		})
		total += score
	}
	draft.ConfidenceScore = 0
	if len(docs) > 0 {
		draft.ConfidenceScore = total / float64(len(docs))
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

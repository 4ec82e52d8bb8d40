// Package generator turns a sanitized clinical context and retrieved protocols into a validated
// prescription draft.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/prescritto-ai/platform/pkg/common/models"
	"github.com/prescritto-ai/platform/pkg/dlp"
	"github.com/sirupsen/logrus"
)

const noContextPlaceholder = "Nenhum protocolo clínico relevante foi encontrado na base de conhecimento. " +
	"Indique explicitamente nos alertas de segurança que a sugestão não possui fundamentação documental."

const systemPrompt = `Você é um assistente médico especializado em gerar rascunhos de prescrição baseados em protocolos clínicos oficiais.

IMPORTANTE:
- Você é uma ferramenta de APOIO à decisão. O médico é sempre o responsável final.
- Baseie-se APENAS nas fontes fornecidas no contexto.
- Se não houver informação suficiente no contexto, indique isso claramente nos alertas de segurança.
- Não inclua dados pessoais do paciente.
- Retorne somente JSON válido conforme o schema.`

type Options struct {
	Model            string
	EstiloOrientacao string
}

type Generator struct {
	completer    Completer
	defaultModel string
}

func New(completer Completer, defaultModel string) *Generator {
	return &Generator{completer: completer, defaultModel: defaultModel}
}

// Generate accepts only a dlp.Sanitized context, so nothing unsanitized can reach the model.
func (g *Generator) Generate(ctx context.Context, sanitized dlp.Sanitized, docs []models.ScoredItem, opts Options) (*models.PrescriptionDraft, error) {
	model := opts.Model
	if model == "" {
		model = g.defaultModel
	}

	userPrompt, err := BuildUserPrompt(sanitized, docs, opts.EstiloOrientacao)
	if err != nil {
		return nil, &Error{Reason: "build prompt", Err: err}
	}

	raw, err := g.completer.Complete(ctx, model, systemPrompt, userPrompt, DraftSchema())
	if err != nil {
		return nil, err
	}

	draft, err := ParseDraft(raw)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"model": model,
			"raw":   truncate(raw, 2000),
		}).WithError(err).Error("model output rejected")
		return nil, err
	}

	AttachSources(draft, docs)
	return draft, nil
}

// BuildUserPrompt renders the sanitized context and the numbered grounding documents.
func BuildUserPrompt(sanitized dlp.Sanitized, docs []models.ScoredItem, estilo string) (string, error) {
	contextJSON, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Com base no contexto clínico abaixo, e usando APENAS as fontes fornecidas, gere um rascunho de prescrição estruturado.\n\n")
	b.WriteString("CONTEXTO CLÍNICO:\n")
	b.Write(contextJSON)
	b.WriteString("\n\nFONTES CONSULTADAS:\n")
	if len(docs) == 0 {
		b.WriteString(noContextPlaceholder)
		b.WriteString("\n")
	}
	for i, doc := range docs {
		fmt.Fprintf(&b, "[%d] %s (%s, similaridade %.2f)\n%s\n\n", i+1, doc.SourceTitle, doc.SourceType, doc.Similarity, strings.TrimSpace(doc.Content))
	}
	if estilo = strings.TrimSpace(estilo); estilo != "" {
		b.WriteString("\nESTILO DAS ORIENTAÇÕES AO PACIENTE: ")
		b.WriteString(estilo)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

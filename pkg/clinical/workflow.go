// Package clinical owns patients, consultas and the prescription lifecycle:
// EM_ANDAMENTO -> RASCUNHO_SALVO -> EM_REVISAO -> ASSINADA, with ARQUIVADA reachable administratively.
package clinical

import (
	"fmt"
	"net/http"

	"github.com/prescritto-ai/platform/pkg/common/models"
)

// RequiredConfirmations is the number of explicit acknowledgements a doctor ticks before signing.
const RequiredConfirmations = 4

// TransitionError rejects a workflow action without changing any state.
type TransitionError struct {
	Acao    string
	From    string
	Status  int
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow action %q not allowed from %s: %s", e.Acao, e.From, e.Message)
}

func (e *TransitionError) HTTPStatus() int { return e.Status }

func (e *TransitionError) PublicMessage() string { return e.Message }

func conflict(acao, from, msg string) error {
	return &TransitionError{Acao: acao, From: from, Status: http.StatusConflict, Message: msg}
}

func unprocessable(acao, from, msg string) error {
	return &TransitionError{Acao: acao, From: from, Status: http.StatusUnprocessableEntity, Message: msg}
}

var nonTerminal = []string{
	models.ConsultaEmAndamento,
	models.ConsultaRascunhoSalvo,
	models.ConsultaEmRevisao,
}

func IsTerminal(status string) bool {
	return status == models.ConsultaAssinada || status == models.ConsultaArquivada
}

// NextStatus is the transition table. It knows nothing about storage; callers still re-check the
// source state atomically when they write.
func NextStatus(from, acao string) (string, error) {
	if IsTerminal(from) {
		return "", conflict(acao, from, "Consulta já finalizada; nenhuma alteração é permitida.")
	}

	switch acao {
	case models.AcaoGerarIA, models.AcaoSalvarEdicao, models.AcaoEditarMedicamento:
		return models.ConsultaRascunhoSalvo, nil
	case models.AcaoAvancarRevisao:
		if from == models.ConsultaRascunhoSalvo || from == models.ConsultaEmRevisao {
			return models.ConsultaEmRevisao, nil
		}
		return "", conflict(acao, from, "Salve um rascunho antes de avançar para a revisão.")
	case models.AcaoAssinarRevisao, models.AcaoFinalizarReceita:
		if from == models.ConsultaEmRevisao {
			return models.ConsultaAssinada, nil
		}
		return "", conflict(acao, from, "A receita só pode ser finalizada após a revisão.")
	case models.AcaoArquivar:
		return models.ConsultaArquivada, nil
	default:
		return "", &TransitionError{Acao: acao, From: from, Status: http.StatusBadRequest, Message: "Ação desconhecida."}
	}
}

// CheckConfirmations requires exactly RequiredConfirmations acknowledgements, all true.
func CheckConfirmations(acao, from string, confirmacoes []bool) error {
	if len(confirmacoes) != RequiredConfirmations {
		return unprocessable(acao, from, fmt.Sprintf("Confirme os %d itens de verificação antes de assinar.", RequiredConfirmations))
	}
	for _, ok := range confirmacoes {
		if !ok {
			return unprocessable(acao, from, fmt.Sprintf("Confirme os %d itens de verificação antes de assinar.", RequiredConfirmations))
		}
	}
	return nil
}

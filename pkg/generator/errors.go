package generator

import (
	"fmt"
	"net/http"
)

// Error is the single failure type of the generator. Raw keeps the model output for server-side
// logs; it never reaches the caller's response.
type Error struct {
	Reason      string
	Raw         string
	Unavailable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return "generation failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int {
	if e.Unavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (e *Error) PublicMessage() string {
	if e.Unavailable {
		return "Serviço de IA indisponível no momento. Tente novamente."
	}
	return "Não foi possível gerar a sugestão de prescrição. Tente novamente."
}

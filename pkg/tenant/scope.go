// Package tenant carries the hospital isolation boundary. Every repository method takes a Scope as
// its first argument after the context.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prescritto-ai/platform/pkg/common/models"
)

var ErrForbidden = errors.New("permission denied")

// PermissionError describes a denied access. Resource and ID go to logs only.
type PermissionError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied on %s %s: %s", e.Resource, e.ID, e.Reason)
}

func (e *PermissionError) Is(target error) bool { return target == ErrForbidden }

func (e *PermissionError) HTTPStatus() int { return http.StatusForbidden }

func (e *PermissionError) PublicMessage() string { return "Acesso negado." }

func Deny(resource string, id interface{}, reason string) error {
	return &PermissionError{Resource: resource, ID: fmt.Sprint(id), Reason: reason}
}

type Scope struct {
	HospitalID uuid.UUID
	UserID     uuid.UUID
	Role       string
	CanViewAll bool
}

// CurrentScope derives the scope of an authenticated staff member. GESTOR and ADMIN see every
// patient of their hospital; a MEDICO only when pode_ver_todos_pacientes is set.
func CurrentScope(user models.User) (Scope, error) {
	if !user.Ativo {
		return Scope{}, Deny("user", user.ID, "inactive user")
	}
	if user.HospitalID == nil || *user.HospitalID == uuid.Nil {
		return Scope{}, Deny("user", user.ID, "user has no hospital")
	}
	switch user.Role {
	case models.RoleAdmin, models.RoleGestor, models.RoleMedico:
	default:
		return Scope{}, Deny("user", user.ID, "unknown role "+user.Role)
	}
	return Scope{
		HospitalID: *user.HospitalID,
		UserID:     user.ID,
		Role:       user.Role,
		CanViewAll: user.Role != models.RoleMedico || user.PodeVerTodosPacientes,
	}, nil
}

func (s Scope) Valid() error {
	if s.HospitalID == uuid.Nil || s.UserID == uuid.Nil {
		return Deny("scope", s.UserID, "incomplete scope")
	}
	return nil
}

// Authorize fails unless the resource belongs to the scope's hospital.
func (s Scope) Authorize(resource string, id interface{}, hospitalID uuid.UUID) error {
	if err := s.Valid(); err != nil {
		return err
	}
	if hospitalID != s.HospitalID {
		return Deny(resource, id, "cross-tenant access")
	}
	return nil
}

func (s Scope) HasRole(roles ...string) bool {
	for _, role := range roles {
		if s.Role == role {
			return true
		}
	}
	return false
}

type contextKey string

const scopeContextKey contextKey = "tenant_scope"

func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}

func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey).(Scope)
	return scope, ok
}

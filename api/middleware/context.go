package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

// PrincipalFromContext rebuilds the authenticated actor from request context.
// The zero principal means the request never passed the auth middleware.
func PrincipalFromContext(ctx context.Context) authz.Principal {
	if ctx == nil {
		return authz.Principal{}
	}
	principal := authz.Principal{}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			principal.UserID = id
		}
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		principal.Role = enums.MemberRole(v)
	}
	return principal
}

// WithPrincipal injects the actor identity into the context.
func WithPrincipal(ctx context.Context, principal authz.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, principal.UserID.String())
	return context.WithValue(ctx, ctxRole, string(principal.Role))
}

package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

// AccessTokenClaims is the JWT claim set minted by the external identity
// service. Stockroom only consumes it: the user id and role become the
// request principal.
type AccessTokenClaims struct {
	UserID uuid.UUID        `json:"uid"`
	Role   enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}

// AccessTokenPayload carries the inputs for minting a token (used by tests
// and local tooling; production tokens come from the identity service).
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.MemberRole
	JTI    string
}

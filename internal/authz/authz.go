package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
)

// Principal is the authenticated actor attached to a request.
type Principal struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// Action names a capability a principal may hold.
type Action string

const (
	ActionStockRead        Action = "stock:read"
	ActionStockAdjust      Action = "stock:adjust"
	ActionStockReserve     Action = "stock:reserve"
	ActionTransferRead     Action = "transfer:read"
	ActionTransferCreate   Action = "transfer:create"
	ActionTransferApprove  Action = "transfer:approve"
	ActionTransferPick     Action = "transfer:pick"
	ActionTransferDispatch Action = "transfer:dispatch"
	ActionTransferReceive  Action = "transfer:receive"
	ActionTransferCancel   Action = "transfer:cancel"
	ActionIdempotencyAdmin Action = "idempotency:admin"
)

// capabilities maps each role to the actions it may perform. Roles are not
// hierarchical in code; the map is the single source of truth.
var capabilities = map[enums.MemberRole]map[Action]struct{}{
	enums.MemberRoleViewer: actionSet(
		ActionStockRead,
		ActionTransferRead,
	),
	enums.MemberRoleClerk: actionSet(
		ActionStockRead,
		ActionTransferRead,
		ActionTransferCreate,
		ActionTransferPick,
		ActionTransferReceive,
	),
	enums.MemberRoleManager: actionSet(
		ActionStockRead,
		ActionStockAdjust,
		ActionStockReserve,
		ActionTransferRead,
		ActionTransferCreate,
		ActionTransferApprove,
		ActionTransferPick,
		ActionTransferDispatch,
		ActionTransferReceive,
		ActionTransferCancel,
	),
	enums.MemberRoleAdmin: actionSet(
		ActionStockRead,
		ActionStockAdjust,
		ActionStockReserve,
		ActionTransferRead,
		ActionTransferCreate,
		ActionTransferApprove,
		ActionTransferPick,
		ActionTransferDispatch,
		ActionTransferReceive,
		ActionTransferCancel,
		ActionIdempotencyAdmin,
	),
}

func actionSet(actions ...Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(actions))
	for _, action := range actions {
		set[action] = struct{}{}
	}
	return set
}

// Allow returns a typed forbidden error when the principal's role does not
// carry the requested action.
func Allow(principal Principal, action Action) error {
	if principal.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	granted, ok := capabilities[principal.Role]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("unknown role %q", principal.Role))
	}
	if _, ok := granted[action]; !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %q may not %s", principal.Role, action))
	}
	return nil
}

package authz

import (
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

// ErrPermissionDenied is the only authorization error surfaced to callers;
// the specific deny reason goes to the audit trail, never to the client.
var ErrPermissionDenied = errors.New("permission denied")

// Action is something a principal attempts on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var AllActions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}

// Resource is a kind of tenant-owned record.
type Resource string

const (
	ResourceStudent    Resource = "student"
	ResourceFee        Resource = "fee"
	ResourceAttendance Resource = "attendance"
	ResourceExam       Resource = "exam"
	ResourceUser       Resource = "user"
)

var AllResources = []Resource{ResourceStudent, ResourceFee, ResourceAttendance, ResourceExam, ResourceUser}

// Effect is a capability grant entry.
type Effect string

const (
	EffectDeny       Effect = "deny"
	EffectAllow      Effect = "allow"
	EffectAllowOwner Effect = "allow_if_owner"
)

// DenyReason enumerates why a decision denied.
type DenyReason string

const (
	ReasonRoleNotPermitted DenyReason = "role_not_permitted"
	ReasonTenantMismatch   DenyReason = "tenant_mismatch"
	ReasonNotOwner         DenyReason = "not_owner"
	ReasonInactive         DenyReason = "inactive"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenyReason // set when denied
}

func Allow() Decision            { return Decision{Allowed: true} }
func Deny(r DenyReason) Decision { return Decision{Reason: r} }

// Engine decides whether a principal may perform an action on a resource.
// Decisions are deterministic and total over the role × action × resource
// space; the matrix is validated for totality before activation.
type Engine struct {
	matrix Matrix
}

func NewEngine(matrix Matrix) (*Engine, error) {
	if err := matrix.Validate(); err != nil {
		return nil, err
	}
	return &Engine{matrix: matrix}, nil
}

// Authorize runs the fixed decision order:
//
//	1. inactive principal        -> Deny(Inactive)
//	2. platform operator         -> Allow (full bypass, still audited)
//	3. principal/resource tenant -> Deny(TenantMismatch)
//	4. capability grant lookup   -> Allow | Deny(RoleNotPermitted)
//	5. ownership refinement      -> Allow | Deny(NotOwner)
//
// The tenant check runs before any role lookup so no combination of grants
// can ever widen access across tenants.
func (e *Engine) Authorize(principal user.User, action Action, res Resource, resourceTenant string, resourceOwners ...string) Decision {
	if !principal.IsActive {
		return Deny(ReasonInactive)
	}
	if principal.IsOperator() {
		return Allow()
	}
	if principal.TenantID == "" || principal.TenantID != resourceTenant {
		return Deny(ReasonTenantMismatch)
	}

	// a principal holding several roles gets the most permissive applicable
	// grant: allow > allow_if_owner > deny
	var ownerGrant bool
	for _, role := range principal.Roles {
		switch e.matrix.effect(role, res, action) {
		case EffectAllow:
			return Allow()
		case EffectAllowOwner:
			ownerGrant = true
		}
	}
	if ownerGrant {
		for _, owner := range resourceOwners {
			if owner != "" && owner == principal.ID {
				return Allow()
			}
		}
		return Deny(ReasonNotOwner)
	}
	return Deny(ReasonRoleNotPermitted)
}

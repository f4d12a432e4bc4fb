package station

import "github.com/google/uuid"

// Context carries the caller identity resolved for a single authorization
// check.
type Context struct {
	Principal    Principal
	IsController bool
}

// expandableActions precomputes, per resource action, which actions expand a
// concrete-id lookup to also check the Any-scoped permission. Built once
// rather than per call, per the original design notes on resource
// expansion.
var expandableActions = map[ResourceAction]struct{}{
	ActionRead:            {},
	ActionUpdate:          {},
	ActionDelete:          {},
	ActionAccountTransfer: {},
	ActionCanisterStatus:  {},
}

// expand returns the lookup chain for a resource: a concrete-id resource
// first, then the Any-scoped fallback, when the action is one that
// expands. List/Create never expand.
func expand(r Resource) []Resource {
	if r.ID.Any {
		return []Resource{r}
	}
	if _, ok := expandableActions[r.Action]; !ok {
		return []Resource{r}
	}
	return []Resource{r, {Kind: r.Kind, Action: r.Action, ID: AnyID()}}
}

// PermissionSource loads the stored Permission for a resource, or
// reports not-found.
type PermissionSource interface {
	GetPermission(r Resource) (*Permission, bool)
}

// UserSource resolves a principal to an active-or-not User.
type UserSource interface {
	UserByIdentity(p Principal) (*User, bool)
}

// DefaultRightsSource supplies the facts needed to evaluate the
// non-policy default rights: request voter/reader eligibility and
// account ownership.
type DefaultRightsSource interface {
	RequestByID(id uuid.UUID) (*Request, bool)
	AccountByID(id uuid.UUID) (*Account, bool)
	NotificationByID(id uuid.UUID) (*Notification, bool)
	// UserCanVoteOn reports whether u is a possible approver of r under
	// any currently matching policy (queried with read-only semantics;
	// see policy.go's vote-rights evaluator).
	UserCanVoteOn(r *Request, userID uuid.UUID) bool
}

// Authorizer implements is_allowed(ctx, resource) -> bool: total,
// deterministic, side-effect-free.
type Authorizer struct {
	Permissions PermissionSource
	Users       UserSource
	Rights      DefaultRightsSource
}

// IsAllowed implements the permission-evaluation procedure: controller
// bypass, then explicit permission lookup with any-scoped expansion,
// falling back to default rights when no permission is configured.
func (a *Authorizer) IsAllowed(ctx Context, resource Resource) bool {
	if ctx.IsController {
		return true
	}

	for _, candidate := range expand(resource) {
		if a.checkOne(ctx, candidate) {
			return true
		}
	}
	return false
}

func (a *Authorizer) checkOne(ctx Context, resource Resource) bool {
	perm, ok := a.Permissions.GetPermission(resource)
	if !ok {
		// No stored permission: fall through to default rights only;
		// a missing Permission record grants nothing on its own.
		return a.defaultRight(ctx, resource)
	}

	if perm.Allow.Scope == ScopePublic {
		return true
	}

	user, ok := a.Users.UserByIdentity(ctx.Principal)
	if !ok {
		return false
	}
	if user.Status != UserStatusActive {
		return false
	}
	if perm.Allow.Scope == ScopeAuthenticated {
		return true
	}

	if a.defaultRightForUser(user, resource) {
		return true
	}

	if _, ok := perm.Allow.Users[user.ID]; ok {
		return true
	}
	for g := range user.Groups {
		if _, ok := perm.Allow.Groups[g]; ok {
			return true
		}
	}
	return false
}

// defaultRight checks default rights without requiring a stored
// Permission to exist at all (used when checkOne finds no Permission
// record for the resource).
func (a *Authorizer) defaultRight(ctx Context, resource Resource) bool {
	user, ok := a.Users.UserByIdentity(ctx.Principal)
	if !ok || user.Status != UserStatusActive {
		return false
	}
	return a.defaultRightForUser(user, resource)
}

// defaultRightForUser implements the default (non-policy) rights list.
func (a *Authorizer) defaultRightForUser(user *User, resource Resource) bool {
	switch resource.Kind {
	case ResourceUser:
		if resource.Action == ActionRead && !resource.ID.Any && resource.ID.ID == user.ID {
			return true
		}
	case ResourceRequest:
		if resource.Action == ActionRead && !resource.ID.Any {
			if req, ok := a.Rights.RequestByID(resource.ID.ID); ok {
				if req.RequestedBy == user.ID {
					return true
				}
				if _, voted := req.HasApprovalFrom(user.ID); voted {
					return true
				}
				if a.Rights.UserCanVoteOn(req, user.ID) {
					return true
				}
			}
		}
	case ResourceAccount:
		switch resource.Action {
		case ActionRead, ActionUpdate, ActionAccountTransfer:
			if !resource.ID.Any {
				if acct, ok := a.Rights.AccountByID(resource.ID.ID); ok {
					if _, owner := acct.Owners[user.ID]; owner {
						return true
					}
				}
			}
		}
	case ResourceNotification:
		if resource.Action == ActionList {
			return true
		}
		if (resource.Action == ActionRead || resource.Action == ActionUpdate) && !resource.ID.Any {
			if n, ok := a.Rights.NotificationByID(resource.ID.ID); ok && n.TargetID == user.ID {
				return true
			}
		}
	}
	return false
}

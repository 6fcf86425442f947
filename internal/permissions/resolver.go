package permissions

import (
	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// Resolver computes effective permissions and answers authorization checks.
// It holds no state.
type Resolver struct{}

// NewResolver returns a resolver over the built-in default tables.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Defaults returns the role's default table.
func (r *Resolver) Defaults(role enums.Role) PermissionMap {
	return Defaults(role)
}

// Effective applies overrides to the role defaults. Each overridden module is
// replaced, not merged; an empty list revokes the module.
func (r *Resolver) Effective(role enums.Role, overrides Overrides) PermissionMap {
	return r.EffectiveForStore(role, overrides, Overrides{})
}

// EffectiveForStore layers store-scoped overrides over the global ones. The
// store layer wins for the modules it names.
func (r *Resolver) EffectiveForStore(role enums.Role, global, store Overrides) PermissionMap {
	if role == enums.RoleOwner {
		return ownerTable()
	}
	defaults := Defaults(role)
	out := defaults.Clone()
	apply(out, global)
	apply(out, store)

	// Users is gated by role identity: overrides may narrow it, never widen.
	out[enums.ModuleUsers] = out[enums.ModuleUsers].Intersect(defaults[enums.ModuleUsers])
	for m, set := range out {
		if set.IsEmpty() {
			delete(out, m)
		}
	}
	return out
}

func apply(target PermissionMap, overrides Overrides) {
	for m, set := range overrides.modules {
		target[m] = set
	}
}

// Check answers whether the subject may perform action on module, optionally
// inside one store. Owner always passes. A store assignment role applies to
// that store only and never lifts the user above their base role.
func (r *Resolver) Check(subject Subject, module enums.Module, action enums.Action, storeID *uuid.UUID) bool {
	if subject.Role == enums.RoleOwner {
		return true
	}
	if module == enums.ModuleUsers && (action == enums.ActionAdd || action == enums.ActionDelete) {
		return false
	}
	return r.ForSubject(subject, storeID).Allows(module, action)
}

// ForSubject returns the effective map for a subject, store-scoped when
// storeID is set and the subject has an assignment there.
func (r *Resolver) ForSubject(subject Subject, storeID *uuid.UUID) PermissionMap {
	role := subject.Role
	store := Overrides{}
	if storeID != nil {
		if a, ok := subject.Assignments[*storeID]; ok {
			if a.Role != nil && a.Role.IsValid() && a.Role.Level() <= subject.Role.Level() {
				role = *a.Role
			}
			store = a.Overrides
		}
	}
	return r.EffectiveForStore(role, subject.Overrides, store)
}

// CanManageRole reports whether actor may create, edit or deactivate a user
// holding target. Owner manages anyone, company_manager manages its peers and
// below, every other role only strictly lower roles.
func CanManageRole(actor, target enums.Role) bool {
	if !actor.IsValid() || !target.IsValid() {
		return false
	}
	switch actor {
	case enums.RoleOwner, enums.RoleCompanyManager:
		return actor.Level() >= target.Level()
	default:
		return actor.Level() > target.Level()
	}
}

// CanViewRole is the user listing filter. It admits peers for every role,
// so a store_manager sees other store managers it cannot manage.
func CanViewRole(actor, target enums.Role) bool {
	if !actor.IsValid() || !target.IsValid() {
		return false
	}
	return actor.Level() >= target.Level()
}

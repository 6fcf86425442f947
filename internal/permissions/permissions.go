package permissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/bizledger-backend/pkg/enums"
	"github.com/google/uuid"
)

// PermissionMap is the effective set of actions per module. A module that is
// absent grants nothing.
type PermissionMap map[enums.Module]enums.ActionSet

// Allows reports whether action is granted on module.
func (p PermissionMap) Allows(module enums.Module, action enums.Action) bool {
	return p[module].Has(action)
}

// Clone returns an independent copy.
func (p PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(p))
	for m, set := range p {
		out[m] = set
	}
	return out
}

// Modules lists the modules with at least one action, sorted by name.
func (p PermissionMap) Modules() []enums.Module {
	out := make([]enums.Module, 0, len(p))
	for m, set := range p {
		if !set.IsEmpty() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Overrides is a parsed custom permission blob. A module mapped to an empty
// set is an explicit revocation, distinct from the module being absent.
type Overrides struct {
	modules map[enums.Module]enums.ActionSet
}

// NewOverrides builds overrides in code, mostly for tests and seeding.
func NewOverrides(entries map[enums.Module][]enums.Action) Overrides {
	o := Overrides{modules: make(map[enums.Module]enums.ActionSet, len(entries))}
	for m, actions := range entries {
		o.modules[m] = enums.NewActionSet(actions...)
	}
	return o
}

// ParseOverrides decodes `{"module": ["action", ...]}`. Empty input and JSON
// null mean no overrides. Unknown modules or actions are rejected.
func ParseOverrides(raw []byte) (Overrides, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Overrides{}, nil
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return Overrides{}, fmt.Errorf("permission overrides must be an object: %w", err)
	}

	o := Overrides{modules: make(map[enums.Module]enums.ActionSet, len(decoded))}
	for key, value := range decoded {
		module, err := enums.ParseModule(strings.ToLower(strings.TrimSpace(key)))
		if err != nil {
			return Overrides{}, err
		}
		var set enums.ActionSet
		if err := json.Unmarshal(value, &set); err != nil {
			return Overrides{}, fmt.Errorf("module %s: %w", module, err)
		}
		o.modules[module] = set
	}
	return o, nil
}

// ParseOverridesColumn decodes a nullable text column.
func ParseOverridesColumn(raw *string) (Overrides, error) {
	if raw == nil {
		return Overrides{}, nil
	}
	return ParseOverrides([]byte(*raw))
}

// Lookup returns the override for module and whether one is present.
func (o Overrides) Lookup(module enums.Module) (enums.ActionSet, bool) {
	set, ok := o.modules[module]
	return set, ok
}

// IsZero reports whether no module is overridden.
func (o Overrides) IsZero() bool {
	return len(o.modules) == 0
}

// MarshalJSON keeps explicit revocations as empty lists.
func (o Overrides) MarshalJSON() ([]byte, error) {
	out := make(map[enums.Module]enums.ActionSet, len(o.modules))
	for m, set := range o.modules {
		out[m] = set
	}
	return json.Marshal(out)
}

// Assignment is a user's membership of one store, with optional role and
// permission overrides that apply to that store only.
type Assignment struct {
	StoreID   uuid.UUID
	Role      *enums.Role
	Overrides Overrides
}

// Subject is everything a permission decision needs about a user.
type Subject struct {
	Role        enums.Role
	Overrides   Overrides
	Assignments map[uuid.UUID]Assignment
}

package enums

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is one of the operations a permission can grant on a module.
type Action string

const (
	ActionView   Action = "view"
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

var validActions = []Action{
	ActionView,
	ActionAdd,
	ActionEdit,
	ActionDelete,
}

// String implements fmt.Stringer.
func (a Action) String() string {
	return string(a)
}

// IsValid reports whether the value is a known Action.
func (a Action) IsValid() bool {
	return a.bit() != 0
}

// ParseAction converts raw input into an Action.
func ParseAction(value string) (Action, error) {
	normalized := Action(strings.ToLower(strings.TrimSpace(value)))
	if !normalized.IsValid() {
		return "", fmt.Errorf("invalid action %q", value)
	}
	return normalized, nil
}

func (a Action) bit() ActionSet {
	switch a {
	case ActionView:
		return 1 << 0
	case ActionAdd:
		return 1 << 1
	case ActionEdit:
		return 1 << 2
	case ActionDelete:
		return 1 << 3
	}
	return 0
}

// ActionSet is a bit set over the closed Action enum.
type ActionSet uint8

// AllActions grants every action.
const AllActions ActionSet = 0b1111

// NewActionSet builds a set from the provided actions, ignoring unknown values.
func NewActionSet(actions ...Action) ActionSet {
	var set ActionSet
	for _, action := range actions {
		set |= action.bit()
	}
	return set
}

// Has reports whether the action is in the set.
func (s ActionSet) Has(action Action) bool {
	bit := action.bit()
	return bit != 0 && s&bit == bit
}

// Intersect returns the actions present in both sets.
func (s ActionSet) Intersect(other ActionSet) ActionSet {
	return s & other
}

// IsEmpty reports whether the set grants nothing.
func (s ActionSet) IsEmpty() bool {
	return s&AllActions == 0
}

// Actions lists the members in canonical order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, len(validActions))
	for _, action := range validActions {
		if s.Has(action) {
			out = append(out, action)
		}
	}
	return out
}

// MarshalJSON encodes the set as a list of action names.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Actions())
}

// UnmarshalJSON decodes a list of action names, rejecting unknown values.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var set ActionSet
	for _, value := range raw {
		action, err := ParseAction(value)
		if err != nil {
			return err
		}
		set |= action.bit()
	}
	*s = set
	return nil
}

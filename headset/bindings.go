package headset

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/eegbuds/internal/device"
)

// RoleState is the per-role session progress.
type RoleState int

const (
	StateUnbound RoleState = iota
	StateConnecting
	StateDiscovering
	StateSubscribing
	StateReady
)

func (s RoleState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateSubscribing:
		return "subscribing"
	case StateReady:
		return "ready"
	default:
		return "unbound"
	}
}

// binding is one role's link and the characteristics discovered on it.
type binding struct {
	id         LinkID
	state      RoleState
	chars      *orderedmap.OrderedMap[CharacteristicKind, device.Handle]
	subscribed map[CharacteristicKind]bool
	requested  map[CharacteristicKind]bool // reads and subscriptions already issued
}

func newBinding(id LinkID) *binding {
	return &binding{
		id:         id,
		state:      StateConnecting,
		chars:      orderedmap.New[CharacteristicKind, device.Handle](),
		subscribed: map[CharacteristicKind]bool{},
		requested:  map[CharacteristicKind]bool{},
	}
}

// handle returns the characteristic handle for kind.
func (b *binding) handle(kind CharacteristicKind) (device.Handle, bool) {
	return b.chars.Get(kind)
}

// hasAll reports whether every kind is present.
func (b *binding) hasAll(kinds []CharacteristicKind) bool {
	for _, k := range kinds {
		if _, ok := b.chars.Get(k); !ok {
			return false
		}
	}
	return true
}

// kinds lists the discovered kinds in discovery order.
func (b *binding) kinds() []CharacteristicKind {
	out := make([]CharacteristicKind, 0, b.chars.Len())
	for pair := b.chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// bindings is the role binding table. Not safe for concurrent use.
type bindings struct {
	roles [2]*binding
}

// bind assigns id to role, replacing any previous link and its handles.
// A link already bound to the other role is released from it.
func (t *bindings) bind(role Role, id LinkID) *binding {
	if other := t.roles[role.Other()]; other != nil && other.id == id {
		t.roles[role.Other()] = nil
	}
	b := newBinding(id)
	t.roles[role] = b
	return b
}

// unbind clears role. Returns the released binding, or nil.
func (t *bindings) unbind(role Role) *binding {
	b := t.roles[role]
	t.roles[role] = nil
	return b
}

func (t *bindings) unbindAll() {
	t.roles = [2]*binding{}
}

// get returns the binding of role, or nil.
func (t *bindings) get(role Role) *binding {
	if !role.Valid() {
		return nil
	}
	return t.roles[role]
}

// roleOf resolves a link to its role.
func (t *bindings) roleOf(id LinkID) (Role, *binding, bool) {
	for _, role := range device.Roles {
		if b := t.roles[role]; b != nil && b.id == id {
			return role, b, true
		}
	}
	return 0, nil, false
}

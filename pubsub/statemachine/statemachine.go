// Package statemachine implements the cascading PubSub component state
// machine shared by Connection, WriterGroup, DataSetWriter, ReaderGroup,
// and DataSetReader components: DISABLED/PAUSED/OPERATIONAL/ERROR/
// PREOPERATIONAL with parent-to-child cascade, grounded on §4.8 of the
// governing wire/behavior document and, for the callback shapes (custom
// override, change notification, add/remove lifecycle), on the
// ordtree/timer packages' existing pattern of a small struct holding
// user-supplied function fields rather than an interface.
package statemachine

import "github.com/uacore/eventcore/status"

// Kind names the sort of PubSub component a Component represents.
type Kind int

const (
	KindConnection Kind = iota
	KindWriterGroup
	KindDataSetWriter
	KindReaderGroup
	KindDataSetReader
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "Connection"
	case KindWriterGroup:
		return "WriterGroup"
	case KindDataSetWriter:
		return "DataSetWriter"
	case KindReaderGroup:
		return "ReaderGroup"
	case KindDataSetReader:
		return "DataSetReader"
	default:
		return "Unknown"
	}
}

// State is one of the five PubSub component states.
type State int

const (
	Disabled State = iota
	Paused
	Operational
	Error
	Preoperational
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Paused:
		return "Paused"
	case Operational:
		return "Operational"
	case Error:
		return "Error"
	case Preoperational:
		return "Preoperational"
	default:
		return "Unknown"
	}
}

// IsDisabled reports whether s is one of the classification's disabled
// states ({DISABLED, ERROR}); every other state is enabled.
func (s State) IsDisabled() bool { return s == Disabled || s == Error }

// ID identifies one component within a Manager.
type ID uint64

// CustomStateMachine, when set on a Component, replaces the default
// enable/disable transition logic for that component. It receives the
// component id and the state being transitioned to, plus a pointer the
// callback may rewrite to land on a different actual state (e.g.
// Preoperational instead of Operational); a non-nil error forces the
// component to Error regardless of what *State was set to.
type CustomStateMachine func(id ID, target State, actual *State) error

// StateChangeCallback is invoked by a Manager whenever a component's state
// changes, reporting the error (if any) that drove the change.
type StateChangeCallback func(id ID, newState State, err error)

// LifecycleCallback wraps component add/remove. A non-nil error from the
// add callback aborts the add; no component is left registered.
type LifecycleCallback func(id ID, kind Kind, adding bool) error

// Component is one node in the PubSub cascade tree.
type Component struct {
	ID     ID
	Kind   Kind
	State  State
	Parent ID // zero means root (Connection-level component)

	Custom CustomStateMachine

	// HasPrecondition, when true, means enable() lands in Preoperational
	// until MatchPrecondition is called; when false, enable() goes
	// straight to Operational on success.
	HasPrecondition bool
}

// Manager owns a forest of Components and drives the cascade rules: a
// child may only be Operational while its parent is Operational, and a
// parent leaving Operational pauses every enabled child.
type Manager struct {
	components map[ID]*Component
	children   map[ID][]ID
	nextID     uint64

	OnStateChange StateChangeCallback
	OnLifecycle   LifecycleCallback
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		components: make(map[ID]*Component),
		children:   make(map[ID][]ID),
	}
}

func (m *Manager) allocID() ID {
	m.nextID++
	return ID(m.nextID)
}

// Add registers a new Component with DISABLED as its initial state. If
// OnLifecycle is set and returns an error, the add is aborted and no
// component is left registered.
func (m *Manager) Add(kind Kind, parent ID, custom CustomStateMachine, hasPrecondition bool) (ID, error) {
	id := m.allocID()
	if m.OnLifecycle != nil {
		if err := m.OnLifecycle(id, kind, true); err != nil {
			return 0, status.Wrap(status.Internal, "statemachine: lifecycle callback rejected add", err)
		}
	}
	c := &Component{ID: id, Kind: kind, State: Disabled, Parent: parent, Custom: custom, HasPrecondition: hasPrecondition}
	m.components[id] = c
	m.children[parent] = append(m.children[parent], id)
	return id, nil
}

// Remove unregisters a component and all of its descendants, invoking
// OnLifecycle (if set) for each, innermost-first.
func (m *Manager) Remove(id ID) {
	for _, child := range append([]ID(nil), m.children[id]...) {
		m.Remove(child)
	}
	if c, ok := m.components[id]; ok {
		if m.OnLifecycle != nil {
			_ = m.OnLifecycle(id, c.Kind, false)
		}
		delete(m.components, id)
	}
	delete(m.children, id)
}

// Get returns the component with the given id, or nil if unknown.
func (m *Manager) Get(id ID) *Component {
	return m.components[id]
}

func (m *Manager) setState(c *Component, s State, err error) {
	if c.State == s {
		return
	}
	c.State = s
	if m.OnStateChange != nil {
		m.OnStateChange(c.ID, s, err)
	}
}

func (m *Manager) parentOperational(c *Component) bool {
	if c.Parent == 0 {
		return true
	}
	parent, ok := m.components[c.Parent]
	if !ok {
		return true
	}
	return parent.State == Operational
}

// Enable transitions a DISABLED component toward PREOPERATIONAL or
// OPERATIONAL, or to PAUSED while its parent is not OPERATIONAL. An error
// from a Custom callback sets the component to ERROR.
func (m *Manager) Enable(id ID) error {
	c, ok := m.components[id]
	if !ok {
		return status.Newf(status.NotFound, "statemachine: unknown component %d", id)
	}
	target := Operational
	if c.HasPrecondition {
		target = Preoperational
	}
	if !m.parentOperational(c) {
		target = Paused
	}

	if c.Custom != nil {
		actual := target
		if err := c.Custom(c.ID, target, &actual); err != nil {
			m.setState(c, Error, err)
			return err
		}
		m.setState(c, actual, nil)
		m.cascadeParentOperational(id)
		return nil
	}

	m.setState(c, target, nil)
	m.cascadeParentOperational(id)
	return nil
}

// Disable sets a component to DISABLED unconditionally, cascading to every
// descendant first.
func (m *Manager) Disable(id ID) {
	for _, child := range m.children[id] {
		m.Disable(child)
	}
	c, ok := m.components[id]
	if !ok {
		return
	}
	m.setState(c, Disabled, nil)
}

// MatchPrecondition transitions a PREOPERATIONAL component to OPERATIONAL
// on its first matching external event (e.g. a ReaderGroup's first
// filter-matching message). A no-op for any other current state.
func (m *Manager) MatchPrecondition(id ID) {
	c, ok := m.components[id]
	if !ok || c.State != Preoperational {
		return
	}
	m.setState(c, Operational, nil)
	m.cascadeParentOperational(id)
}

// cascadeParentOperational re-evaluates children of id that are currently
// Paused, promoting them to Operational now that their parent is.
func (m *Manager) cascadeParentOperational(id ID) {
	c, ok := m.components[id]
	if !ok || c.State != Operational {
		return
	}
	for _, childID := range m.children[id] {
		child, ok := m.components[childID]
		if !ok || child.State != Paused {
			continue
		}
		target := Operational
		if child.HasPrecondition {
			target = Preoperational
		}
		m.setState(child, target, nil)
		m.cascadeParentOperational(childID)
	}
}

// cascadeParentLeftOperational pauses every enabled (non-disabled,
// non-error) descendant of id, called whenever id itself leaves
// OPERATIONAL.
func (m *Manager) cascadeParentLeftOperational(id ID) {
	for _, childID := range m.children[id] {
		child, ok := m.components[childID]
		if !ok || child.State.IsDisabled() {
			continue
		}
		m.setState(child, Paused, nil)
		m.cascadeParentLeftOperational(childID)
	}
}

// SetError forces a component into ERROR, cascading pause to its children,
// and reports err via OnStateChange.
func (m *Manager) SetError(id ID, err error) {
	c, ok := m.components[id]
	if !ok {
		return
	}
	wasOperational := c.State == Operational
	m.setState(c, Error, err)
	if wasOperational {
		m.cascadeParentLeftOperational(id)
	}
}

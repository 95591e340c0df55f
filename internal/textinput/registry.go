// Package textinput owns the text-input objects of a seat: their
// double-buffered field state, their serials, and the seat-wide active
// text-input.
//
// The registry never calls another component while holding its lock.
// Work that crosses into the input-method side goes through the
// Coordinator after the lock is released.
package textinput

import (
	"sync"

	"imbridge/internal/logging"
	"imbridge/internal/protocol"
	"imbridge/internal/serial"
)

// FocusSource reports the seat's keyboard focus.
type FocusSource interface {
	Focus() protocol.Surface
}

// Coordinator carries commit results over to the input-method side.
type Coordinator interface {
	// ResolveInputMethod returns the routing id of the input method that
	// serves a text-input bound to bound ("" when unbound). ok is false
	// when no input method is available.
	ResolveInputMethod(bound string) (routingID string, ok bool)
	// Enable activates the input method for ti.
	Enable(ti protocol.TextInput, routingID string)
	// Disable deactivates the input method.
	Disable(routingID string, sendDone bool)
	// Push forwards the present fields followed by done.
	Push(routingID string, fields Fields)
}

type instance struct {
	resource  protocol.TextInput
	appID     string
	routingID string
	serial    serial.Counter
	entered   bool
	pending   Pending
	committed State
}

// Registry holds every text-input of one seat.
type Registry struct {
	mu        sync.Mutex
	instances []*instance
	active    protocol.ObjectID
	hasActive bool

	focus  FocusSource
	coord  Coordinator
	logger *logging.Logger
}

// NewRegistry returns an empty registry reading focus from focus.
func NewRegistry(focus FocusSource, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		focus:  focus,
		logger: logger.WithComponent("textinput"),
	}
}

// SetCoordinator wires the input-method side.
func (r *Registry) SetCoordinator(c Coordinator) {
	r.mu.Lock()
	r.coord = c
	r.mu.Unlock()
}

// Add registers a text-input with serial 0, bound to routingID ("" for
// unbound). It returns false if the object is already registered.
func (r *Registry) Add(ti protocol.TextInput, appID, routingID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(ti.ID()) != nil {
		r.logger.Warn("text-input already registered", "object", ti.ID())
		return false
	}
	r.instances = append(r.instances, &instance{
		resource:  ti,
		appID:     appID,
		routingID: routingID,
	})
	r.logger.Debug("text-input added", "object", ti.ID(), "client", ti.Client(), "app_id", appID, "routing_id", routingID)
	return true
}

// Len returns the number of registered text-inputs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Get returns a snapshot of the text-input id.
func (r *Registry) Get(id protocol.ObjectID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.find(id)
	if inst == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		ID:        id,
		Client:    inst.resource.Client(),
		AppID:     inst.appID,
		RoutingID: inst.routingID,
		Serial:    inst.serial.Current(),
		Active:    r.hasActive && r.active == id,
		Committed: State{Enabled: inst.committed.Enabled, Fields: inst.committed.Fields.clone()},
	}, true
}

// Lookup returns the resource and input-method binding of id.
func (r *Registry) Lookup(id protocol.ObjectID) (protocol.TextInput, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.find(id)
	if inst == nil {
		return nil, "", false
	}
	return inst.resource, inst.routingID, true
}

// Pending setters. They only record; nothing is sent before Commit.

// SetEnabled records an enable (true) or disable (false) request.
func (r *Registry) SetEnabled(id protocol.ObjectID, enable bool) bool {
	return r.withPending(id, func(p *Pending) { p.Enable = &enable })
}

// SetSurroundingText records surrounding text.
func (r *Registry) SetSurroundingText(id protocol.ObjectID, st protocol.SurroundingText) bool {
	return r.withPending(id, func(p *Pending) { p.SurroundingText = &st })
}

// SetContentType records the content type.
func (r *Registry) SetContentType(id protocol.ObjectID, ct protocol.ContentType) bool {
	return r.withPending(id, func(p *Pending) { p.ContentType = &ct })
}

// SetCursorRectangle records the cursor rectangle.
func (r *Registry) SetCursorRectangle(id protocol.ObjectID, rect protocol.Rectangle) bool {
	return r.withPending(id, func(p *Pending) { p.CursorRectangle = &rect })
}

// SetTextChangeCause records the text change cause.
func (r *Registry) SetTextChangeCause(id protocol.ObjectID, cause protocol.ChangeCause) bool {
	return r.withPending(id, func(p *Pending) { p.ChangeCause = &cause })
}

func (r *Registry) withPending(id protocol.ObjectID, fn func(*Pending)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.find(id)
	if inst == nil {
		r.logger.Debug("request for untracked text-input", "object", id)
		return false
	}
	fn(&inst.pending)
	return true
}

// Commit applies the pending state of id.
//
// The serial is bumped first and unconditionally. The commit is then
// discarded when no input method serves the text-input or when focus
// belongs to another client. Otherwise the pending enable decides:
// true activates (unless another text-input is active), false
// deactivates and stops, unset requires this text-input to be active
// already. Surviving commits push every present field and a done.
func (r *Registry) Commit(id protocol.ObjectID) Outcome {
	r.mu.Lock()
	inst := r.find(id)
	if inst == nil {
		r.mu.Unlock()
		r.logger.Debug("commit for untracked text-input", "object", id)
		return Discarded
	}
	s := inst.serial.Bump()
	pending := inst.pending
	inst.pending = Pending{}
	bound, res, coord := inst.routingID, inst.resource, r.coord
	r.mu.Unlock()

	log := r.logger.With("object", id, "serial", s)

	if coord == nil {
		log.Debug("discarding commit without input method side")
		return Discarded
	}
	routingID, ok := coord.ResolveInputMethod(bound)
	if !ok {
		log.Debug("discarding text-input commit without input method")
		return Discarded
	}
	if !protocol.SameClient(r.focusedSurface(), res) {
		log.Debug("discarding text-input commit for unfocused client")
		return Discarded
	}

	r.mu.Lock()
	// The instance may have been destroyed while unlocked.
	if inst = r.find(id); inst == nil {
		r.mu.Unlock()
		return Discarded
	}
	if r.hasActive && r.active != id {
		r.mu.Unlock()
		log.Debug("discarding text-input commit, another text-input is active", "active", r.active)
		return Discarded
	}

	outcome := Updated
	switch {
	case pending.Enable != nil && *pending.Enable:
		r.active, r.hasActive = id, true
		inst.committed.Enabled = true
		outcome = Enabled
	case pending.Enable != nil:
		r.hasActive = false
		inst.committed.Enabled = false
		r.mu.Unlock()
		log.Debug("text-input disabled", "routing_id", routingID)
		coord.Disable(routingID, false)
		return Disabled
	case !r.hasActive:
		r.mu.Unlock()
		log.Debug("discarding text-input commit before enable")
		return Discarded
	}
	inst.committed.overlay(pending.Fields)
	r.mu.Unlock()

	if outcome == Enabled {
		log.Debug("text-input enabled", "routing_id", routingID)
		coord.Enable(res, routingID)
	}
	coord.Push(routingID, pending.Fields)
	return outcome
}

// Destroyed removes id. When it was the last text-input of the focused
// client, or nothing holds focus, the input method is deactivated with a
// trailing done, since no commit will tell it otherwise.
func (r *Registry) Destroyed(id protocol.ObjectID) bool {
	focus := r.focusedSurface()

	r.mu.Lock()
	idx := r.index(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	inst := r.instances[idx]
	r.instances = append(r.instances[:idx], r.instances[idx+1:]...)
	if r.hasActive && r.active == id {
		r.hasActive = false
	}

	focused := focus == nil || protocol.SameClient(focus, inst.resource)
	remaining := false
	for _, other := range r.instances {
		if protocol.SameClient(other.resource, inst.resource) {
			remaining = true
			break
		}
	}
	bound, coord := inst.routingID, r.coord
	r.mu.Unlock()

	r.logger.Debug("text-input destroyed", "object", id, "focused", focused, "remaining", remaining)

	if focused && !remaining && coord != nil {
		if routingID, ok := coord.ResolveInputMethod(bound); ok {
			coord.Disable(routingID, true)
		}
	}
	return true
}

// EnterFocused sends enter to every text-input of surface's client that
// has not been entered yet.
func (r *Registry) EnterFocused(surface protocol.Surface) {
	if surface == nil {
		return
	}
	r.mu.Lock()
	enter := r.markEntered(surface, func(*instance) bool { return true })
	r.mu.Unlock()

	for _, ti := range enter {
		ti.Enter(surface)
	}
}

// LeaveFocused clears the active text-input, then sends leave to every
// entered text-input of surface's client.
func (r *Registry) LeaveFocused(surface protocol.Surface) {
	r.mu.Lock()
	r.clearActive()
	var leave []protocol.TextInput
	if surface != nil {
		leave = r.markLeft(surface, func(*instance) bool { return true })
	}
	r.mu.Unlock()

	for _, ti := range leave {
		ti.Leave(surface)
	}
}

// EnterIfFocused sends enter to id alone when its client holds focus.
func (r *Registry) EnterIfFocused(id protocol.ObjectID) bool {
	focus := r.focusedSurface()
	if focus == nil {
		return false
	}
	r.mu.Lock()
	enter := r.markEntered(focus, func(inst *instance) bool { return inst.resource.ID() == id })
	r.mu.Unlock()

	for _, ti := range enter {
		ti.Enter(focus)
	}
	return len(enter) > 0
}

// BindFocused binds every unbound text-input of the focused client to
// routingID and sends enter to those served by it. It returns how many
// text-inputs were entered.
func (r *Registry) BindFocused(routingID string) int {
	focus := r.focusedSurface()
	if focus == nil {
		return 0
	}

	r.mu.Lock()
	enter := r.markEntered(focus, func(inst *instance) bool {
		if inst.routingID == "" {
			inst.routingID = routingID
		}
		return inst.routingID == routingID
	})
	r.mu.Unlock()

	for _, ti := range enter {
		ti.Enter(focus)
	}
	return len(enter)
}

// InputMethodDestroyed unbinds every text-input bound to routingID.
// With leave set, the input method was the one serving unbound
// text-inputs: the active text-input is cleared and the focused
// client's text-inputs it served receive leave.
func (r *Registry) InputMethodDestroyed(routingID string, leave bool) {
	var focus protocol.Surface
	if leave {
		focus = r.focusedSurface()
	}

	r.mu.Lock()
	var left []protocol.TextInput
	if focus != nil {
		left = r.markLeft(focus, func(inst *instance) bool {
			return inst.routingID == routingID || inst.routingID == ""
		})
		r.clearActive()
	}
	for _, inst := range r.instances {
		if inst.routingID == routingID {
			inst.routingID = ""
		}
	}
	r.mu.Unlock()

	for _, ti := range left {
		ti.Leave(focus)
	}
}

// InputMethodFor returns the routing id id is bound to.
func (r *Registry) InputMethodFor(id protocol.ObjectID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.find(id)
	if inst == nil || inst.routingID == "" {
		return "", false
	}
	return inst.routingID, true
}

// RebindByAppID rebinds text-inputs by their application id. Keys of
// bindings are text-input app ids, values routing ids.
func (r *Registry) RebindByAppID(bindings map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, inst := range r.instances {
		if rid, ok := bindings[inst.appID]; ok {
			inst.routingID = rid
			n++
		}
	}
	return n
}

// Active returns the active text-input and its binding.
func (r *Registry) Active() (protocol.TextInput, string, bool) {
	focus := r.focusedSurface()

	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.activeInstance(focus)
	if inst == nil {
		return nil, "", false
	}
	return inst.resource, inst.routingID, true
}

// ActiveSerialOr returns the serial of the active text-input, or def
// when none is active.
func (r *Registry) ActiveSerialOr(def uint32) uint32 {
	focus := r.focusedSurface()

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst := r.activeInstance(focus); inst != nil {
		return inst.serial.Current()
	}
	return def
}

// Done sends done to the active text-input: its current serial, or
// serial.Discard when discard is set. It reports whether a text-input
// received it.
func (r *Registry) Done(discard bool) bool {
	focus := r.focusedSurface()

	r.mu.Lock()
	inst := r.activeInstance(focus)
	if inst == nil {
		r.mu.Unlock()
		return false
	}
	ti, s := inst.resource, serial.DoneSerial(discard, inst.serial.Current())
	r.mu.Unlock()

	if discard {
		r.logger.Debug("discarding text-input state due to serial", "object", ti.ID())
	}
	ti.Done(s)
	return true
}

// WithActive calls fn with the active text-input and its serial.
func (r *Registry) WithActive(fn func(ti protocol.TextInput, serial uint32)) bool {
	focus := r.focusedSurface()

	r.mu.Lock()
	inst := r.activeInstance(focus)
	if inst == nil {
		r.mu.Unlock()
		return false
	}
	ti, s := inst.resource, inst.serial.Current()
	r.mu.Unlock()

	fn(ti, s)
	return true
}

func (r *Registry) focusedSurface() protocol.Surface {
	if r.focus == nil {
		return nil
	}
	return r.focus.Focus()
}

// markEntered flags the not yet entered text-inputs of surface's client
// that match keep and returns them. Caller holds mu.
func (r *Registry) markEntered(surface protocol.Surface, keep func(*instance) bool) []protocol.TextInput {
	var out []protocol.TextInput
	for _, inst := range r.instances {
		if inst.entered || !protocol.SameClient(inst.resource, surface) || !keep(inst) {
			continue
		}
		inst.entered = true
		out = append(out, inst.resource)
	}
	return out
}

// markLeft is the inverse of markEntered. Caller holds mu.
func (r *Registry) markLeft(surface protocol.Surface, keep func(*instance) bool) []protocol.TextInput {
	var out []protocol.TextInput
	for _, inst := range r.instances {
		if !inst.entered || !protocol.SameClient(inst.resource, surface) || !keep(inst) {
			continue
		}
		inst.entered = false
		out = append(out, inst.resource)
	}
	return out
}

// activeInstance returns the active instance if its client holds focus.
// Caller holds mu.
func (r *Registry) activeInstance(focus protocol.Surface) *instance {
	if !r.hasActive || focus == nil {
		return nil
	}
	inst := r.find(r.active)
	if inst == nil || !protocol.SameClient(inst.resource, focus) {
		return nil
	}
	return inst
}

// clearActive drops the active selection. Caller holds mu.
func (r *Registry) clearActive() {
	if !r.hasActive {
		return
	}
	if inst := r.find(r.active); inst != nil {
		inst.committed.Enabled = false
	}
	r.hasActive = false
}

func (r *Registry) find(id protocol.ObjectID) *instance {
	if i := r.index(id); i >= 0 {
		return r.instances[i]
	}
	return nil
}

func (r *Registry) index(id protocol.ObjectID) int {
	for i, inst := range r.instances {
		if inst.resource.ID() == id {
			return i
		}
	}
	return -1
}

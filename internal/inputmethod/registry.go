// Package inputmethod owns the input-method objects of a seat, the
// seat's current input method, and the anchors of their popups.
package inputmethod

import (
	"errors"
	"fmt"
	"sync"

	"imbridge/internal/logging"
	"imbridge/internal/protocol"
	"imbridge/internal/serial"
)

// ErrDuplicateRoutingID is returned by Add when the routing id is taken.
var ErrDuplicateRoutingID = errors.New("inputmethod: routing id already registered")

// ErrDuplicateObject is returned by Add when the object is registered.
var ErrDuplicateObject = errors.New("inputmethod: object already registered")

// TextInputs is the text-input side as seen from a dying input method.
type TextInputs interface {
	// InputMethodDestroyed unbinds text-inputs bound to routingID. With
	// leave set the focused client's text-inputs also receive leave.
	InputMethodDestroyed(routingID string, leave bool)
}

type instance struct {
	resource  protocol.InputMethod
	routingID string
	popup     protocol.Popup
	activated bool
}

// Registry holds every input method of one seat.
type Registry struct {
	mu         sync.Mutex
	instances  []*instance
	current    string
	hasCurrent bool

	seat       protocol.Seat
	popups     protocol.PopupStates
	textInputs TextInputs
	serials    *serial.Source
	logger     *logging.Logger
}

// Options configures a Registry.
type Options struct {
	Seat       protocol.Seat
	Popups     protocol.PopupStates
	TextInputs TextInputs
	// Serials generates serials for modifiers sent outside a text-input
	// transaction. Nil uses the process-wide source.
	Serials *serial.Source
	Logger  *logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		seat:       opts.Seat,
		popups:     opts.Popups,
		textInputs: opts.TextInputs,
		serials:    opts.Serials,
		logger:     logger.WithComponent("inputmethod"),
	}
}

// Add registers im under routingID. The first input method becomes
// current.
func (r *Registry) Add(im protocol.InputMethod, routingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findObject(im.ID()) != nil {
		return fmt.Errorf("add %d: %w", im.ID(), ErrDuplicateObject)
	}
	if r.find(routingID) != nil {
		return fmt.Errorf("add %q: %w", routingID, ErrDuplicateRoutingID)
	}
	r.instances = append(r.instances, &instance{resource: im, routingID: routingID})
	if !r.hasCurrent {
		r.current, r.hasCurrent = routingID, true
	}
	r.logger.Debug("input method added", "object", im.ID(), "client", im.Client(), "routing_id", routingID)
	return nil
}

// Len returns the number of live input methods.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Current returns the routing id of the current input method.
func (r *Registry) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.hasCurrent
}

// RoutingID returns the routing id of the input-method object id.
func (r *Registry) RoutingID(id protocol.ObjectID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst := r.findObject(id); inst != nil {
		return inst.routingID, true
	}
	return "", false
}

// RoutingIDs returns the routing ids of every live input method in
// registration order.
func (r *Registry) RoutingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.instances))
	for i, inst := range r.instances {
		out[i] = inst.routingID
	}
	return out
}

// Resolve picks the input method serving a text-input bound to bound:
// the bound one when live, else the current one, else the earliest
// registered. ok is false only when no input method is live.
func (r *Registry) Resolve(bound string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound != "" && r.find(bound) != nil {
		return bound, true
	}
	if r.hasCurrent && r.find(r.current) != nil {
		return r.current, true
	}
	if len(r.instances) > 0 {
		return r.instances[0].routingID, true
	}
	return "", false
}

// WithInstance calls fn with the input method registered under
// routingID. It does nothing when there is none.
func (r *Registry) WithInstance(routingID string, fn func(im protocol.InputMethod)) bool {
	r.mu.Lock()
	inst := r.find(routingID)
	if inst == nil {
		r.mu.Unlock()
		return false
	}
	im := inst.resource
	r.mu.Unlock()

	fn(im)
	return true
}

// Activate makes routingID current and sends activate. The first
// activation of an instance also carries the keyboard state.
func (r *Registry) Activate(routingID, appID string) bool {
	r.mu.Lock()
	r.current, r.hasCurrent = routingID, true
	inst := r.find(routingID)
	if inst == nil {
		r.mu.Unlock()
		r.logger.Debug("activate for missing input method", "routing_id", routingID)
		return false
	}
	first := !inst.activated
	inst.activated = true
	im := inst.resource
	r.mu.Unlock()

	im.Activate(appID)
	if first {
		r.synchronize(im)
	}
	return true
}

// Deactivate sends deactivate (and done when sendDone is set) to
// routingID, dismisses its popup, and drops it as current.
func (r *Registry) Deactivate(routingID string, sendDone bool) bool {
	r.mu.Lock()
	if r.hasCurrent && r.current == routingID {
		r.hasCurrent = false
		r.current = ""
	}
	inst := r.find(routingID)
	if inst == nil {
		r.mu.Unlock()
		return false
	}
	im, popup := inst.resource, inst.popup
	inst.popup = nil
	r.mu.Unlock()

	im.Deactivate()
	if sendDone {
		im.Done()
	}
	if popup != nil {
		popup.PopupDone()
		r.clearAnchor(popup)
	}
	return true
}

// Synchronize sends the seat's keymap, repeat info, and modifiers to
// routingID.
func (r *Registry) Synchronize(routingID string) bool {
	return r.WithInstance(routingID, r.synchronize)
}

// SynchronizeAll sends keymap and repeat info to every live input method
// and returns how many were updated.
func (r *Registry) SynchronizeAll() int {
	n := 0
	for _, id := range r.RoutingIDs() {
		if r.Synchronize(id) {
			n++
		}
	}
	return n
}

func (r *Registry) synchronize(im protocol.InputMethod) {
	if r.seat == nil {
		return
	}
	keymap, err := r.seat.Keymap()
	if err != nil {
		r.logger.Warn("failed to send keymap to input method", "object", im.ID(), "error", err)
	} else {
		im.Keymap(keymap)
	}
	im.RepeatInfo(r.seat.RepeatInfo())
	if err == nil {
		im.Modifiers(r.nextSerial(), r.seat.Modifiers())
	}
}

func (r *Registry) nextSerial() uint32 {
	if r.serials != nil {
		return r.serials.Next()
	}
	return serial.Next()
}

// Destroyed removes the input-method object id. When it was current the
// text-input side is told to send leave to the focused client.
func (r *Registry) Destroyed(id protocol.ObjectID) bool {
	r.mu.Lock()
	idx := r.indexObject(id)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	inst := r.instances[idx]
	r.instances = append(r.instances[:idx], r.instances[idx+1:]...)
	wasCurrent := r.hasCurrent && r.current == inst.routingID
	if wasCurrent {
		r.hasCurrent = false
		r.current = ""
	}
	textInputs := r.textInputs
	r.mu.Unlock()

	r.logger.Debug("input method destroyed", "object", id, "routing_id", inst.routingID, "current", wasCurrent)

	if inst.popup != nil {
		r.clearAnchor(inst.popup)
	}
	if textInputs != nil {
		textInputs.InputMethodDestroyed(inst.routingID, wasCurrent)
	}
	return true
}

// SetPopup records popup as the popup of the input-method object id and
// anchors it to parent. A replaced popup loses its anchor.
func (r *Registry) SetPopup(id protocol.ObjectID, popup protocol.Popup, parent protocol.Surface) bool {
	r.mu.Lock()
	inst := r.findObject(id)
	if inst == nil {
		r.mu.Unlock()
		return false
	}
	old := inst.popup
	inst.popup = popup
	r.mu.Unlock()

	if old != nil && old != popup {
		r.clearAnchor(old)
	}
	r.setAnchor(popup, parent)
	return true
}

// PopupDestroyed forgets popup if an input method still owns it.
func (r *Registry) PopupDestroyed(popup protocol.Popup) bool {
	r.mu.Lock()
	var owned bool
	for _, inst := range r.instances {
		if inst.popup == popup {
			inst.popup = nil
			owned = true
			break
		}
	}
	r.mu.Unlock()

	if owned {
		r.clearAnchor(popup)
	}
	return owned
}

func (r *Registry) setAnchor(popup protocol.Popup, parent protocol.Surface) {
	if r.popups == nil || popup == nil {
		return
	}
	r.popups.WithPopupState(popup.Surface(), func(s *protocol.PopupState) {
		s.Parent = parent
	})
}

func (r *Registry) clearAnchor(popup protocol.Popup) {
	r.setAnchor(popup, nil)
}

func (r *Registry) find(routingID string) *instance {
	for _, inst := range r.instances {
		if inst.routingID == routingID {
			return inst
		}
	}
	return nil
}

func (r *Registry) findObject(id protocol.ObjectID) *instance {
	if i := r.indexObject(id); i >= 0 {
		return r.instances[i]
	}
	return nil
}

func (r *Registry) indexObject(id protocol.ObjectID) int {
	for i, inst := range r.instances {
		if inst.resource.ID() == id {
			return i
		}
	}
	return -1
}

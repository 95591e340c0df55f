// Package focus tracks the keyboard focus of a seat for the text-input
// side of the bridge and drives enter/leave fan-out.
//
// The router never emits events from SetFocus. A focus change is always
//
//	router.Leave()        // old focus, clears the active text input
//	router.SetFocus(next)
//	router.Enter()        // new focus
package focus

import (
	"sync"

	"imbridge/internal/logging"
	"imbridge/internal/protocol"
)

// Targets receives the enter/leave fan-out. The text-input registry
// implements it.
type Targets interface {
	// EnterFocused sends enter to every text-input of surface's client.
	EnterFocused(surface protocol.Surface)
	// LeaveFocused clears the active text-input and sends leave to every
	// text-input of surface's client. surface may be nil, in which case
	// only the active selection is cleared.
	LeaveFocused(surface protocol.Surface)
}

// Router holds the focused surface of one seat.
type Router struct {
	mu      sync.Mutex
	focus   protocol.Surface
	targets Targets
	logger  *logging.Logger
}

// NewRouter returns a router with no focus.
func NewRouter(logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{logger: logger.WithComponent("focus")}
}

// Attach sets the receiver of enter/leave fan-out.
func (r *Router) Attach(t Targets) {
	r.mu.Lock()
	r.targets = t
	r.mu.Unlock()
}

// SetFocus stores the new focus without emitting anything.
func (r *Router) SetFocus(surface protocol.Surface) {
	r.mu.Lock()
	r.focus = surface
	r.mu.Unlock()
}

// Focus returns the focused surface, or nil when there is none or the
// surface has been destroyed.
func (r *Router) Focus() protocol.Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveFocus()
}

// Owns reports whether the focused surface belongs to res's client.
func (r *Router) Owns(res protocol.Resource) bool {
	return protocol.SameClient(r.Focus(), res)
}

// Leave fans out leave for the current focus and clears the active
// text-input.
func (r *Router) Leave() {
	r.mu.Lock()
	surface, targets := r.liveFocus(), r.targets
	r.mu.Unlock()

	if targets == nil {
		return
	}
	if surface != nil {
		r.logger.Debug("leave", "surface", surface.ID(), "client", surface.Client())
	}
	targets.LeaveFocused(surface)
}

// Enter fans out enter for the current focus.
func (r *Router) Enter() {
	r.mu.Lock()
	surface, targets := r.liveFocus(), r.targets
	r.mu.Unlock()

	if targets == nil || surface == nil {
		return
	}
	r.logger.Debug("enter", "surface", surface.ID(), "client", surface.Client())
	targets.EnterFocused(surface)
}

// liveFocus returns the focus if still alive. Caller holds mu.
func (r *Router) liveFocus() protocol.Surface {
	if r.focus == nil || !r.focus.Alive() {
		return nil
	}
	return r.focus
}

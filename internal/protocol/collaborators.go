package protocol

// KeyboardPipeline is the ordinary keyboard delivery path of a seat.
// Forward delivers a key event to the client holding keyboard focus.
type KeyboardPipeline interface {
	Forward(code uint32, state KeyState, serial, time uint32)
}

// PopupState is the per-surface data the compositor keeps for a popup.
type PopupState struct {
	// Parent is the surface the popup is placed against, nil when the
	// popup is unanchored.
	Parent Surface
}

// PopupStates gives access to the compositor's per-surface popup state.
// fn runs with the state locked; it must not call back into the bridge.
type PopupStates interface {
	WithPopupState(surface Surface, fn func(*PopupState))
}

// Seat exposes the keyboard configuration of a seat.
type Seat interface {
	Name() string
	Keymap() (Keymap, error)
	RepeatInfo() RepeatInfo
	Modifiers() ModifiersState
}

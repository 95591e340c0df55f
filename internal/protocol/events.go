package protocol

// TextInput is the compositor side of a text-input object. Its
// methods send events to the owning client.
type TextInput interface {
	Resource

	Enter(surface Surface)
	Leave(surface Surface)
	Done(serial uint32)

	CommitString(text string)
	PreeditString(text string, cursorBegin, cursorEnd int32)
	DeleteSurroundingText(beforeLength, afterLength uint32)
	Action(action Action, serial uint32)
	Language(language string)
	PreeditCommitMode(mode PreeditCommitMode)
	PreeditStyle(style PreeditStyle)
}

// InputMethod is the compositor side of an input-method object.
type InputMethod interface {
	Resource

	Activate(appID string)
	Deactivate()
	Done()

	Key(serial, time, code uint32, state KeyState)
	Modifiers(serial uint32, mods ModifiersState)

	SurroundingText(text SurroundingText)
	ContentType(contentType ContentType)
	TextChangeCause(cause ChangeCause)
	CursorRectangle(rect Rectangle)
	AvailableActions(actions []Action)

	Keymap(keymap Keymap)
	RepeatInfo(info RepeatInfo)
}

// Popup is an input-method popup surface.
type Popup interface {
	Resource

	// Surface returns the surface whose parent association is tracked.
	Surface() Surface
	PopupDone()
}

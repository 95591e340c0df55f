// Package protocol holds the data model shared by both sides of the
// text-input / input-method bridge: object identities, surfaces, the
// enum values carried by requests and events, and the value types
// for text field state.
//
// Nothing in this package performs wire marshaling. The wire layer
// translates protocol messages into these types and implements the
// event interfaces in events.go on top of its own objects.
package protocol

import "fmt"

// ClientID identifies a connected client.
type ClientID uint64

// ObjectID identifies a protocol object. IDs are unique per display,
// not per client.
type ObjectID uint64

// Resource is anything owned by a client.
type Resource interface {
	ID() ObjectID
	Client() ClientID
}

// Surface is a client surface that can hold keyboard focus.
type Surface interface {
	Resource
	// Alive reports whether the surface has not been destroyed yet.
	Alive() bool
}

// SameClient reports whether a and b belong to the same client.
// A nil operand never matches.
func SameClient(a, b Resource) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Client() == b.Client()
}

// KeyState is the state of a physical key.
type KeyState uint32

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
)

func (s KeyState) String() string {
	switch s {
	case KeyReleased:
		return "released"
	case KeyPressed:
		return "pressed"
	default:
		return fmt.Sprintf("KeyState(%d)", uint32(s))
	}
}

// KeyForwardMode tells the compositor how an input method wants a
// buffered key delivered to the focused client.
type KeyForwardMode uint32

const (
	// KeyForwardSingle delivers only the stored key event.
	KeyForwardSingle KeyForwardMode = 0
	// KeyForwardRepeating delivers the stored event followed by an
	// immediate release.
	KeyForwardRepeating KeyForwardMode = 1
)

// ContentHint is a bitmask describing the expected text field content.
type ContentHint uint32

const (
	HintNone               ContentHint = 0x0
	HintCompletion         ContentHint = 0x1
	HintSpellcheck         ContentHint = 0x2
	HintAutoCapitalization ContentHint = 0x4
	HintLowercase          ContentHint = 0x8
	HintUppercase          ContentHint = 0x10
	HintTitlecase          ContentHint = 0x20
	HintHiddenText         ContentHint = 0x40
	HintSensitiveData      ContentHint = 0x80
	HintLatin              ContentHint = 0x100
	HintMultiline          ContentHint = 0x200
)

// ContentPurpose is the primary purpose of a text field.
type ContentPurpose uint32

const (
	PurposeNormal ContentPurpose = iota
	PurposeAlpha
	PurposeDigits
	PurposeNumber
	PurposePhone
	PurposeURL
	PurposeEmail
	PurposeName
	PurposePassword
	PurposePin
	PurposeDate
	PurposeTime
	PurposeDatetime
	PurposeTerminal
)

// ChangeCause says who changed the surrounding text last.
type ChangeCause uint32

const (
	CauseInputMethod ChangeCause = 0
	CauseOther       ChangeCause = 1
)

// Action is an editing action an input method may request.
type Action uint32

const (
	ActionNone Action = iota
	ActionSubmit
	ActionCopy
	ActionPaste
	ActionCut
	ActionUndo
	ActionRedo
	ActionSelectAll
)

// PreeditCommitMode controls what happens to preedit text on focus
// loss.
type PreeditCommitMode uint32

const (
	PreeditCommitClear  PreeditCommitMode = 0
	PreeditCommitCommit PreeditCommitMode = 1
)

// Underline is the underline style of a preedit segment.
type Underline uint32

const (
	UnderlineNone Underline = iota
	UnderlineSingle
	UnderlineDouble
	UnderlineWavy
)

// KeymapFormat is the format of a keymap shared over an fd.
type KeymapFormat uint32

const (
	KeymapNone  KeymapFormat = 0
	KeymapXkbV1 KeymapFormat = 1
)

// ModifiersState is a serialized XKB modifier snapshot.
type ModifiersState struct {
	Depressed uint32
	Latched   uint32
	Locked    uint32
	Layout    uint32
}

// Rectangle is a surface-local rectangle.
type Rectangle struct {
	X, Y          int32
	Width, Height int32
}

// SurroundingText is the text around the cursor of a text field.
// Cursor and Anchor are byte offsets into Text.
type SurroundingText struct {
	Text   string
	Cursor uint32
	Anchor uint32
}

// ContentType pairs the hint bitmask with the purpose.
type ContentType struct {
	Hint    ContentHint
	Purpose ContentPurpose
}

// PreeditStyle styles a byte range of the preedit string.
type PreeditStyle struct {
	Begin     uint32
	End       uint32
	Underline Underline
	Style     uint32
	Color     uint32
}

// Keymap describes a keymap shared with a client through a file
// descriptor. The descriptor stays owned by the provider.
type Keymap struct {
	Format KeymapFormat
	Fd     int
	Size   uint32
}

// RepeatInfo is the key repeat configuration of a keyboard.
type RepeatInfo struct {
	// Rate is repeats per second; zero disables repeat.
	Rate int32
	// Delay is milliseconds before repeating starts.
	Delay int32
}

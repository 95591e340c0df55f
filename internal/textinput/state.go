package textinput

import "imbridge/internal/protocol"

// Fields is the double-buffered text field state. A nil field is
// absent: it was not set since the last commit (pending) or never set
// (committed).
type Fields struct {
	SurroundingText *protocol.SurroundingText
	ContentType     *protocol.ContentType
	CursorRectangle *protocol.Rectangle
	ChangeCause     *protocol.ChangeCause
}

// Empty reports whether no field is present.
func (f Fields) Empty() bool {
	return f.SurroundingText == nil && f.ContentType == nil &&
		f.CursorRectangle == nil && f.ChangeCause == nil
}

// overlay copies every field present in src over f.
func (f *Fields) overlay(src Fields) {
	if src.SurroundingText != nil {
		v := *src.SurroundingText
		f.SurroundingText = &v
	}
	if src.ContentType != nil {
		v := *src.ContentType
		f.ContentType = &v
	}
	if src.CursorRectangle != nil {
		v := *src.CursorRectangle
		f.CursorRectangle = &v
	}
	if src.ChangeCause != nil {
		v := *src.ChangeCause
		f.ChangeCause = &v
	}
}

// clone returns a deep copy.
func (f Fields) clone() Fields {
	var out Fields
	out.overlay(f)
	return out
}

// Pending is the state accumulated between two commits.
type Pending struct {
	// Enable is nil when neither enable nor disable was requested.
	Enable *bool
	Fields
}

// State is the committed state of a text-input.
type State struct {
	Enabled bool
	Fields
}

// Outcome is what a commit did.
type Outcome int

const (
	// Discarded means the commit changed nothing but the serial.
	Discarded Outcome = iota
	// Enabled means the text-input became (or stayed) active through an
	// enable request.
	Enabled
	// Disabled means the commit disabled the text-input.
	Disabled
	// Updated means an already active text-input pushed new state.
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Discarded:
		return "discarded"
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of one text-input's bookkeeping.
type Snapshot struct {
	ID        protocol.ObjectID
	Client    protocol.ClientID
	AppID     string
	RoutingID string
	Serial    uint32
	Active    bool
	Committed State
}

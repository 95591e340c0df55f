// Package protocoltest provides recording implementations of the
// protocol interfaces for tests and for trace replay.
package protocoltest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"imbridge/internal/protocol"
)

// Event is one recorded protocol event.
type Event struct {
	Object protocol.ObjectID
	Name   string
	Args   []any
}

func (e Event) String() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("#%d.%s", e.Object, e.Name)
	}
	return fmt.Sprintf("#%d.%s(%s)", e.Object, e.Name, e.ArgString())
}

// ArgString formats the arguments comma-separated.
func (e Event) ArgString() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ", ")
}

// Journal records events from every fake sharing it, in emission order.
type Journal struct {
	mu     sync.Mutex
	events []Event
	// OnEvent, when set, is called after each event is recorded.
	OnEvent func(Event)
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

func (j *Journal) add(obj protocol.ObjectID, name string, args ...any) {
	e := Event{Object: obj, Name: name, Args: args}
	j.mu.Lock()
	j.events = append(j.events, e)
	hook := j.OnEvent
	j.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

// Events returns a copy of all recorded events.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// For returns the events recorded for obj.
func (j *Journal) For(obj protocol.ObjectID) []Event {
	var out []Event
	for _, e := range j.Events() {
		if e.Object == obj {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the event names recorded for obj.
func (j *Journal) Names(obj protocol.ObjectID) []string {
	var out []string
	for _, e := range j.For(obj) {
		out = append(out, e.Name)
	}
	return out
}

// Count returns how many events called name were recorded for obj.
func (j *Journal) Count(obj protocol.ObjectID, name string) int {
	n := 0
	for _, e := range j.For(obj) {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Named returns every event called name, across all objects.
func (j *Journal) Named(name string) []Event {
	var out []Event
	for _, e := range j.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.events = nil
	j.mu.Unlock()
}

// Surface is a fake surface.
type Surface struct {
	id     protocol.ObjectID
	client protocol.ClientID
	dead   atomic.Bool
}

// NewSurface returns a live surface.
func NewSurface(id protocol.ObjectID, client protocol.ClientID) *Surface {
	return &Surface{id: id, client: client}
}

func (s *Surface) ID() protocol.ObjectID     { return s.id }
func (s *Surface) Client() protocol.ClientID { return s.client }
func (s *Surface) Alive() bool               { return !s.dead.Load() }

// Kill marks the surface destroyed.
func (s *Surface) Kill() { s.dead.Store(true) }

// TextInput records text-input events.
type TextInput struct {
	id      protocol.ObjectID
	client  protocol.ClientID
	journal *Journal
}

// NewTextInput returns a text-input recording into j.
func NewTextInput(j *Journal, id protocol.ObjectID, client protocol.ClientID) *TextInput {
	return &TextInput{id: id, client: client, journal: j}
}

func (t *TextInput) ID() protocol.ObjectID     { return t.id }
func (t *TextInput) Client() protocol.ClientID { return t.client }

func (t *TextInput) Enter(s protocol.Surface) { t.journal.add(t.id, "enter", s.ID()) }
func (t *TextInput) Leave(s protocol.Surface) { t.journal.add(t.id, "leave", s.ID()) }
func (t *TextInput) Done(serial uint32)       { t.journal.add(t.id, "done", serial) }

func (t *TextInput) CommitString(text string) { t.journal.add(t.id, "commit_string", text) }

func (t *TextInput) PreeditString(text string, begin, end int32) {
	t.journal.add(t.id, "preedit_string", text, begin, end)
}

func (t *TextInput) DeleteSurroundingText(before, after uint32) {
	t.journal.add(t.id, "delete_surrounding_text", before, after)
}

func (t *TextInput) Action(a protocol.Action, serial uint32) {
	t.journal.add(t.id, "action", a, serial)
}

func (t *TextInput) Language(lang string) { t.journal.add(t.id, "language", lang) }

func (t *TextInput) PreeditCommitMode(m protocol.PreeditCommitMode) {
	t.journal.add(t.id, "preedit_commit_mode", m)
}

func (t *TextInput) PreeditStyle(s protocol.PreeditStyle) {
	t.journal.add(t.id, "preedit_style", s)
}

// InputMethod records input-method events.
type InputMethod struct {
	id      protocol.ObjectID
	client  protocol.ClientID
	journal *Journal
}

// NewInputMethod returns an input-method recording into j.
func NewInputMethod(j *Journal, id protocol.ObjectID, client protocol.ClientID) *InputMethod {
	return &InputMethod{id: id, client: client, journal: j}
}

func (m *InputMethod) ID() protocol.ObjectID     { return m.id }
func (m *InputMethod) Client() protocol.ClientID { return m.client }

func (m *InputMethod) Activate(appID string) { m.journal.add(m.id, "activate", appID) }
func (m *InputMethod) Deactivate()           { m.journal.add(m.id, "deactivate") }
func (m *InputMethod) Done()                 { m.journal.add(m.id, "done") }

func (m *InputMethod) Key(serial, time, code uint32, state protocol.KeyState) {
	m.journal.add(m.id, "key", serial, time, code, state)
}

func (m *InputMethod) Modifiers(serial uint32, mods protocol.ModifiersState) {
	m.journal.add(m.id, "modifiers", serial, mods)
}

func (m *InputMethod) SurroundingText(st protocol.SurroundingText) {
	m.journal.add(m.id, "surrounding_text", st.Text, st.Cursor, st.Anchor)
}

func (m *InputMethod) ContentType(ct protocol.ContentType) {
	m.journal.add(m.id, "content_type", ct.Hint, ct.Purpose)
}

func (m *InputMethod) TextChangeCause(c protocol.ChangeCause) {
	m.journal.add(m.id, "text_change_cause", c)
}

func (m *InputMethod) CursorRectangle(r protocol.Rectangle) {
	m.journal.add(m.id, "cursor_rectangle", r)
}

func (m *InputMethod) AvailableActions(actions []protocol.Action) {
	m.journal.add(m.id, "available_actions", append([]protocol.Action(nil), actions...))
}

func (m *InputMethod) Keymap(k protocol.Keymap) { m.journal.add(m.id, "keymap", k.Format, k.Size) }

func (m *InputMethod) RepeatInfo(r protocol.RepeatInfo) {
	m.journal.add(m.id, "repeat_info", r.Rate, r.Delay)
}

// Popup records popup events.
type Popup struct {
	id      protocol.ObjectID
	surface *Surface
	journal *Journal
}

// NewPopup returns a popup backed by surface.
func NewPopup(j *Journal, id protocol.ObjectID, surface *Surface) *Popup {
	return &Popup{id: id, surface: surface, journal: j}
}

func (p *Popup) ID() protocol.ObjectID     { return p.id }
func (p *Popup) Client() protocol.ClientID { return p.surface.Client() }
func (p *Popup) Surface() protocol.Surface { return p.surface }
func (p *Popup) PopupDone()                { p.journal.add(p.id, "popup_done") }

// Forwarded is one key delivered through the keyboard pipeline.
type Forwarded struct {
	Code   uint32
	State  protocol.KeyState
	Serial uint32
	Time   uint32
}

// Keyboard is a recording keyboard pipeline.
type Keyboard struct {
	mu   sync.Mutex
	keys []Forwarded
}

// Forward implements protocol.KeyboardPipeline.
func (k *Keyboard) Forward(code uint32, state protocol.KeyState, serial, time uint32) {
	k.mu.Lock()
	k.keys = append(k.keys, Forwarded{Code: code, State: state, Serial: serial, Time: time})
	k.mu.Unlock()
}

// Keys returns the forwarded keys in order.
func (k *Keyboard) Keys() []Forwarded {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Forwarded(nil), k.keys...)
}

// PopupStates is an in-memory popup state store.
type PopupStates struct {
	mu     sync.Mutex
	states map[protocol.ObjectID]*protocol.PopupState
}

// NewPopupStates returns an empty store.
func NewPopupStates() *PopupStates {
	return &PopupStates{states: make(map[protocol.ObjectID]*protocol.PopupState)}
}

// WithPopupState implements protocol.PopupStates.
func (p *PopupStates) WithPopupState(surface protocol.Surface, fn func(*protocol.PopupState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[surface.ID()]
	if !ok {
		st = &protocol.PopupState{}
		p.states[surface.ID()] = st
	}
	fn(st)
}

// Parent returns the parent recorded for the popup surface.
func (p *PopupStates) Parent(surface protocol.Surface) protocol.Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[surface.ID()]; ok {
		return st.Parent
	}
	return nil
}

// Seat is a fake seat with a fixed keyboard configuration.
type Seat struct {
	SeatName   string
	KeymapData protocol.Keymap
	KeymapErr  error
	Repeat     protocol.RepeatInfo
	Mods       protocol.ModifiersState
}

// NewSeat returns a seat with an XKB keymap, 25 Hz / 600 ms repeat.
func NewSeat(name string) *Seat {
	return &Seat{
		SeatName:   name,
		KeymapData: protocol.Keymap{Format: protocol.KeymapXkbV1, Fd: -1, Size: 4096},
		Repeat:     protocol.RepeatInfo{Rate: 25, Delay: 600},
	}
}

func (s *Seat) Name() string                       { return s.SeatName }
func (s *Seat) Keymap() (protocol.Keymap, error)   { return s.KeymapData, s.KeymapErr }
func (s *Seat) RepeatInfo() protocol.RepeatInfo    { return s.Repeat }
func (s *Seat) Modifiers() protocol.ModifiersState { return s.Mods }

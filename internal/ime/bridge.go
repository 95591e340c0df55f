// Package ime couples the text-input and input-method sides of one seat.
//
// A Bridge owns the focus router, both registries, and the key log of a
// seat. The wire layer calls the TextInput*, InputMethod*, and keyboard
// methods from its single dispatch goroutine; every method completes
// synchronously.
//
//	text field  ──commit──▶ textinput.Registry ──enable/push──▶ inputmethod.Registry ──▶ IME
//	IME ──commit_string/preedit/done──▶ active text-input
//	keyboard ──▶ keylog ──key/modifiers──▶ IME, then normal delivery
package ime

import (
	"fmt"

	"github.com/google/uuid"

	"imbridge/internal/focus"
	"imbridge/internal/inputmethod"
	"imbridge/internal/keylog"
	"imbridge/internal/logging"
	"imbridge/internal/metrics"
	"imbridge/internal/protocol"
	"imbridge/internal/serial"
	"imbridge/internal/textinput"
)

// Options configures a Bridge.
type Options struct {
	Seat     protocol.Seat
	Keyboard protocol.KeyboardPipeline
	Popups   protocol.PopupStates

	// Bindings maps text-input app ids to the routing id of the input
	// method that serves them. Unlisted app ids follow the current
	// input method.
	Bindings map[string]string

	// Serials generates serials outside text-input transactions. Nil
	// uses the process-wide source.
	Serials *serial.Source
	Metrics *metrics.BridgeMetrics
	Logger  *logging.Logger
}

// Bridge is the activation coordinator of one seat.
type Bridge struct {
	id       uuid.UUID
	seatName string
	keyboard protocol.KeyboardPipeline
	bindings map[string]string

	focus        *focus.Router
	textInputs   *textinput.Registry
	inputMethods *inputmethod.Registry
	keys         *keylog.Log

	metrics *metrics.BridgeMetrics
	logger  *logging.Logger
}

// New wires a Bridge for opts.Seat.
func New(opts Options) *Bridge {
	id := uuid.New()
	seatName := "seat0"
	if opts.Seat != nil {
		seatName = opts.Seat.Name()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithSeat(seatName, id.String())

	m := opts.Metrics
	if m == nil {
		m = metrics.NewBridgeMetrics(metrics.NewRegistry("imbridge", ""), seatName)
	}

	router := focus.NewRouter(logger)
	tis := textinput.NewRegistry(router, logger)
	router.Attach(tis)
	ims := inputmethod.NewRegistry(inputmethod.Options{
		Seat:       opts.Seat,
		Popups:     opts.Popups,
		TextInputs: tis,
		Serials:    opts.Serials,
		Logger:     logger,
	})

	b := &Bridge{
		id:           id,
		seatName:     seatName,
		keyboard:     opts.Keyboard,
		bindings:     copyBindings(opts.Bindings),
		focus:        router,
		textInputs:   tis,
		inputMethods: ims,
		keys:         keylog.New(),
		metrics:      m,
		logger:       logger.WithComponent("ime"),
	}
	tis.SetCoordinator(coordinator{b})
	return b
}

func copyBindings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ID returns the identity of this bridge instance.
func (b *Bridge) ID() uuid.UUID { return b.id }

// SeatName returns the name of the seat the bridge serves.
func (b *Bridge) SeatName() string { return b.seatName }

// Metrics returns the bridge metrics.
func (b *Bridge) Metrics() *metrics.BridgeMetrics { return b.metrics }

// TextInputs exposes the text-input registry for inspection.
func (b *Bridge) TextInputs() *textinput.Registry { return b.textInputs }

// InputMethods exposes the input-method registry for inspection.
func (b *Bridge) InputMethods() *inputmethod.Registry { return b.inputMethods }

// KeyLog exposes the key log for inspection.
func (b *Bridge) KeyLog() *keylog.Log { return b.keys }

// Focus returns the focused surface.
func (b *Bridge) Focus() protocol.Surface { return b.focus.Focus() }

// Binding

// BindTextInput registers a new text-input created for the application
// appID. It receives enter right away when its client holds focus.
func (b *Bridge) BindTextInput(ti protocol.TextInput, appID string) error {
	if !b.textInputs.Add(ti, appID, b.bindings[appID]) {
		return fmt.Errorf("bind text-input %d: already bound", ti.ID())
	}
	b.metrics.TextInputs.Inc()
	b.textInputs.EnterIfFocused(ti.ID())
	return nil
}

// BindInputMethod registers a new input method under routingID. It is
// sent the keyboard state, and the focused client's text-inputs it
// serves receive enter.
func (b *Bridge) BindInputMethod(im protocol.InputMethod, routingID string) error {
	if err := b.inputMethods.Add(im, routingID); err != nil {
		b.logger.Warn("rejecting input method", "object", im.ID(), "routing_id", routingID, "error", err)
		return fmt.Errorf("bind input method: %w", err)
	}
	b.metrics.InputMethods.Inc()
	b.inputMethods.Synchronize(routingID)
	b.textInputs.BindFocused(routingID)
	return nil
}

// SetBindings replaces the app id -> routing id table and rebinds live
// text-inputs whose app id is listed.
func (b *Bridge) SetBindings(bindings map[string]string) int {
	b.bindings = copyBindings(bindings)
	return b.textInputs.RebindByAppID(b.bindings)
}

// RefreshKeyboard resends keymap, repeat info, and modifiers to every
// live input method, after the seat's keyboard configuration changed.
func (b *Bridge) RefreshKeyboard() int {
	n := b.inputMethods.SynchronizeAll()
	b.logger.Debug("keyboard state refreshed", "input_methods", n)
	return n
}

// Focus

// FocusChanged moves keyboard focus to surface (nil for none). The old
// focus's text-inputs receive leave before the new focus's receive
// enter. Losing an active text-input deactivates its input method with
// a trailing done.
func (b *Bridge) FocusChanged(surface protocol.Surface) {
	_, bound, wasActive := b.textInputs.Active()

	b.focus.Leave()
	b.focus.SetFocus(surface)

	if wasActive {
		if routingID, ok := b.inputMethods.Resolve(bound); ok {
			b.disable(routingID, true)
		}
	}
	b.focus.Enter()
}

// Keyboard

// KeyEvent is a physical key event on the seat.
type KeyEvent struct {
	Code   uint32
	State  protocol.KeyState
	Serial uint32
	Time   uint32

	// Mods is the modifier state after the key, sent along when HasMods
	// is set.
	Mods    protocol.ModifiersState
	HasMods bool
}

// HandleKey routes a physical key event. While an input method is
// current the key is recorded and sent to it under the event's own
// serial, which key-forward later names it by. The key is then
// delivered through the keyboard pipeline in every case. It reports
// whether the key was intercepted.
func (b *Bridge) HandleKey(ev KeyEvent) bool {
	intercepted := false
	if routingID, ok := b.inputMethods.Current(); ok {
		s := ev.Serial
		intercepted = b.inputMethods.WithInstance(routingID, func(im protocol.InputMethod) {
			b.keys.Record(keylog.Record{
				Code:    ev.Code,
				State:   ev.State,
				Serial:  s,
				Time:    ev.Time,
				Mods:    ev.Mods,
				HasMods: ev.HasMods,
			})
			im.Key(s, ev.Time, ev.Code, ev.State)
			if ev.HasMods {
				im.Modifiers(s, ev.Mods)
			}
		})
	}
	if intercepted {
		b.metrics.KeysIntercepted.Inc()
		b.metrics.KeyLogLength.Set(int64(b.keys.Len()))
	}

	if b.keyboard != nil {
		b.keyboard.Forward(ev.Code, ev.State, ev.Serial, ev.Time)
	}
	return intercepted
}

// Text-input requests

// TextInputEnable records a pending enable.
func (b *Bridge) TextInputEnable(id protocol.ObjectID) {
	b.textInputs.SetEnabled(id, true)
}

// TextInputDisable records a pending disable.
func (b *Bridge) TextInputDisable(id protocol.ObjectID) {
	b.textInputs.SetEnabled(id, false)
}

// TextInputSetSurroundingText records pending surrounding text.
func (b *Bridge) TextInputSetSurroundingText(id protocol.ObjectID, text string, cursor, anchor uint32) {
	b.textInputs.SetSurroundingText(id, protocol.SurroundingText{Text: text, Cursor: cursor, Anchor: anchor})
}

// TextInputSetContentType records a pending content type.
func (b *Bridge) TextInputSetContentType(id protocol.ObjectID, hint protocol.ContentHint, purpose protocol.ContentPurpose) {
	b.textInputs.SetContentType(id, protocol.ContentType{Hint: hint, Purpose: purpose})
}

// TextInputSetCursorRectangle records a pending cursor rectangle.
func (b *Bridge) TextInputSetCursorRectangle(id protocol.ObjectID, rect protocol.Rectangle) {
	b.textInputs.SetCursorRectangle(id, rect)
}

// TextInputSetTextChangeCause records a pending change cause.
func (b *Bridge) TextInputSetTextChangeCause(id protocol.ObjectID, cause protocol.ChangeCause) {
	b.textInputs.SetTextChangeCause(id, cause)
}

// TextInputCommit applies the pending state of id.
func (b *Bridge) TextInputCommit(id protocol.ObjectID) textinput.Outcome {
	b.metrics.CommitsTotal.Inc()
	outcome := b.textInputs.Commit(id)
	if outcome == textinput.Discarded {
		b.metrics.CommitsDiscarded.Inc()
	}
	return outcome
}

// TextInputProcessKeys replays the logged keys from fromSerial onward to
// the input method serving id, each tagged with the active serial. An
// unknown or evicted serial replays nothing, as does a text-input whose
// client does not hold keyboard focus.
func (b *Bridge) TextInputProcessKeys(id protocol.ObjectID, fromSerial uint32) int {
	ti, bound, ok := b.textInputs.Lookup(id)
	if !ok {
		return 0
	}
	if !b.focus.Owns(ti) {
		b.logger.Debug("process keys from unfocused text-input", "object", id)
		return 0
	}
	records := b.keys.From(fromSerial)
	if len(records) == 0 {
		b.logger.Debug("no logged keys to replay", "object", id, "serial", fromSerial)
		return 0
	}
	routingID, ok := b.inputMethods.Resolve(bound)
	if !ok {
		return 0
	}

	s := b.textInputs.ActiveSerialOr(fromSerial)
	replayed := b.inputMethods.WithInstance(routingID, func(im protocol.InputMethod) {
		for _, rec := range records {
			im.Key(s, rec.Time, rec.Code, rec.State)
			if rec.HasMods {
				im.Modifiers(s, rec.Mods)
			}
		}
	})
	if !replayed {
		return 0
	}
	b.metrics.KeysReplayed.Add(uint64(len(records)))
	b.metrics.ReplayBatch.Observe(float64(len(records)))
	return len(records)
}

// TextInputSetAvailableActions forwards the actions the text field
// supports to its input method while id is active.
func (b *Bridge) TextInputSetAvailableActions(id protocol.ObjectID, actions []protocol.Action) bool {
	ti, bound, ok := b.textInputs.Active()
	if !ok || ti.ID() != id {
		return false
	}
	routingID, ok := b.inputMethods.Resolve(bound)
	if !ok {
		return false
	}
	return b.inputMethods.WithInstance(routingID, func(im protocol.InputMethod) {
		im.AvailableActions(actions)
	})
}

// TextInputDestroy removes id.
func (b *Bridge) TextInputDestroy(id protocol.ObjectID) {
	if b.textInputs.Destroyed(id) {
		b.metrics.TextInputs.Dec()
	}
}

// Input-method requests. They are dropped unless im is live.

func (b *Bridge) live(im protocol.ObjectID) bool {
	if _, ok := b.inputMethods.RoutingID(im); ok {
		return true
	}
	b.logger.Debug("request from unknown input method", "object", im)
	return false
}

func (b *Bridge) toActive(im protocol.ObjectID, fn func(ti protocol.TextInput, serial uint32)) bool {
	if !b.live(im) {
		return false
	}
	return b.textInputs.WithActive(fn)
}

// InputMethodSetString sends text to the active text-input.
func (b *Bridge) InputMethodSetString(im protocol.ObjectID, text string) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.CommitString(text) })
}

// InputMethodSetPreeditString sends preedit text to the active
// text-input.
func (b *Bridge) InputMethodSetPreeditString(im protocol.ObjectID, text string, begin, end int32) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.PreeditString(text, begin, end) })
}

// InputMethodDeleteSurroundingText asks the active text-input to delete
// around the cursor.
func (b *Bridge) InputMethodDeleteSurroundingText(im protocol.ObjectID, before, after uint32) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.DeleteSurroundingText(before, after) })
}

// InputMethodSetAction sends an action tagged with the active serial.
func (b *Bridge) InputMethodSetAction(im protocol.ObjectID, action protocol.Action) bool {
	return b.toActive(im, func(ti protocol.TextInput, s uint32) { ti.Action(action, s) })
}

// InputMethodSetLanguage sends the input language.
func (b *Bridge) InputMethodSetLanguage(im protocol.ObjectID, language string) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.Language(language) })
}

// InputMethodSetPreeditCommitMode sends the preedit commit mode.
func (b *Bridge) InputMethodSetPreeditCommitMode(im protocol.ObjectID, mode protocol.PreeditCommitMode) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.PreeditCommitMode(mode) })
}

// InputMethodSetPreeditStyle sends a preedit style segment.
func (b *Bridge) InputMethodSetPreeditStyle(im protocol.ObjectID, style protocol.PreeditStyle) bool {
	return b.toActive(im, func(ti protocol.TextInput, _ uint32) { ti.PreeditStyle(style) })
}

// InputMethodCommit sends done to the active text-input. An echoed
// serial that no longer matches marks the state as discarded (serial 0).
func (b *Bridge) InputMethodCommit(im protocol.ObjectID, echoed uint32) bool {
	if !b.live(im) {
		return false
	}
	if _, _, ok := b.textInputs.Active(); !ok {
		return false
	}
	current := b.textInputs.ActiveSerialOr(serial.Discard)
	stale := serial.Stale(echoed, current)
	if stale {
		b.metrics.StaleCommits.Inc()
		b.logger.Debug("input method committed stale serial", "object", im, "serial", echoed, "current", current)
	}
	return b.textInputs.Done(stale)
}

// InputMethodGetPopup records popup for im, anchored to the focused
// surface. Without focus there is nothing to anchor to and the popup is
// not recorded.
func (b *Bridge) InputMethodGetPopup(im protocol.ObjectID, popup protocol.Popup) bool {
	parent := b.focus.Focus()
	if parent == nil {
		b.logger.Debug("popup created without focus", "object", im)
		return false
	}
	return b.inputMethods.SetPopup(im, popup, parent)
}

// InputMethodPopupDestroy forgets a destroyed popup.
func (b *Bridge) InputMethodPopupDestroy(popup protocol.Popup) bool {
	return b.inputMethods.PopupDestroyed(popup)
}

// InputMethodKeyForward delivers the logged key with serial through the
// keyboard pipeline as if typed. Repeating mode follows the key with a
// release. An unknown serial is ignored.
func (b *Bridge) InputMethodKeyForward(im protocol.ObjectID, keySerial uint32, mode protocol.KeyForwardMode) bool {
	if !b.live(im) || b.keyboard == nil {
		return false
	}
	rec, ok := b.keys.Find(keySerial)
	if !ok {
		b.logger.Debug("key forward for unknown serial", "object", im, "serial", keySerial)
		return false
	}
	b.keyboard.Forward(rec.Code, rec.State, keySerial, rec.Time)
	if mode == protocol.KeyForwardRepeating {
		b.keyboard.Forward(rec.Code, protocol.KeyReleased, keySerial, rec.Time)
	}
	b.metrics.KeysForwarded.Inc()
	return true
}

// InputMethodDestroy removes im.
func (b *Bridge) InputMethodDestroy(im protocol.ObjectID) {
	if b.inputMethods.Destroyed(im) {
		b.metrics.InputMethods.Dec()
	}
}

func (b *Bridge) disable(routingID string, sendDone bool) {
	if b.inputMethods.Deactivate(routingID, sendDone) {
		b.metrics.DeactivationsTotal.Inc()
	}
}

// coordinator is the textinput.Coordinator of a Bridge.
type coordinator struct{ b *Bridge }

func (c coordinator) ResolveInputMethod(bound string) (string, bool) {
	return c.b.inputMethods.Resolve(bound)
}

func (c coordinator) Enable(ti protocol.TextInput, routingID string) {
	var appID string
	if snap, ok := c.b.textInputs.Get(ti.ID()); ok {
		appID = snap.AppID
	}
	if c.b.inputMethods.Activate(routingID, appID) {
		c.b.metrics.ActivationsTotal.Inc()
	}
}

func (c coordinator) Disable(routingID string, sendDone bool) {
	c.b.disable(routingID, sendDone)
}

func (c coordinator) Push(routingID string, fields textinput.Fields) {
	c.b.inputMethods.WithInstance(routingID, func(im protocol.InputMethod) {
		if fields.SurroundingText != nil {
			im.SurroundingText(*fields.SurroundingText)
		}
		if fields.ChangeCause != nil {
			im.TextChangeCause(*fields.ChangeCause)
		}
		if fields.ContentType != nil {
			im.ContentType(*fields.ContentType)
		}
		if fields.CursorRectangle != nil {
			im.CursorRectangle(*fields.CursorRectangle)
		}
		im.Done()
	})
}

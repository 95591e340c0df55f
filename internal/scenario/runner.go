package scenario

import (
	"context"
	"fmt"
	"slices"

	"imbridge/internal/ime"
	"imbridge/internal/logging"
	"imbridge/internal/metrics"
	"imbridge/internal/protocol"
	"imbridge/internal/protocoltest"
	"imbridge/internal/serial"
)

// Options configures a Runner.
type Options struct {
	// Seat supplies the keyboard state. Nil uses a fake seat named after
	// the script.
	Seat protocol.Seat
	// Bindings are used when the script has none.
	Bindings map[string]string
	Metrics  *metrics.Registry
	Logger   *logging.Logger
}

// Failure is an expectation that did not hold.
type Failure struct {
	Step    int
	Op      string
	Message string
}

func (f Failure) String() string {
	return fmt.Sprintf("step %d (%s): %s", f.Step, f.Op, f.Message)
}

// Result is the outcome of a run.
type Result struct {
	Steps     int
	Events    []protocoltest.Event
	Forwarded []protocoltest.Forwarded
	Failures  []Failure
}

// OK reports whether every expectation held.
func (r *Result) OK() bool {
	return len(r.Failures) == 0
}

// Runner drives one Bridge through scripts. Objects named by a script
// are created on first use.
type Runner struct {
	journal  *protocoltest.Journal
	keyboard *protocoltest.Keyboard
	popups   *protocoltest.PopupStates
	bridge   *ime.Bridge
	logger   *logging.Logger

	surfaces     map[uint64]*protocoltest.Surface
	popupObjects map[uint64]*protocoltest.Popup

	eventMark int
	keyMark   int
	failures  []Failure
}

// NewRunner wires a Bridge for s.
func NewRunner(s *Script, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	seatName := s.Seat
	if seatName == "" {
		seatName = "seat0"
	}
	seat := opts.Seat
	if seat == nil {
		seat = protocoltest.NewSeat(seatName)
	}
	bindings := s.Bindings
	if bindings == nil {
		bindings = opts.Bindings
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry("imbridge", "")
	}

	r := &Runner{
		journal:      protocoltest.NewJournal(),
		keyboard:     &protocoltest.Keyboard{},
		popups:       protocoltest.NewPopupStates(),
		logger:       logger.WithComponent("scenario"),
		surfaces:     make(map[uint64]*protocoltest.Surface),
		popupObjects: make(map[uint64]*protocoltest.Popup),
	}
	r.bridge = ime.New(ime.Options{
		Seat:     seat,
		Keyboard: r.keyboard,
		Popups:   r.popups,
		Bindings: bindings,
		Serials:  &serial.Source{},
		Metrics:  metrics.NewBridgeMetrics(reg, seat.Name()),
		Logger:   logger,
	})
	return r
}

// Bridge returns the driven bridge.
func (r *Runner) Bridge() *ime.Bridge {
	return r.bridge
}

// Journal returns the recorded events.
func (r *Runner) Journal() *protocoltest.Journal {
	return r.journal
}

// Run executes every step of s. A malformed step stops the run with an
// error; failed expectations are collected in the result.
func (r *Runner) Run(ctx context.Context, s *Script) (*Result, error) {
	r.logger.Debug("running script", "name", s.Name, "steps", len(s.Steps))

	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, ok := handlers[step.Op]
		if !ok {
			return nil, fmt.Errorf("step %d: %q: %w", i, step.Op, ErrUnknownOp)
		}
		msg, err := h(r, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if msg != "" {
			r.failures = append(r.failures, Failure{Step: i, Op: step.Op, Message: msg})
		}
	}

	return &Result{
		Steps:     len(s.Steps),
		Events:    r.journal.Events(),
		Forwarded: r.keyboard.Keys(),
		Failures:  append([]Failure(nil), r.failures...),
	}, nil
}

// Run executes s against a fresh Runner.
func Run(ctx context.Context, s *Script, opts Options) (*Result, error) {
	return NewRunner(s, opts).Run(ctx, s)
}

// handler performs a step. A non-empty message is a failed expectation.
type handler func(r *Runner, s Step) (string, error)

var handlers = map[string]handler{
	"bind_input_method":    bindInputMethod,
	"bind_text_input":      bindTextInput,
	"focus":                focusStep,
	"destroy_surface":      destroySurface,
	"key":                  keyStep,
	"enable":               bridgeStep(func(b *ime.Bridge, s Step) { b.TextInputEnable(oid(s.ID)) }),
	"disable":              bridgeStep(func(b *ime.Bridge, s Step) { b.TextInputDisable(oid(s.ID)) }),
	"surrounding_text":     bridgeStep(setSurrounding),
	"content_type":         bridgeStep(setContentType),
	"commit":               bridgeStep(func(b *ime.Bridge, s Step) { b.TextInputCommit(oid(s.ID)) }),
	"process_keys":         bridgeStep(func(b *ime.Bridge, s Step) { b.TextInputProcessKeys(oid(s.ID), s.Serial) }),
	"destroy_text_input":   bridgeStep(func(b *ime.Bridge, s Step) { b.TextInputDestroy(oid(s.ID)) }),
	"cursor_rectangle":     cursorRectangle,
	"change_cause":         changeCause,
	"available_actions":    availableActions,
	"commit_string":        bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodSetString(oid(s.ID), s.Text) }),
	"preedit_string":       bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodSetPreeditString(oid(s.ID), s.Text, s.Begin, s.End) }),
	"delete_surrounding":   bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodDeleteSurroundingText(oid(s.ID), s.Before, s.After) }),
	"language":             bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodSetLanguage(oid(s.ID), s.Text) }),
	"im_commit":            bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodCommit(oid(s.ID), s.Serial) }),
	"destroy_input_method": bridgeStep(func(b *ime.Bridge, s Step) { b.InputMethodDestroy(oid(s.ID)) }),
	"action":               imAction,
	"preedit_commit_mode":  preeditCommitMode,
	"key_forward":          keyForward,
	"get_popup":            getPopup,
	"destroy_popup":        destroyPopup,
	"mark":                 mark,
	"expect":               expect,
	"expect_forwarded":     expectForwarded,
}

func oid(id uint64) protocol.ObjectID { return protocol.ObjectID(id) }

func bridgeStep(fn func(*ime.Bridge, Step)) handler {
	return func(r *Runner, s Step) (string, error) {
		fn(r.bridge, s)
		return "", nil
	}
}

func bindInputMethod(r *Runner, s Step) (string, error) {
	client := s.Client
	if client == 0 {
		client = s.ID
	}
	im := protocoltest.NewInputMethod(r.journal, oid(s.ID), protocol.ClientID(client))
	if err := r.bridge.BindInputMethod(im, s.RoutingID); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

func bindTextInput(r *Runner, s Step) (string, error) {
	ti := protocoltest.NewTextInput(r.journal, oid(s.ID), protocol.ClientID(s.Client))
	if err := r.bridge.BindTextInput(ti, s.AppID); err != nil {
		return err.Error(), nil
	}
	return "", nil
}

func (r *Runner) surface(id, client uint64) *protocoltest.Surface {
	if sf, ok := r.surfaces[id]; ok {
		return sf
	}
	sf := protocoltest.NewSurface(oid(id), protocol.ClientID(client))
	r.surfaces[id] = sf
	return sf
}

func focusStep(r *Runner, s Step) (string, error) {
	if s.Surface == nil {
		r.bridge.FocusChanged(nil)
		return "", nil
	}
	r.bridge.FocusChanged(r.surface(*s.Surface, s.Client))
	return "", nil
}

func destroySurface(r *Runner, s Step) (string, error) {
	if s.Surface == nil {
		return "", fmt.Errorf("surface is required")
	}
	sf, ok := r.surfaces[*s.Surface]
	if !ok {
		return "", fmt.Errorf("unknown surface %d", *s.Surface)
	}
	sf.Kill()
	return "", nil
}

func keyStep(r *Runner, s Step) (string, error) {
	state, err := parseKeyState(s.State)
	if err != nil {
		return "", err
	}
	r.bridge.HandleKey(ime.KeyEvent{Code: s.Code, State: state, Serial: s.Serial, Time: s.Time})
	return "", nil
}

func setSurrounding(b *ime.Bridge, s Step) {
	b.TextInputSetSurroundingText(oid(s.ID), s.Text, s.Cursor, s.Anchor)
}

func setContentType(b *ime.Bridge, s Step) {
	b.TextInputSetContentType(oid(s.ID), protocol.ContentHint(s.Hint), protocol.ContentPurpose(s.Purpose))
}

func cursorRectangle(r *Runner, s Step) (string, error) {
	if len(s.Rect) != 4 {
		return "", fmt.Errorf("rect needs 4 values, got %d", len(s.Rect))
	}
	r.bridge.TextInputSetCursorRectangle(oid(s.ID), protocol.Rectangle{
		X: s.Rect[0], Y: s.Rect[1], Width: s.Rect[2], Height: s.Rect[3],
	})
	return "", nil
}

func changeCause(r *Runner, s Step) (string, error) {
	cause, err := parseCause(s.Cause)
	if err != nil {
		return "", err
	}
	r.bridge.TextInputSetTextChangeCause(oid(s.ID), cause)
	return "", nil
}

func availableActions(r *Runner, s Step) (string, error) {
	actions := make([]protocol.Action, 0, len(s.Actions))
	for _, name := range s.Actions {
		a, err := parseAction(name)
		if err != nil {
			return "", err
		}
		actions = append(actions, a)
	}
	r.bridge.TextInputSetAvailableActions(oid(s.ID), actions)
	return "", nil
}

func imAction(r *Runner, s Step) (string, error) {
	a, err := parseAction(s.Action)
	if err != nil {
		return "", err
	}
	r.bridge.InputMethodSetAction(oid(s.ID), a)
	return "", nil
}

func preeditCommitMode(r *Runner, s Step) (string, error) {
	mode, err := parseCommitMode(s.Mode)
	if err != nil {
		return "", err
	}
	r.bridge.InputMethodSetPreeditCommitMode(oid(s.ID), mode)
	return "", nil
}

func keyForward(r *Runner, s Step) (string, error) {
	mode, err := parseForwardMode(s.Mode)
	if err != nil {
		return "", err
	}
	r.bridge.InputMethodKeyForward(oid(s.ID), s.Serial, mode)
	return "", nil
}

func getPopup(r *Runner, s Step) (string, error) {
	if s.Popup == 0 {
		return "", fmt.Errorf("popup is required")
	}
	sid := s.PopupSurface
	if sid == 0 {
		sid = s.Popup
	}
	client := s.Client
	if client == 0 {
		client = s.ID
	}
	p := protocoltest.NewPopup(r.journal, oid(s.Popup), r.surface(sid, client))
	r.popupObjects[s.Popup] = p
	r.bridge.InputMethodGetPopup(oid(s.ID), p)
	return "", nil
}

func destroyPopup(r *Runner, s Step) (string, error) {
	p, ok := r.popupObjects[s.Popup]
	if !ok {
		return "", fmt.Errorf("unknown popup %d", s.Popup)
	}
	delete(r.popupObjects, s.Popup)
	r.bridge.InputMethodPopupDestroy(p)
	return "", nil
}

func mark(r *Runner, _ Step) (string, error) {
	r.eventMark = len(r.journal.Events())
	r.keyMark = len(r.keyboard.Keys())
	return "", nil
}

func expect(r *Runner, s Step) (string, error) {
	var got []string
	for _, e := range r.journal.Events()[r.eventMark:] {
		if e.Object == oid(s.Object) {
			got = append(got, e.Name)
		}
	}
	if !slices.Equal(got, s.Events) {
		return fmt.Sprintf("object %d: got events %v, want %v", s.Object, got, s.Events), nil
	}
	return "", nil
}

func expectForwarded(r *Runner, s Step) (string, error) {
	if s.Count == nil {
		return "", fmt.Errorf("count is required")
	}
	got := len(r.keyboard.Keys()) - r.keyMark
	if got != *s.Count {
		return fmt.Sprintf("forwarded %d keys, want %d", got, *s.Count), nil
	}
	return "", nil
}

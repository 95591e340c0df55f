package ime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbridge/internal/inputmethod"
	"imbridge/internal/keylog"
	"imbridge/internal/logging"
	"imbridge/internal/metrics"
	"imbridge/internal/protocol"
	"imbridge/internal/protocoltest"
	"imbridge/internal/serial"
	"imbridge/internal/textinput"
)

const (
	imID  protocol.ObjectID = 1
	imCID protocol.ClientID = 1
	appA  protocol.ClientID = 100
	appB  protocol.ClientID = 101
)

type harness struct {
	journal  *protocoltest.Journal
	seat     *protocoltest.Seat
	keyboard *protocoltest.Keyboard
	popups   *protocoltest.PopupStates
	bridge   *Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		journal:  protocoltest.NewJournal(),
		seat:     protocoltest.NewSeat("seat0"),
		keyboard: &protocoltest.Keyboard{},
		popups:   protocoltest.NewPopupStates(),
	}
	h.bridge = New(Options{
		Seat:     h.seat,
		Keyboard: h.keyboard,
		Popups:   h.popups,
		Bindings: map[string]string{"org.example.terminal": "cjk"},
		Serials:  &serial.Source{},
		Metrics:  metrics.NewBridgeMetrics(metrics.NewRegistry("test", ""), "seat0"),
		Logger:   logging.Discard(),
	})
	return h
}

func (h *harness) inputMethod(t *testing.T, id protocol.ObjectID, routingID string) *protocoltest.InputMethod {
	t.Helper()
	im := protocoltest.NewInputMethod(h.journal, id, protocol.ClientID(id))
	require.NoError(t, h.bridge.BindInputMethod(im, routingID))
	return im
}

func (h *harness) textInput(t *testing.T, id protocol.ObjectID, client protocol.ClientID) *protocoltest.TextInput {
	t.Helper()
	ti := protocoltest.NewTextInput(h.journal, id, client)
	require.NoError(t, h.bridge.BindTextInput(ti, "org.example.editor"))
	return ti
}

func (h *harness) enable(id protocol.ObjectID) textinput.Outcome {
	h.bridge.TextInputEnable(id)
	return h.bridge.TextInputCommit(id)
}

func (h *harness) key(code, s uint32) bool {
	return h.bridge.HandleKey(KeyEvent{Code: code, State: protocol.KeyPressed, Serial: s, Time: s * 10})
}

func TestBindInputMethodSendsKeyboardState(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")

	assert.Equal(t, []string{"keymap", "repeat_info", "modifiers"}, h.journal.Names(im.ID()))
	assert.Equal(t, int64(1), h.bridge.Metrics().InputMethods.Value())

	err := h.bridge.BindInputMethod(protocoltest.NewInputMethod(h.journal, 2, 2), "osk")
	assert.True(t, errors.Is(err, inputmethod.ErrDuplicateRoutingID))
}

func TestBindInputMethodEntersFocusedTextInputs(t *testing.T) {
	h := newHarness(t)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	ti := h.textInput(t, 10, appA)
	// Bound while focused.
	assert.Equal(t, []string{"enter"}, h.journal.Names(ti.ID()))

	h.inputMethod(t, imID, "osk")
	assert.Equal(t, []string{"enter"}, h.journal.Names(ti.ID()), "no second enter")
}

// Scenario A: enable activates, disable deactivates without done.
func TestEnableDisableCycle(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	assert.Equal(t, []string{"enter"}, h.journal.Names(ti.ID()))
	h.journal.Reset()

	h.bridge.TextInputSetSurroundingText(10, "hello", 5, 5)
	h.bridge.TextInputSetContentType(10, protocol.HintSpellcheck, protocol.PurposeNormal)
	require.Equal(t, textinput.Enabled, h.enable(10))

	assert.Equal(t, []string{
		"activate", "keymap", "repeat_info", "modifiers",
		"surrounding_text", "content_type", "done",
	}, h.journal.Names(im.ID()))
	assert.Equal(t, []any{"org.example.editor"}, h.journal.For(im.ID())[0].Args)

	h.journal.Reset()
	h.bridge.TextInputDisable(10)
	require.Equal(t, textinput.Disabled, h.bridge.TextInputCommit(10))
	assert.Equal(t, []string{"deactivate"}, h.journal.Names(im.ID()))

	current, ok := h.bridge.InputMethods().Current()
	assert.False(t, ok, "current cleared, got %q", current)

	stats := h.bridge.Metrics().Stats()
	assert.Equal(t, uint64(2), stats["commits"])
	assert.Equal(t, uint64(1), stats["activations"])
	assert.Equal(t, uint64(1), stats["deactivations"])
}

func TestSecondActivationSkipsKeyboardState(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.bridge.TextInputDisable(10)
	h.bridge.TextInputCommit(10)
	h.journal.Reset()

	h.enable(10)
	assert.Equal(t, []string{"activate", "done"}, h.journal.Names(im.ID()))
}

// Scenario B: a second client cannot steal activation.
func TestEnableWhileAnotherIsActive(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.textInput(t, 11, appA)
	h.textInput(t, 20, appB)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	require.Equal(t, textinput.Enabled, h.enable(10))
	h.journal.Reset()

	assert.Equal(t, textinput.Discarded, h.enable(20))
	assert.Equal(t, textinput.Discarded, h.enable(11))
	assert.Empty(t, h.journal.For(im.ID()))

	s20, _ := h.bridge.TextInputs().Get(20)
	assert.Equal(t, uint32(1), s20.Serial)
	assert.False(t, s20.Active)
	assert.Equal(t, uint64(2), h.bridge.Metrics().CommitsDiscarded.Value())
}

func TestUpdatePushesOnlyPresentFields(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.journal.Reset()

	h.bridge.TextInputSetCursorRectangle(10, protocol.Rectangle{X: 1, Y: 2, Width: 3, Height: 4})
	h.bridge.TextInputSetTextChangeCause(10, protocol.CauseInputMethod)
	require.Equal(t, textinput.Updated, h.bridge.TextInputCommit(10))

	assert.Equal(t, []string{"text_change_cause", "cursor_rectangle", "done"}, h.journal.Names(im.ID()))

	h.journal.Reset()
	require.Equal(t, textinput.Updated, h.bridge.TextInputCommit(10))
	assert.Equal(t, []string{"done"}, h.journal.Names(im.ID()))
}

// Scenario C: the current input method goes away.
func TestInputMethodDestroyedWhileCurrent(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.journal.Reset()

	h.bridge.InputMethodDestroy(imID)

	assert.Equal(t, []string{"leave"}, h.journal.Names(ti.ID()))
	_, ok := h.bridge.InputMethods().Current()
	assert.False(t, ok)
	assert.Equal(t, int64(0), h.bridge.Metrics().InputMethods.Value())

	// Requests from the dead input method are dropped.
	assert.False(t, h.bridge.InputMethodSetString(imID, "x"))
	assert.Empty(t, h.journal.Named("commit_string"))

	// Commits now have nothing to talk to.
	assert.Equal(t, textinput.Discarded, h.bridge.TextInputCommit(10))
}

func TestFocusLossDeactivatesWithDone(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	other := h.textInput(t, 20, appB)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.journal.Reset()

	h.bridge.FocusChanged(protocoltest.NewSurface(600, appB))

	assert.Equal(t, []string{"deactivate", "done"}, h.journal.Names(im.ID()))
	assert.Equal(t, []string{"leave"}, h.journal.Names(ti.ID()))
	assert.Equal(t, []string{"enter"}, h.journal.Names(other.ID()))

	// Leave precedes the new enter.
	events := h.journal.Events()
	leaveAt, enterAt := -1, -1
	for i, e := range events {
		if e.Object == ti.ID() && e.Name == "leave" {
			leaveAt = i
		}
		if e.Object == other.ID() && e.Name == "enter" {
			enterAt = i
		}
	}
	assert.Less(t, leaveAt, enterAt)
}

func TestFocusChangeWithoutActiveSendsNoDeactivate(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.journal.Reset()

	h.bridge.FocusChanged(nil)
	assert.Empty(t, h.journal.For(im.ID()))
	assert.Nil(t, h.bridge.Focus())
}

func TestDestroyLastFocusedTextInput(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.journal.Reset()

	h.bridge.TextInputDestroy(10)
	assert.Equal(t, []string{"deactivate", "done"}, h.journal.Names(im.ID()))
	assert.Equal(t, int64(0), h.bridge.Metrics().TextInputs.Value())
}

func TestInputMethodTextReachesActiveTextInput(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))

	assert.False(t, h.bridge.InputMethodSetString(imID, "early"), "no active text-input")

	h.enable(10)
	h.journal.Reset()

	assert.True(t, h.bridge.InputMethodSetPreeditString(imID, "ni", 0, 2))
	assert.True(t, h.bridge.InputMethodSetString(imID, "你"))
	assert.True(t, h.bridge.InputMethodDeleteSurroundingText(imID, 1, 0))
	assert.True(t, h.bridge.InputMethodSetAction(imID, protocol.ActionSubmit))
	assert.True(t, h.bridge.InputMethodSetLanguage(imID, "zh"))
	assert.True(t, h.bridge.InputMethodSetPreeditCommitMode(imID, protocol.PreeditCommitCommit))
	assert.True(t, h.bridge.InputMethodSetPreeditStyle(imID, protocol.PreeditStyle{Begin: 0, End: 2, Underline: protocol.UnderlineSingle}))
	assert.True(t, h.bridge.InputMethodCommit(imID, 1))

	assert.Equal(t, []string{
		"preedit_string", "commit_string", "delete_surrounding_text", "action",
		"language", "preedit_commit_mode", "preedit_style", "done",
	}, h.journal.Names(ti.ID()))

	action := h.journal.Named("action")[0]
	assert.Equal(t, []any{protocol.ActionSubmit, uint32(1)}, action.Args)
}

func TestInputMethodCommitStaleSerial(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)                 // serial 1
	h.bridge.TextInputCommit(10) // serial 2
	h.journal.Reset()

	h.bridge.InputMethodCommit(imID, 1)
	h.bridge.InputMethodCommit(imID, 2)

	done := h.journal.For(ti.ID())
	require.Len(t, done, 2)
	assert.Equal(t, []any{serial.Discard}, done[0].Args)
	assert.Equal(t, []any{uint32(2)}, done[1].Args)
	assert.Equal(t, uint64(1), h.bridge.Metrics().StaleCommits.Value())
}

func TestInputMethodCommitWithoutActiveTextInput(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	ti := h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.journal.Reset()

	assert.False(t, h.bridge.InputMethodCommit(imID, 0))
	assert.False(t, h.bridge.InputMethodCommit(99, 0), "unknown input method")
	assert.Empty(t, h.journal.For(ti.ID()))
	assert.Equal(t, uint64(0), h.bridge.Metrics().StaleCommits.Value())
}

func TestKeysAreInterceptedAndDelivered(t *testing.T) {
	h := newHarness(t)

	// Without an input method keys pass straight through.
	assert.False(t, h.key(30, 5))
	assert.Equal(t, 0, h.bridge.KeyLog().Len())

	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10) // active serial 1
	h.journal.Reset()

	mods := protocol.ModifiersState{Depressed: 1}
	require.True(t, h.bridge.HandleKey(KeyEvent{Code: 42, State: protocol.KeyPressed, Serial: 77, Time: 1000, Mods: mods, HasMods: true}))

	events := h.journal.For(im.ID())
	require.Len(t, events, 2)
	assert.Equal(t, "key", events[0].Name)
	assert.Equal(t, []any{uint32(77), uint32(1000), uint32(42), protocol.KeyPressed}, events[0].Args)
	assert.Equal(t, []any{uint32(77), mods}, events[1].Args)

	keys := h.keyboard.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, protocoltest.Forwarded{Code: 42, State: protocol.KeyPressed, Serial: 77, Time: 1000}, keys[1])

	rec, ok := h.bridge.KeyLog().Find(77)
	require.True(t, ok)
	assert.Equal(t, keylog.Record{Code: 42, State: protocol.KeyPressed, Serial: 77, Time: 1000, Mods: mods, HasMods: true}, rec)
	_, ok = h.bridge.KeyLog().Find(1)
	assert.False(t, ok, "keys are not logged under the text-input serial")
}

// Several keys while a text-input is active keep distinct serials, so a
// key-forward names exactly one of them.
func TestKeyForwardWhileActive(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.journal.Reset()

	require.True(t, h.key(30, 50))
	require.True(t, h.key(31, 51))

	keys := h.journal.Named("key")
	require.Len(t, keys, 2)
	assert.Equal(t, im.ID(), keys[0].Object)
	assert.Equal(t, uint32(50), keys[0].Args[0])
	assert.Equal(t, uint32(51), keys[1].Args[0])

	before := len(h.keyboard.Keys())
	require.True(t, h.bridge.InputMethodKeyForward(imID, 51, protocol.KeyForwardSingle))
	forwarded := h.keyboard.Keys()[before:]
	require.Len(t, forwarded, 1)
	assert.Equal(t, protocoltest.Forwarded{Code: 31, State: protocol.KeyPressed, Serial: 51, Time: 510}, forwarded[0])
}

// Scenario D plus replay order.
func TestProcessKeysReplaysSuffix(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))

	for i := uint32(1); i <= 12; i++ {
		require.True(t, h.key(100+i, i))
	}
	assert.Equal(t, keylog.Capacity, h.bridge.KeyLog().Len())
	h.journal.Reset()

	assert.Equal(t, 0, h.bridge.TextInputProcessKeys(10, 1))
	assert.Equal(t, 0, h.bridge.TextInputProcessKeys(10, 2))
	assert.Empty(t, h.journal.Events())

	n := h.bridge.TextInputProcessKeys(10, 9)
	require.Equal(t, 4, n)

	var codes []uint32
	for _, e := range h.journal.For(im.ID()) {
		require.Equal(t, "key", e.Name)
		assert.Equal(t, uint32(9), e.Args[0], "tagged with the resolved serial")
		codes = append(codes, e.Args[2].(uint32))
	}
	assert.Equal(t, []uint32{109, 110, 111, 112}, codes)
	assert.Equal(t, uint64(4), h.bridge.Metrics().KeysReplayed.Value())
}

func TestProcessKeysUsesActiveSerial(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10)
	h.key(30, 50)
	h.bridge.TextInputCommit(10)
	h.bridge.TextInputCommit(10) // serial 3
	h.journal.Reset()

	require.Equal(t, 1, h.bridge.TextInputProcessKeys(10, 50))
	assert.Equal(t, uint32(3), h.journal.For(im.ID())[0].Args[0])

	assert.Equal(t, 0, h.bridge.TextInputProcessKeys(99, 50), "unknown text-input")
}

// Scenario D with an active text-input: the serial named by the request
// is the physical one, so an evicted serial replays nothing.
func TestProcessKeysEvictedWhileActive(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.enable(10) // serial 1

	for i := uint32(1); i <= 12; i++ {
		require.True(t, h.key(100+i, i))
	}
	h.journal.Reset()

	assert.Equal(t, 0, h.bridge.TextInputProcessKeys(10, 1))
	assert.Empty(t, h.journal.Events())

	require.Equal(t, 4, h.bridge.TextInputProcessKeys(10, 9))
	for _, e := range h.journal.For(im.ID()) {
		assert.Equal(t, uint32(1), e.Args[0], "tagged with the active serial")
	}
}

func TestProcessKeysFromUnfocusedClient(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.textInput(t, 20, appB)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	require.True(t, h.key(30, 7))
	h.journal.Reset()

	assert.Equal(t, 0, h.bridge.TextInputProcessKeys(20, 7))
	assert.Empty(t, h.journal.For(im.ID()))
	assert.Equal(t, uint64(0), h.bridge.Metrics().KeysReplayed.Value())

	assert.Equal(t, 1, h.bridge.TextInputProcessKeys(10, 7))
}

func TestKeyForward(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	h.key(30, 7)
	before := len(h.keyboard.Keys())

	require.True(t, h.bridge.InputMethodKeyForward(imID, 7, protocol.KeyForwardSingle))
	require.True(t, h.bridge.InputMethodKeyForward(imID, 7, protocol.KeyForwardRepeating))
	assert.False(t, h.bridge.InputMethodKeyForward(imID, 8, protocol.KeyForwardSingle))
	assert.False(t, h.bridge.InputMethodKeyForward(99, 7, protocol.KeyForwardSingle))

	keys := h.keyboard.Keys()[before:]
	require.Len(t, keys, 3)
	assert.Equal(t, protocol.KeyPressed, keys[0].State)
	assert.Equal(t, protocol.KeyPressed, keys[1].State)
	assert.Equal(t, protocoltest.Forwarded{Code: 30, State: protocol.KeyReleased, Serial: 7, Time: 70}, keys[2])
}

func TestPopupAnchoredToFocus(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	focused := protocoltest.NewSurface(500, appA)
	h.bridge.FocusChanged(focused)
	h.enable(10)

	popupSurface := protocoltest.NewSurface(900, imCID)
	popup := protocoltest.NewPopup(h.journal, 60, popupSurface)
	require.True(t, h.bridge.InputMethodGetPopup(imID, popup))
	assert.Equal(t, focused, h.popups.Parent(popupSurface))

	h.bridge.TextInputDisable(10)
	h.bridge.TextInputCommit(10)
	assert.Equal(t, []string{"popup_done"}, h.journal.Names(popup.ID()))
	assert.Nil(t, h.popups.Parent(popupSurface))
	assert.False(t, h.bridge.InputMethodPopupDestroy(popup))
}

func TestPopupWithoutFocusIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")

	popupSurface := protocoltest.NewSurface(900, imCID)
	popup := protocoltest.NewPopup(h.journal, 60, popupSurface)
	assert.False(t, h.bridge.InputMethodGetPopup(imID, popup))
	assert.Nil(t, h.popups.Parent(popupSurface))
	assert.False(t, h.bridge.InputMethodPopupDestroy(popup), "popup was never recorded")
}

func TestAvailableActionsForwardedWhileActive(t *testing.T) {
	h := newHarness(t)
	im := h.inputMethod(t, imID, "osk")
	h.textInput(t, 10, appA)
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))

	actions := []protocol.Action{protocol.ActionSubmit, protocol.ActionPaste}
	assert.False(t, h.bridge.TextInputSetAvailableActions(10, actions))

	h.enable(10)
	h.journal.Reset()
	assert.True(t, h.bridge.TextInputSetAvailableActions(10, actions))
	assert.Equal(t, []any{actions}, h.journal.For(im.ID())[0].Args)
}

func TestBindingsRouteByAppID(t *testing.T) {
	h := newHarness(t)
	osk := h.inputMethod(t, imID, "osk")
	cjk := h.inputMethod(t, 2, "cjk")

	term := protocoltest.NewTextInput(h.journal, 10, appA)
	require.NoError(t, h.bridge.BindTextInput(term, "org.example.terminal"))
	h.bridge.FocusChanged(protocoltest.NewSurface(500, appA))
	h.journal.Reset()

	require.Equal(t, textinput.Enabled, h.enable(10))
	assert.Equal(t, 0, h.journal.Count(osk.ID(), "activate"))
	assert.Equal(t, 1, h.journal.Count(cjk.ID(), "activate"))

	current, _ := h.bridge.InputMethods().Current()
	assert.Equal(t, "cjk", current)

	assert.Equal(t, 1, h.bridge.SetBindings(map[string]string{"org.example.terminal": "osk"}))
	rid, _ := h.bridge.TextInputs().InputMethodFor(10)
	assert.Equal(t, "osk", rid)
}

func TestRefreshKeyboard(t *testing.T) {
	h := newHarness(t)
	h.inputMethod(t, imID, "osk")
	h.inputMethod(t, 2, "cjk")
	h.journal.Reset()

	h.seat.Repeat = protocol.RepeatInfo{Rate: 40, Delay: 300}
	assert.Equal(t, 2, h.bridge.RefreshKeyboard())

	infos := h.journal.Named("repeat_info")
	require.Len(t, infos, 2)
	assert.Equal(t, []any{int32(40), int32(300)}, infos[0].Args)
}

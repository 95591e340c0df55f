// Package scenario replays scripted protocol traffic against a Bridge
// wired to recording fakes.
//
// A script is YAML:
//
//	name: enable then type
//	bindings:
//	  org.example.terminal: cjk
//	steps:
//	  - {op: bind_input_method, id: 1, routing_id: osk}
//	  - {op: bind_text_input, id: 10, client: 10, app_id: org.example.editor}
//	  - {op: focus, surface: 100, client: 10}
//	  - {op: enable, id: 10}
//	  - {op: commit, id: 10}
//	  - {op: expect, object: 1, events: [activate, keymap, repeat_info, modifiers, done]}
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"imbridge/internal/protocol"
)

// ErrUnknownOp is returned for a step whose op is not recognised.
var ErrUnknownOp = errors.New("scenario: unknown op")

// Script is a named sequence of steps.
type Script struct {
	Name string `yaml:"name"`
	// Seat names the seat. Empty uses seat0.
	Seat string `yaml:"seat"`
	// Bindings maps app ids to routing ids.
	Bindings map[string]string `yaml:"bindings"`
	Steps    []Step            `yaml:"steps"`
}

// Step is one protocol request, compositor event, or expectation. Which
// fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// ID is the object the request is made on.
	ID        uint64 `yaml:"id"`
	Client    uint64 `yaml:"client"`
	AppID     string `yaml:"app_id"`
	RoutingID string `yaml:"routing_id"`

	// Surface is the focus target; absent means no focus.
	Surface *uint64 `yaml:"surface"`

	Text    string  `yaml:"text"`
	Cursor  uint32  `yaml:"cursor"`
	Anchor  uint32  `yaml:"anchor"`
	Begin   int32   `yaml:"begin"`
	End     int32   `yaml:"end"`
	Before  uint32  `yaml:"before"`
	After   uint32  `yaml:"after"`
	Hint    uint32  `yaml:"hint"`
	Purpose uint32  `yaml:"purpose"`
	Rect    []int32 `yaml:"rect"`
	Cause   string  `yaml:"cause"`

	Action  string   `yaml:"action"`
	Actions []string `yaml:"actions"`
	Mode    string   `yaml:"mode"`

	Code   uint32 `yaml:"code"`
	State  string `yaml:"state"`
	Serial uint32 `yaml:"serial"`
	Time   uint32 `yaml:"time"`

	// Popup and PopupSurface identify an input-method popup.
	Popup        uint64 `yaml:"popup"`
	PopupSurface uint64 `yaml:"popup_surface"`

	// Object and Events form an expectation: the event names recorded
	// for Object since the last mark.
	Object uint64   `yaml:"object"`
	Events []string `yaml:"events"`
	// Count is the expected number of keys forwarded since the last
	// mark.
	Count *int `yaml:"count"`
}

// Parse decodes a script. Unknown keys are rejected.
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, step := range s.Steps {
		if _, ok := handlers[step.Op]; !ok {
			return nil, fmt.Errorf("step %d: %q: %w", i, step.Op, ErrUnknownOp)
		}
	}
	return &s, nil
}

// LoadFile reads and parses the script at path.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

var actionNames = map[string]protocol.Action{
	"none":       protocol.ActionNone,
	"submit":     protocol.ActionSubmit,
	"copy":       protocol.ActionCopy,
	"paste":      protocol.ActionPaste,
	"cut":        protocol.ActionCut,
	"undo":       protocol.ActionUndo,
	"redo":       protocol.ActionRedo,
	"select_all": protocol.ActionSelectAll,
}

func parseAction(name string) (protocol.Action, error) {
	if a, ok := actionNames[name]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("unknown action %q", name)
}

func parseCause(name string) (protocol.ChangeCause, error) {
	switch name {
	case "input_method":
		return protocol.CauseInputMethod, nil
	case "", "other":
		return protocol.CauseOther, nil
	default:
		return 0, fmt.Errorf("unknown change cause %q", name)
	}
}

func parseKeyState(name string) (protocol.KeyState, error) {
	switch name {
	case "", "pressed":
		return protocol.KeyPressed, nil
	case "released":
		return protocol.KeyReleased, nil
	default:
		return 0, fmt.Errorf("unknown key state %q", name)
	}
}

func parseForwardMode(name string) (protocol.KeyForwardMode, error) {
	switch name {
	case "", "single":
		return protocol.KeyForwardSingle, nil
	case "repeating":
		return protocol.KeyForwardRepeating, nil
	default:
		return 0, fmt.Errorf("unknown forward mode %q", name)
	}
}

func parseCommitMode(name string) (protocol.PreeditCommitMode, error) {
	switch name {
	case "", "clear":
		return protocol.PreeditCommitClear, nil
	case "commit":
		return protocol.PreeditCommitCommit, nil
	default:
		return 0, fmt.Errorf("unknown preedit commit mode %q", name)
	}
}

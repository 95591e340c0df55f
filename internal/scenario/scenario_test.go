package scenario

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbridge/internal/logging"
	"imbridge/internal/metrics"
)

func TestScripts(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			script, err := LoadFile(path)
			require.NoError(t, err)

			res, err := Run(context.Background(), script, Options{Logger: logging.Discard()})
			require.NoError(t, err)
			for _, f := range res.Failures {
				t.Error(f)
			}
			assert.Equal(t, len(script.Steps), res.Steps)
		})
	}
}

func TestParseRejectsUnknownOp(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - {op: teleport}\n"))
	assert.True(t, errors.Is(err, ErrUnknownOp))
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - {op: mark, colour: red}\n"))
	assert.Error(t, err)
}

func TestFailedExpectationIsReported(t *testing.T) {
	script, err := Parse([]byte(`
steps:
  - {op: bind_input_method, id: 1, routing_id: osk}
  - {op: expect, object: 1, events: [activate]}
  - {op: expect_forwarded, count: 3}
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), script, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.Len(t, res.Failures, 2)
	assert.False(t, res.OK())
	assert.Equal(t, 1, res.Failures[0].Step)
	assert.Equal(t, "expect", res.Failures[0].Op)
	assert.Contains(t, res.Failures[0].String(), "keymap")
}

func TestDuplicateBindIsAFailure(t *testing.T) {
	script, err := Parse([]byte(`
steps:
  - {op: bind_input_method, id: 1, routing_id: osk}
  - {op: bind_input_method, id: 2, routing_id: osk}
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), script, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Step)
}

func TestMalformedStepStopsRun(t *testing.T) {
	tests := map[string]string{
		"rect":    "steps:\n  - {op: cursor_rectangle, id: 10, rect: [1, 2, 3]}\n",
		"action":  "steps:\n  - {op: action, id: 1, action: explode}\n",
		"state":   "steps:\n  - {op: key, code: 1, state: sideways}\n",
		"popup":   "steps:\n  - {op: destroy_popup, popup: 9}\n",
		"count":   "steps:\n  - {op: expect_forwarded}\n",
		"surface": "steps:\n  - {op: destroy_surface}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			script, err := Parse([]byte(src))
			require.NoError(t, err)
			_, err = Run(context.Background(), script, Options{Logger: logging.Discard()})
			assert.Error(t, err)
		})
	}
}

func TestRunHonoursContext(t *testing.T) {
	script, err := Parse([]byte("steps:\n  - {op: mark}\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, script, Options{Logger: logging.Discard()})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOptionBindingsApplyWithoutScriptBindings(t *testing.T) {
	script, err := Parse([]byte(`
steps:
  - {op: bind_input_method, id: 1, routing_id: osk}
  - {op: bind_input_method, id: 2, routing_id: cjk}
  - {op: bind_text_input, id: 10, client: 100, app_id: org.example.terminal}
  - {op: focus, surface: 500, client: 100}
  - {op: mark}
  - {op: enable, id: 10}
  - {op: commit, id: 10}
  - {op: expect, object: 1, events: []}
  - {op: expect, object: 2, events: [activate, keymap, repeat_info, modifiers, done]}
`))
	require.NoError(t, err)

	reg := metrics.NewRegistry("imbridge", "")
	r := NewRunner(script, Options{
		Bindings: map[string]string{"org.example.terminal": "cjk"},
		Metrics:  reg,
		Logger:   logging.Discard(),
	})
	res, err := r.Run(context.Background(), script)
	require.NoError(t, err)
	for _, f := range res.Failures {
		t.Error(f)
	}
	assert.Equal(t, uint64(1), r.Bridge().Metrics().ActivationsTotal.Value())
	assert.NotNil(t, reg.GetCounter("input_method_activations_total"))
}

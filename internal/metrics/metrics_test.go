package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLabelsString(t *testing.T) {
	tests := []struct {
		labels Labels
		want   string
	}{
		{nil, ""},
		{Labels{"seat": "seat0"}, `{seat="seat0"}`},
		{Labels{"z": "1", "a": "2"}, `{a="2",z="1"}`},
	}
	for _, tt := range tests {
		if got := tt.labels.String(); got != tt.want {
			t.Errorf("Labels%v.String() = %q, want %q", tt.labels, got, tt.want)
		}
	}
}

func TestRegisterReturnsExisting(t *testing.T) {
	r := NewRegistry("imbridge", "test")
	a := r.RegisterCounter("keys_total", "help", nil)
	b := r.RegisterCounter("keys_total", "other help", nil)
	if a != b {
		t.Fatal("RegisterCounter returned a new counter for a taken name")
	}
	if a.Name() != "imbridge_test_keys_total" {
		t.Errorf("Name() = %q", a.Name())
	}
	if r.GetCounter("keys_total") != a {
		t.Error("GetCounter did not find the counter")
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("batch", "help", nil, []float64{1, 5})
	for _, v := range []float64{0, 1, 3, 5, 9} {
		h.Observe(v)
	}

	h.mu.Lock()
	cum := h.cumulative()
	h.mu.Unlock()

	want := []uint64{2, 4, 5}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("cumulative[%d] = %d, want %d", i, cum[i], want[i])
		}
	}
	if h.Count() != 5 || h.Sum() != 18 {
		t.Errorf("Count() = %d, Sum() = %g", h.Count(), h.Sum())
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("imbridge", "")
	m := NewBridgeMetrics(r, "seat0")
	m.CommitsTotal.Add(3)
	m.TextInputs.Set(2)
	m.ReplayBatch.Observe(4)

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()

	for _, line := range []string{
		"# TYPE imbridge_text_input_commits_total counter",
		`imbridge_text_input_commits_total{seat="seat0"} 3`,
		`imbridge_text_inputs{seat="seat0"} 2`,
		`imbridge_replay_batch_size_bucket{seat="seat0",le="4"} 1`,
		`imbridge_replay_batch_size_bucket{seat="seat0",le="+Inf"} 1`,
		`imbridge_replay_batch_size_count{seat="seat0"} 1`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("output missing %q", line)
		}
	}

	// Counters come out sorted by name.
	first := strings.Index(out, "imbridge_input_method_activations_total")
	second := strings.Index(out, "imbridge_text_input_commits_total")
	if first < 0 || second < 0 || first > second {
		t.Error("counters are not sorted by name")
	}
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("imbridge", "")
	NewBridgeMetrics(r, "seat0").KeysIntercepted.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var snap map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["imbridge_keys_intercepted_total"] != 1 {
		t.Errorf("keys_intercepted_total = %v", snap["imbridge_keys_intercepted_total"])
	}

	rec = httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestBridgeStats(t *testing.T) {
	m := NewBridgeMetrics(NewRegistry("", ""), "seat0")
	m.KeysReplayed.Add(6)
	if got := m.Stats()["keys_replayed"]; got != 6 {
		t.Errorf("Stats()[keys_replayed] = %d, want 6", got)
	}
}

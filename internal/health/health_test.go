package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"imbridge/internal/keymap"
	"imbridge/internal/protocol"
)

func healthy(context.Context) CheckResult   { return CheckResult{Status: StatusHealthy} }
func unhealthy(context.Context) CheckResult { return CheckResult{Status: StatusUnhealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		register func(c *Checker)
		want     Status
	}{
		{"empty", func(c *Checker) {}, StatusHealthy},
		{"all healthy", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, healthy)
		}, StatusHealthy},
		{"critical failure", func(c *Checker) {
			c.RegisterFunc("a", true, unhealthy)
			c.RegisterFunc("b", false, healthy)
		}, StatusUnhealthy},
		{"non-critical failure degrades", func(c *Checker) {
			c.RegisterFunc("a", true, healthy)
			c.RegisterFunc("b", false, unhealthy)
		}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			tt.register(c)
			c.Check(context.Background())
			if got := c.OverallStatus(); got != tt.want {
				t.Errorf("OverallStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUncheckedCriticalIsUnknown(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("seat", true, healthy)
	if got := c.OverallStatus(); got != StatusUnknown {
		t.Errorf("OverallStatus() before Check = %s, want unknown", got)
	}
}

func TestCheckRecoversPanic(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("boom", true, func(context.Context) CheckResult { panic("boom") })

	res := c.Check(context.Background())["boom"]
	if res.Status != StatusUnhealthy || res.Error != "boom" {
		t.Errorf("result = %+v, want unhealthy with error boom", res)
	}
}

func TestCheckTimesOut(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	res := c.Check(context.Background())["slow"]
	if res.Status != StatusUnhealthy || res.Message != "check timed out" {
		t.Errorf("result = %+v, want timed out", res)
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("seat", true, healthy)
	h := c.ReadinessHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before SetReady: code = %d, want 503", rec.Code)
	}

	c.SetReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after SetReady: code = %d, want 200", rec.Code)
	}

	c.RegisterFunc("seat", true, unhealthy)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing critical: code = %d, want 503", rec.Code)
	}
}

func TestMountedHealthEndpoint(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("input_method", false, InputMethodCheck(func() int { return 0 }))
	c.SetReady(true)

	mux := http.NewServeMux()
	c.Mount(mux, "")
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz?full=true")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d, want 200 for degraded", resp.StatusCode)
	}

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != StatusDegraded || !body.Ready {
		t.Errorf("body = %+v, want degraded and ready", body)
	}
	if body.Components["input_method"].Message != "no input method bound" {
		t.Errorf("components = %+v", body.Components)
	}

	live, err := http.Get(srv.URL + "/livez")
	if err != nil {
		t.Fatal(err)
	}
	live.Body.Close()
	if live.StatusCode != http.StatusOK {
		t.Errorf("livez code = %d", live.StatusCode)
	}
}

func TestKeymapCheck(t *testing.T) {
	seat := keymap.NewSeat("seat0", protocol.RepeatInfo{Rate: 25, Delay: 600})
	defer seat.Close()

	check := KeymapCheck(seat)
	if res := check(context.Background()); res.Status != StatusDegraded {
		t.Errorf("without keymap: status = %s, want degraded", res.Status)
	}

	km, err := keymap.New([]byte("xkb_keymap { };"))
	if err != nil {
		t.Fatal(err)
	}
	seat.SetKeymap(km)

	res := check(context.Background())
	if res.Status != StatusHealthy {
		t.Fatalf("with keymap: status = %s, want healthy", res.Status)
	}
	if res.Details["repeat_rate"] != int32(25) {
		t.Errorf("details = %+v", res.Details)
	}
}

func TestErrorTracker(t *testing.T) {
	var tr ErrorTracker
	check := tr.Check("config reload")

	if res := check(context.Background()); res.Status != StatusHealthy {
		t.Errorf("fresh tracker: status = %s", res.Status)
	}

	tr.Record(errors.New("bad toml"))
	res := check(context.Background())
	if res.Status != StatusDegraded || res.Error != "bad toml" {
		t.Errorf("after failure: %+v", res)
	}

	tr.Record(nil)
	if res := check(context.Background()); res.Status != StatusHealthy {
		t.Errorf("after recovery: status = %s", res.Status)
	}
}

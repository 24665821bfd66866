package aegisisolate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, enable string) (*httptest.Server, *stubUnits) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Isolation.Enable = enable
	units := newStubUnits(4)
	eng, err := NewEngine(cfg, WithUnitController(units), WithObservability(&stubObservability{}))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	srv := httptest.NewServer(eng.Handler())
	t.Cleanup(srv.Close)
	return srv, units
}

func TestHandlerHealthAndPolicy(t *testing.T) {
	srv, _ := newTestServer(t, "yes")

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status=%v err=%v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/policy")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	defer resp.Body.Close()
	var pol policyView
	if err := json.NewDecoder(resp.Body).Decode(&pol); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if !pol.Enabled || pol.Threshold != 3 || pol.IsolationLimit != 2 || pol.Cycle != "1h0m0s" {
		t.Fatalf("unexpected policy view: %+v", pol)
	}
}

func TestHandlerUnits(t *testing.T) {
	srv, _ := newTestServer(t, "yes")

	resp, err := http.Get(srv.URL + "/units")
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	var units []UnitSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
		t.Fatalf("decode units: %v", err)
	}
	resp.Body.Close()
	if len(units) != 4 || units[3].ID != 3 || units[3].State != UnitOnline {
		t.Fatalf("unexpected units: %+v", units)
	}

	cases := map[string]int{
		"/units/1":  http.StatusOK,
		"/units/99": http.StatusNotFound,
		"/units/x":  http.StatusBadRequest,
	}
	for path, want := range cases {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestHandlerSubmit(t *testing.T) {
	srv, units := newTestServer(t, "yes")

	post := func(body string) (int, submitResponse) {
		t.Helper()
		resp, err := http.Post(srv.URL+"/errors", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var out submitResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	status, out := post(`{"unit":1,"kind":"uncorrected"}`)
	if status != http.StatusOK || out.Outcome != OutcomeIsolated {
		t.Fatalf("expected isolated, got %d %+v", status, out)
	}
	if units.Status(1) != UnitOffline {
		t.Fatalf("expected unit 1 offline")
	}

	status, out = post(`{"unit":0,"kind":"corrected"}`)
	if status != http.StatusOK || out.Outcome != OutcomeNoAction {
		t.Fatalf("expected no action, got %d %+v", status, out)
	}

	status, out = post(`{"unit":12,"kind":"corrected"}`)
	if status != http.StatusUnprocessableEntity || out.Outcome != OutcomeRejected || out.Error == "" {
		t.Fatalf("expected rejection for unknown unit, got %d %+v", status, out)
	}

	if status, _ = post(`{"unit":0,"kind":"fatal"}`); status != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown kind, got %d", status)
	}
	if status, _ = post(`{"unit":0,"kind":"corrected","extra":1}`); status != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown field, got %d", status)
	}
}

func TestHandlerSubmitWhileDisabled(t *testing.T) {
	srv, _ := newTestServer(t, "no")

	resp, err := http.Post(srv.URL+"/errors", "application/json", strings.NewReader(`{"unit":0,"kind":"uncorrected"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while disabled, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/units")
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	defer resp.Body.Close()
	var units []UnitSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil || len(units) != 0 {
		t.Fatalf("expected empty unit list, got %v err=%v", units, err)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Output = "stdout"
	eng, err := NewEngine(cfg, WithUnitController(newStubUnits(2)))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	if _, err := eng.Submit(&ClassifiedError{UnitID: 0, Kind: Uncorrected}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec := httptest.NewRecorder()
	eng.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"isolate_offline_attempts_total", "isolate_units_offline", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

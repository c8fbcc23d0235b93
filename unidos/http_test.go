package unidos_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/unidos/generichttp/ascii"
	"github.com/nasa-jpl/unidos/server/middleware/locker"
	"github.com/nasa-jpl/unidos/unidos"
)

func newServer(t *testing.T) (*unidos.Simulator, *httptest.Server) {
	t.Helper()
	sim := unidos.NewSimulator(nil)
	e, err := unidos.New(sim)
	if err != nil {
		t.Fatal(err)
	}
	h := unidos.NewHTTPWrapper(e)
	ascii.InjectRawComm(h, e)
	lock := locker.New()
	locker.Inject(h, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	r.Use(h.Serialize)
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return sim, srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPVoltage(t *testing.T) {
	sim, srv := newServer(t)
	var got struct {
		Int int `json:"int"`
	}
	decode(t, do(t, srv, http.MethodGet, "/voltage", ""), &got)
	if got.Int != 300 {
		t.Errorf("GET /voltage = %d, want 300", got.Int)
	}

	resp := do(t, srv, http.MethodPost, "/voltage", `{"int": 150}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /voltage status %d", resp.StatusCode)
	}
	var v int
	sim.Do(func(s *unidos.Simulator) { v = s.Voltage })
	if v != 150 {
		t.Errorf("device voltage %d, want 150", v)
	}
}

func TestHTTPInvalidInputIs400(t *testing.T) {
	_, srv := newServer(t)
	tests := []struct {
		path, body string
	}{
		{"/voltage", `{"int": 275}`},
		{"/integration-time", `{"int": 2}`},
		{"/range", `{"str": "Purple"}`},
		{"/range", `not json`},
	}
	for _, tt := range tests {
		resp := do(t, srv, http.MethodPost, tt.path, tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s %s: status %d, want 400", tt.path, tt.body, resp.StatusCode)
		}
	}
}

func TestHTTPRange(t *testing.T) {
	sim, srv := newServer(t)
	resp := do(t, srv, http.MethodPost, "/range", `{"str": "high"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /range status %d", resp.StatusCode)
	}
	var rng int
	sim.Do(func(s *unidos.Simulator) { rng = s.Range })
	if rng != 2 {
		t.Errorf("device range %d, want 2", rng)
	}
	var ri unidos.RangeInfo
	decode(t, do(t, srv, http.MethodGet, "/range", ""), &ri)
	if ri.Label != "High" || ri.Limit != "650 nC" {
		t.Errorf("GET /range = %+v", ri)
	}
}

func TestHTTPIdentityAndStatus(t *testing.T) {
	_, srv := newServer(t)
	var id unidos.Identity
	decode(t, do(t, srv, http.MethodGet, "/identity", ""), &id)
	if id != (unidos.Identity{Family: "UNIDOS", Version: "1.32", Serial: "T10021-00123"}) {
		t.Errorf("GET /identity = %+v", id)
	}
	var st struct {
		Str string `json:"str"`
	}
	decode(t, do(t, srv, http.MethodGet, "/status", ""), &st)
	if st.Str != "idle" {
		t.Errorf("GET /status = %q", st.Str)
	}
	decode(t, do(t, srv, http.MethodGet, "/flags", ""), &st)
	if st.Str != "00000000" {
		t.Errorf("GET /flags = %q", st.Str)
	}
}

func TestHTTPWarnings(t *testing.T) {
	sim, srv := newServer(t)
	sim.Do(func(s *unidos.Simulator) { s.NoEcho["R0"] = true })
	do(t, srv, http.MethodPost, "/range", `{"str": "Low"}`)
	var w []string
	decode(t, do(t, srv, http.MethodGet, "/warnings", ""), &w)
	if len(w) != 1 {
		t.Fatalf("GET /warnings = %v, want one", w)
	}
	do(t, srv, http.MethodDelete, "/warnings", "")
	decode(t, do(t, srv, http.MethodGet, "/warnings", ""), &w)
	if len(w) != 0 {
		t.Errorf("warnings after DELETE: %v", w)
	}
}

func TestHTTPRawAndLock(t *testing.T) {
	_, srv := newServer(t)
	var got struct {
		Str string `json:"str"`
	}
	decode(t, do(t, srv, http.MethodPost, "/raw", `{"str": "SER"}`), &got)
	if got.Str != "T10021-00123" {
		t.Errorf("POST /raw SER = %q", got.Str)
	}

	do(t, srv, http.MethodPost, "/lock", `{"bool": true}`)
	if resp := do(t, srv, http.MethodGet, "/voltage", ""); resp.StatusCode != http.StatusLocked {
		t.Errorf("locked GET /voltage status %d, want 423", resp.StatusCode)
	}
	do(t, srv, http.MethodPost, "/lock", `{"bool": false}`)
	if resp := do(t, srv, http.MethodGet, "/voltage", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("unlocked GET /voltage status %d", resp.StatusCode)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	_, srv := newServer(t)
	var routes []string
	decode(t, do(t, srv, http.MethodGet, "/endpoints", ""), &routes)
	for _, want := range []string{"POST /integrate", "GET /voltage", "POST /raw", "GET /lock"} {
		found := false
		for _, r := range routes {
			if r == want {
				found = true
			}
		}
		if !found {
			t.Errorf("%s missing from %v", want, routes)
		}
	}
}

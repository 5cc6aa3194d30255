package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalkan/srec/internal/auth"
	"github.com/kalkan/srec/internal/config"
	"github.com/kalkan/srec/internal/httputil"
	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
	"github.com/kalkan/srec/internal/track"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testDefaults() Defaults {
	return Defaults{
		Observer:     passes.Observer{LatDeg: 40.7128, LonDeg: -74.006, AltM: 10},
		Start:        time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		SearchHours:  24,
		MaxPasses:    5,
		Step:         passes.DefaultStep,
		HoursForward: 1.5,
		TrackStep:    30 * time.Second,
	}
}

// testDeps wires the embedded ISS record. When load is false the store
// starts empty.
func testDeps(t *testing.T, src *tle.FileSource, load bool) Deps {
	t.Helper()
	logger := testLogger()
	store := tle.NewStore()
	if load {
		if _, err := src.Reload(store); err != nil {
			t.Fatalf("loading TLE: %v", err)
		}
	}
	return Deps{
		Store:    store,
		Sessions: track.NewProvider(store, propagation.NewWorkerPool(2, logger), logger),
		Source:   src,
		Defaults: testDefaults(),
	}
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestPassesEndpoint(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	w := serve(h, "GET", "/api/v1/passes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp passesResponse
	decode(t, w, &resp)
	if resp.NoPasses || len(resp.Passes) == 0 {
		t.Fatal("expected ISS passes over New York within 24h")
	}
	if len(resp.Passes) > 5 {
		t.Errorf("passes = %d, want <= 5", len(resp.Passes))
	}
	if len(resp.Rows) != len(resp.Passes) {
		t.Errorf("rows = %d, passes = %d", len(resp.Rows), len(resp.Passes))
	}
	if resp.Rows[0].Index != 1 || !strings.Contains(resp.Rows[0].Peak, "° @ ") {
		t.Errorf("unexpected first row %+v", resp.Rows[0])
	}
	if resp.StepSeconds != 20 || resp.Start != "2025-02-14T12:00:00Z" || resp.End != "2025-02-15T12:00:00Z" {
		t.Errorf("window = %s..%s step %v", resp.Start, resp.End, resp.StepSeconds)
	}
	if resp.Evaluations == 0 {
		t.Error("evaluations not reported")
	}
}

func TestPassesMaxPassesQuery(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	w := serve(h, "GET", "/api/v1/passes?max_passes=1&tz=America/New_York", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp passesResponse
	decode(t, w, &resp)
	if len(resp.Passes) != 1 {
		t.Errorf("passes = %d, want 1", len(resp.Passes))
	}
}

func TestPassesNoPasses(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	// The ISS never rises above the South Pole horizon.
	w := serve(h, "GET", "/api/v1/passes?lat=-90&lon=0&search_hours=12", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"passes":[]`) {
		t.Errorf("want an empty passes array, got %s", body)
	}
	var resp passesResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.NoPasses || resp.Unresolved {
		t.Errorf("no_passes = %v, unresolved = %v, want true, false", resp.NoPasses, resp.Unresolved)
	}
}

func TestPassesInvalidParams(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	tests := []struct {
		name  string
		query string
		field string
	}{
		{"non-numeric lat", "?lat=north", "lat"},
		{"lat out of range", "?lat=95", "lat"},
		{"lon out of range", "?lon=-181", "lon"},
		{"altitude too high", "?alt=200000", "alt"},
		{"bad start", "?start=yesterday", "start"},
		{"zero horizon", "?search_hours=0", "search_hours"},
		{"non-integer max passes", "?max_passes=2.5", "max_passes"},
		{"zero max passes", "?max_passes=0", "max_passes"},
		{"zero step", "?step=0", "step"},
		{"unknown zone", "?tz=Mars/Olympus_Mons", "tz"},
		{"sample budget", "?search_hours=336&step=1", "step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, "GET", "/api/v1/passes"+tt.query, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["field"] != tt.field {
				t.Errorf("field = %v, want %q", resp["field"], tt.field)
			}
			if resp["error"] == nil {
				t.Error("expected error message")
			}
		})
	}
}

func TestPositionEndpoint(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	w := serve(h, "GET", "/api/v1/position?t=2025-02-14T12:00:00Z", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var pt propagation.SubPoint
	decode(t, w, &pt)
	if !pt.Time.Equal(time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %s", pt.Time)
	}
	if math.Abs(pt.LatDeg) > 52 || pt.AltKm < 300 || pt.AltKm > 500 {
		t.Errorf("implausible ISS position %+v", pt)
	}

	w = serve(h, "GET", "/api/v1/position?t=noon", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad t: status = %d, want 400", w.Code)
	}
}

func TestGroundTrackEndpoint(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	w := serve(h, "GET", "/api/v1/groundtrack?hours=1&step=60", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp groundTrackResponse
	decode(t, w, &resp)
	if resp.Points != 61 {
		t.Errorf("points = %d, want 61", resp.Points)
	}
	var n int
	for _, seg := range resp.Segments {
		n += len(seg)
	}
	if n != resp.Points {
		t.Errorf("segments hold %d points, want %d", n, resp.Points)
	}

	for _, q := range []string{"?hours=48&step=1", "?hours=0", "?step=-5", "?hours=abc"} {
		if w := serve(h, "GET", "/api/v1/groundtrack"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestTLEEndpoint(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))

	w := serve(h, "GET", "/api/v1/tle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp tleResponse
	decode(t, w, &resp)
	if resp.Name != "ISS (ZARYA)" || resp.NORADID != 25544 {
		t.Errorf("record = %q/%d", resp.Name, resp.NORADID)
	}
	if !strings.HasPrefix(resp.Epoch, "2025-02-14T04:19:") {
		t.Errorf("epoch = %s", resp.Epoch)
	}
}

func TestNotReady(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), false))

	for _, path := range []string{"/readyz", "/api/v1/tle", "/api/v1/passes", "/api/v1/position"} {
		if w := serve(h, "GET", path, nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, w.Code)
		}
	}
	if w := serve(h, "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz: status = %d, want 200", w.Code)
	}
}

func TestReadyAfterLoad(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))
	if w := serve(h, "GET", "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz: status = %d, want 200", w.Code)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.tle")
	good := "ISS (ZARYA)\n" +
		"1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993\n" +
		"2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058\n"
	if err := os.WriteFile(path, []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}

	deps := testDeps(t, tle.NewFileSource(path, testLogger()), true)
	deps.Auth = auth.Config{Enabled: true, Token: "s3cret"}
	h := NewHandler(testLogger(), deps)
	bearer := http.Header{"Authorization": {"Bearer s3cret"}}

	if w := serve(h, "POST", "/api/v1/tle/reload", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("reload without token: status = %d, want 401", w.Code)
	}
	if w := serve(h, "POST", "/api/v1/tle/reload", bearer); w.Code != http.StatusOK {
		t.Errorf("reload: status = %d, body = %s", w.Code, w.Body.String())
	}

	// A broken file is reported and the previous record stays loaded.
	before := deps.Store.Get()
	if err := os.WriteFile(path, []byte("ISS (ZARYA)\n1 25544U\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := serve(h, "POST", "/api/v1/tle/reload", bearer)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed reload: status = %d, want 422", w.Code)
	}
	if deps.Store.Get() != before {
		t.Error("malformed reload replaced the loaded record")
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewHandler(testLogger(), testDeps(t, tle.NewFileSource("", testLogger()), true))
	if w := serve(h, "GET", "/api/v1/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := serve(h, "GET", "/", nil); w.Code != http.StatusOK {
		t.Errorf("index: status = %d, want 200", w.Code)
	}
}

func TestAccessLogClientAddress(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		header     map[string]string
		want       string
	}{
		{"remote with port", false, "10.0.0.1:5000", nil, "10.0.0.1"},
		{"remote without port", false, "10.0.0.1", nil, "10.0.0.1"},
		{"mapped IPv6 remote", false, "[::ffff:10.0.0.1]:5000", nil, "10.0.0.1"},
		{"headers ignored when untrusted", false, "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "10.0.0.1"},
		{"forwarded for", true, "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"garbage forwarded entry skipped", true, "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "unknown, [2001:db8::1]:443"}, "2001:db8::1"},
		{"real ip fallback", true, "10.0.0.1:5000", map[string]string{"X-Forwarded-For": "bogus", "X-Real-IP": " 198.51.100.4 "}, "198.51.100.4"},
		{"no usable header", true, "[fe80::1%eth0]:5000", map[string]string{"X-Real-IP": "n/a"}, "fe80::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			deps := testDeps(t, tle.NewFileSource("", testLogger()), false)
			deps.Clients = httputil.NewResolver(config.StreamConfig{TrustProxy: tt.trustProxy})
			h := NewHandler(logger, deps)

			req := httptest.NewRequest("GET", "/healthz", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			var got string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				var entry map[string]any
				if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == "request" {
					got, _ = entry["remote_ip"].(string)
				}
			}
			if got != tt.want {
				t.Errorf("remote_ip = %q, want %q\nlog:\n%s", got, tt.want, buf.String())
			}
		})
	}
}

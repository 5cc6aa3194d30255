package track

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/kalkan/srec/data"
	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func issRecord(t testing.TB) tle.Record {
	t.Helper()
	rec, err := tle.ParseRecord(bytes.NewReader(data.DefaultTLE), testLogger())
	if err != nil {
		t.Fatalf("parsing embedded record: %v", err)
	}
	return rec
}

func issSession(t testing.TB) *Session {
	t.Helper()
	s, err := NewSession(issRecord(t), propagation.NewWorkerPool(4, testLogger()), testLogger())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

var (
	searchStart = time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	newYork     = passes.Observer{LatDeg: 40.7128, LonDeg: -74.006, AltM: 10}
)

func TestSessionPasses(t *testing.T) {
	s := issSession(t)

	res, err := s.Passes(context.Background(), PassParams{
		Observer:    newYork,
		Start:       searchStart,
		SearchHours: 24,
		MaxPasses:   5,
	})
	if err != nil {
		t.Fatalf("Passes: %v", err)
	}
	if res.Empty() {
		t.Fatal("expected at least one ISS pass over New York in 24h")
	}
	if len(res.Passes) > 5 {
		t.Fatalf("got %d passes, want <= 5", len(res.Passes))
	}
	if res.Gaps != 0 {
		t.Errorf("gaps = %d, want 0 for a fresh element set", res.Gaps)
	}

	for i, p := range res.Passes {
		t.Logf("pass %d: aos=%s tca=%s los=%s max=%.1f", i+1,
			p.AOS.Format(time.RFC3339), p.TCA.Format(time.RFC3339), p.LOS.Format(time.RFC3339), p.MaxElevation)

		if i > 0 && !p.AOS.After(res.Passes[i-1].LOS) {
			t.Errorf("pass %d starts before the previous one ends", i+1)
		}
		if p.InProgress || p.Truncated {
			continue
		}
		if !(p.AOS.Before(p.TCA) && p.TCA.Before(p.LOS)) {
			t.Errorf("pass %d: want aos < tca < los", i+1)
		}
		if p.MaxElevation <= 0 || p.MaxElevation > 90 {
			t.Errorf("pass %d: max elevation %.2f out of (0, 90]", i+1, p.MaxElevation)
		}
		if d := p.Duration(); d <= 0 || d > 15*time.Minute {
			t.Errorf("pass %d: duration %s implausible for LEO", i+1, d)
		}

		// Refined crossings sit on the horizon.
		for _, at := range []time.Time{p.AOS, p.LOS} {
			el, ok := s.Oracle().Elevation(at, newYork)
			if !ok {
				t.Fatalf("pass %d: elevation unresolved at %s", i+1, at)
			}
			if math.Abs(el) > 0.5 {
				t.Errorf("pass %d: elevation at crossing %s = %.3f, want ~0", i+1, at.Format(time.RFC3339), el)
			}
		}

		la, err := s.LookAngles(p.TCA, newYork)
		if err != nil {
			t.Fatalf("LookAngles: %v", err)
		}
		if math.Abs(la.ElevationDeg-p.MaxElevation) > 1e-9 {
			t.Errorf("pass %d: elevation at TCA %.4f != max %.4f", i+1, la.ElevationDeg, p.MaxElevation)
		}
	}
}

func TestSessionPassesInvalidParams(t *testing.T) {
	s := issSession(t)
	valid := PassParams{Observer: newYork, Start: searchStart, SearchHours: 24, MaxPasses: 5}

	tests := []struct {
		name   string
		modify func(*PassParams)
		field  string
	}{
		{"latitude", func(p *PassParams) { p.Observer.LatDeg = 91 }, "lat"},
		{"longitude", func(p *PassParams) { p.Observer.LonDeg = math.NaN() }, "lon"},
		{"altitude", func(p *PassParams) { p.Observer.AltM = -5000 }, "alt"},
		{"zero horizon", func(p *PassParams) { p.SearchHours = 0 }, "search_hours"},
		{"horizon too long", func(p *PassParams) { p.SearchHours = MaxSearchHours + 1 }, "search_hours"},
		{"no passes requested", func(p *PassParams) { p.MaxPasses = 0 }, "max_passes"},
		{"negative step", func(p *PassParams) { p.Step = -time.Second }, "step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			_, err := s.Passes(context.Background(), p)
			var pe *passes.ParamError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *passes.ParamError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("field = %q, want %q", pe.Field, tt.field)
			}
		})
	}
}

func TestPassParamsDefaultStep(t *testing.T) {
	p := PassParams{Start: searchStart, SearchHours: 1}
	if got := p.Window().Step; got != passes.DefaultStep {
		t.Errorf("step = %s, want %s", got, passes.DefaultStep)
	}
	p.Step = 7 * time.Second
	if got := p.Window().Step; got != 7*time.Second {
		t.Errorf("step = %s, want 7s", got)
	}
}

func TestSessionPassesCancelled(t *testing.T) {
	s := issSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Passes(ctx, PassParams{Observer: newYork, Start: searchStart, SearchHours: 24, MaxPasses: 5})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGroundTrack(t *testing.T) {
	s := issSession(t)

	tr, err := s.GroundTrack(context.Background(), searchStart, 1.5, 30*time.Second)
	if err != nil {
		t.Fatalf("GroundTrack: %v", err)
	}
	if len(tr.Points) != 181 {
		t.Fatalf("points = %d, want 181 (90 min / 30 s, end included)", len(tr.Points))
	}
	if tr.Unresolved != 0 {
		t.Errorf("unresolved = %d, want 0", tr.Unresolved)
	}
	if !tr.Points[0].Time.Equal(searchStart) {
		t.Errorf("first point at %s, want %s", tr.Points[0].Time, searchStart)
	}
	if last := tr.Points[len(tr.Points)-1].Time; !last.Equal(searchStart.Add(90 * time.Minute)) {
		t.Errorf("last point at %s, want window end", last)
	}
	for i := 1; i < len(tr.Points); i++ {
		if !tr.Points[i].Time.After(tr.Points[i-1].Time) {
			t.Fatalf("point %d out of order", i)
		}
		if lat := tr.Points[i].LatDeg; math.Abs(lat) > 52 {
			t.Errorf("point %d: latitude %.2f beyond ISS inclination", i, lat)
		}
	}

	var n int
	for _, seg := range tr.Segments() {
		n += len(seg)
	}
	if n != len(tr.Points) {
		t.Errorf("segments hold %d points, want %d", n, len(tr.Points))
	}
}

func TestGroundTrackUnevenEnd(t *testing.T) {
	s := issSession(t)

	// 900 s at a 120 s step: 0, 120, ..., 840, 900.
	tr, err := s.GroundTrack(context.Background(), searchStart, 0.25, 120*time.Second)
	if err != nil {
		t.Fatalf("GroundTrack: %v", err)
	}
	if len(tr.Points) != 9 {
		t.Fatalf("points = %d, want 9", len(tr.Points))
	}
	if got := tr.Points[8].Time.Sub(searchStart); got != 900*time.Second {
		t.Errorf("last offset = %s, want 900s", got)
	}
}

func TestGroundTrackInvalid(t *testing.T) {
	s := issSession(t)

	tests := []struct {
		name  string
		hours float64
		step  time.Duration
		field string
	}{
		{"zero hours", 0, time.Minute, "hours"},
		{"too many hours", MaxTrackHours + 1, time.Minute, "hours"},
		{"NaN hours", math.NaN(), time.Minute, "hours"},
		{"zero step", 1, 0, "step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GroundTrack(context.Background(), searchStart, tt.hours, tt.step)
			var pe *passes.ParamError
			if !errors.As(err, &pe) || pe.Field != tt.field {
				t.Errorf("err = %v, want ParamError on %q", err, tt.field)
			}
		})
	}
}

func TestSegmentsAntimeridian(t *testing.T) {
	pts := []propagation.SubPoint{
		{LonDeg: 170}, {LonDeg: 179}, {LonDeg: -179}, {LonDeg: -170}, {LonDeg: -160},
	}
	segs := Track{Points: pts}.Segments()
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if len(segs[0]) != 2 || len(segs[1]) != 3 {
		t.Errorf("segment sizes = %d, %d, want 2, 3", len(segs[0]), len(segs[1]))
	}
	if (Track{}).Segments() != nil {
		t.Error("empty track should have no segments")
	}
}

func TestProvider(t *testing.T) {
	store := tle.NewStore()
	p := NewProvider(store, propagation.NewWorkerPool(1, testLogger()), testLogger())

	if _, err := p.Session(); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("err = %v, want ErrNoDataset", err)
	}

	rec := issRecord(t)
	loaded := time.Date(2025, 2, 14, 6, 0, 0, 0, time.UTC)
	store.Set(&tle.Dataset{Source: "test", LoadedAt: loaded, Record: rec})

	s1, err := p.Session()
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	s2, _ := p.Session()
	if s1 != s2 {
		t.Error("same dataset should reuse the session")
	}

	store.Set(&tle.Dataset{Source: "test", LoadedAt: loaded.Add(time.Hour), Record: rec})
	s3, err := p.Session()
	if err != nil {
		t.Fatalf("Session after reload: %v", err)
	}
	if s3 == s1 {
		t.Error("reloaded dataset should rebuild the session")
	}
}

func TestProviderBadRecord(t *testing.T) {
	store := tle.NewStore()
	store.Set(&tle.Dataset{
		Source:   "test",
		LoadedAt: time.Now(),
		Record:   tle.Record{NORADID: 1, Name: "BROKEN", Line1: "1 00001U", Line2: "2 00001"},
	})
	p := NewProvider(store, propagation.NewWorkerPool(1, testLogger()), testLogger())

	if _, err := p.Session(); err == nil {
		t.Fatal("expected init error for truncated element lines")
	}
	// The failure is cached for the dataset.
	if _, err := p.Session(); err == nil {
		t.Fatal("expected cached init error")
	}
}

type staticSource struct {
	s   *Session
	err error
}

func (src staticSource) Session() (*Session, error) { return src.s, src.err }

func TestTrackerStartStop(t *testing.T) {
	tr := NewTracker(staticSource{s: issSession(t)}, testLogger())

	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()
	if tr.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", tr.Subscribers())
	}

	h := tr.Start(context.Background(), 20*time.Millisecond)

	select {
	case pt := <-ch:
		if math.Abs(pt.LatDeg) > 52 {
			t.Errorf("latitude %.2f beyond ISS inclination", pt.LatDeg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no position update within 2s")
	}

	if _, ok := tr.Latest(); !ok {
		t.Error("Latest should report a position after a refresh")
	}

	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
	h.Stop() // second Stop is a no-op
}

func TestTrackerParentCancel(t *testing.T) {
	tr := NewTracker(staticSource{s: issSession(t)}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	h := tr.Start(ctx, time.Hour)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after parent cancel")
	}
}

func TestTrackerNoSession(t *testing.T) {
	tr := NewTracker(staticSource{err: ErrNoDataset}, testLogger())
	h := tr.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	h.Stop()

	if _, ok := tr.Latest(); ok {
		t.Error("Latest should be empty without a session")
	}
}

func TestTrackerUnsubscribe(t *testing.T) {
	tr := NewTracker(staticSource{err: ErrNoDataset}, testLogger())
	ch, unsubscribe := tr.Subscribe()
	unsubscribe()
	unsubscribe()

	if tr.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", tr.Subscribers())
	}
	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}
}

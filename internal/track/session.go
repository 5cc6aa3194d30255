// Package track holds the explicit state of one tracked object: its element
// set, its propagator, and the operations a map view needs (current position,
// ground track, pass list, live updates).
package track

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kalkan/srec/internal/metrics"
	"github.com/kalkan/srec/internal/passes"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
)

const (
	// MaxSearchHours caps the pass-search horizon.
	MaxSearchHours = 14 * 24
	// MaxTrackHours caps the ground-track duration.
	MaxTrackHours = 48
)

// Session binds a record to its propagator. Every operation is a function of
// its arguments and the session; nothing is shared between sessions.
type Session struct {
	record tle.Record
	prop   *propagation.SGP4Propagator
	pool   *propagation.WorkerPool
	logger *slog.Logger
}

// NewSession initializes SGP4 for rec.
func NewSession(rec tle.Record, pool *propagation.WorkerPool, logger *slog.Logger) (*Session, error) {
	prop, err := propagation.NewSGP4Propagator(rec.Line1, rec.Line2, rec.NORADID)
	if err != nil {
		return nil, fmt.Errorf("sgp4 init: %w", err)
	}
	return &Session{
		record: rec,
		prop:   prop,
		pool:   pool,
		logger: logger.With("norad_id", rec.NORADID),
	}, nil
}

// Record returns the session's element set.
func (s *Session) Record() tle.Record {
	return s.record
}

// Oracle returns the elevation oracle backed by SGP4.
func (s *Session) Oracle() passes.Oracle {
	return s.prop
}

// Position returns the sub-satellite point at t.
func (s *Session) Position(t time.Time) (propagation.SubPoint, error) {
	return s.prop.SubPoint(t)
}

// LookAngles returns azimuth/elevation/range from obs at t.
func (s *Session) LookAngles(t time.Time, obs passes.Observer) (propagation.LookAngles, error) {
	return s.prop.LookAngles(t, obs)
}

// Track is an ordered ground track.
type Track struct {
	Points     []propagation.SubPoint
	Unresolved int
}

// Segments splits the track wherever it crosses the antimeridian so each
// segment can be drawn as one polyline.
func (tr Track) Segments() [][]propagation.SubPoint {
	if len(tr.Points) == 0 {
		return nil
	}
	var (
		segs [][]propagation.SubPoint
		cur  = []propagation.SubPoint{tr.Points[0]}
	)
	for _, p := range tr.Points[1:] {
		if math.Abs(p.LonDeg-cur[len(cur)-1].LonDeg) > 180 {
			segs = append(segs, cur)
			cur = nil
		}
		cur = append(cur, p)
	}
	return append(segs, cur)
}

// GroundTrack samples the sub-satellite point from start for hoursForward
// hours every step (end included).
func (s *Session) GroundTrack(ctx context.Context, start time.Time, hoursForward float64, step time.Duration) (Track, error) {
	if math.IsNaN(hoursForward) || hoursForward <= 0 || hoursForward > MaxTrackHours {
		return Track{}, &passes.ParamError{Field: "hours", Value: hoursForward, Reason: fmt.Sprintf("must be within (0, %d]", MaxTrackHours)}
	}
	if step <= 0 {
		return Track{}, &passes.ParamError{Field: "step", Value: step, Reason: "must be positive"}
	}

	win := passes.NewWindow(start, hoursForward, step)
	times := make([]time.Time, 0, win.Ticks())
	for t := win.Start; ; t = t.Add(step) {
		if t.After(win.End) {
			times = append(times, win.End)
			break
		}
		times = append(times, t)
		if t.Equal(win.End) {
			break
		}
	}

	begin := time.Now()
	points, unresolved, err := s.pool.SubPoints(ctx, s.prop, times)
	if err != nil {
		return Track{}, err
	}
	metrics.RecordGroundTrack(time.Since(begin), len(points), unresolved)

	s.logger.Debug("ground track computed",
		"start", start.UTC().Format(time.RFC3339),
		"hours_forward", hoursForward,
		"points", len(points),
		"unresolved", unresolved,
	)
	return Track{Points: points, Unresolved: unresolved}, nil
}

// PassParams are the caller-supplied inputs of a pass search.
type PassParams struct {
	Observer    passes.Observer
	Start       time.Time
	SearchHours float64
	MaxPasses   int
	Step        time.Duration // coarse step; zero selects passes.DefaultStep
}

// Validate rejects out-of-range parameters, naming the offending field.
func (p PassParams) Validate() error {
	if err := p.Observer.Validate(); err != nil {
		return err
	}
	if math.IsNaN(p.SearchHours) || p.SearchHours <= 0 || p.SearchHours > MaxSearchHours {
		return &passes.ParamError{Field: "search_hours", Value: p.SearchHours, Reason: fmt.Sprintf("must be within (0, %d]", MaxSearchHours)}
	}
	if p.MaxPasses < 1 {
		return &passes.ParamError{Field: "max_passes", Value: p.MaxPasses, Reason: "must be at least 1"}
	}
	if p.Step < 0 {
		return &passes.ParamError{Field: "step", Value: p.Step, Reason: "must be positive"}
	}
	return nil
}

// Window returns the search window described by p.
func (p PassParams) Window() passes.Window {
	step := p.Step
	if step == 0 {
		step = passes.DefaultStep
	}
	return passes.NewWindow(p.Start, p.SearchHours, step)
}

// Passes runs the horizon event scanner over the SGP4 oracle.
func (s *Session) Passes(ctx context.Context, p PassParams) (passes.Result, error) {
	if err := p.Validate(); err != nil {
		return passes.Result{}, err
	}

	begin := time.Now()
	res, err := passes.FindPasses(ctx, s.prop, p.Observer, p.Window(), p.MaxPasses)
	duration := time.Since(begin)
	if err != nil {
		metrics.RecordSearch(duration, "error", 0, 0)
		return passes.Result{}, err
	}

	outcome := "found"
	switch {
	case res.Unresolved():
		outcome = "unresolved"
	case res.Empty():
		outcome = "none"
	}
	metrics.RecordSearch(duration, outcome, res.Evaluations, res.Gaps)

	s.logger.Info("pass search complete",
		"lat", p.Observer.LatDeg,
		"lon", p.Observer.LonDeg,
		"search_hours", p.SearchHours,
		"outcome", outcome,
		"passes", len(res.Passes),
		"evaluations", res.Evaluations,
		"gaps", res.Gaps,
		"duration_ms", duration.Milliseconds(),
	)
	return res, nil
}

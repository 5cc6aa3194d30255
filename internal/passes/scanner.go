// Package passes finds visibility passes of an orbiting object over a ground
// observer.
//
// The scanner only needs an elevation oracle: it walks the search window at a
// coarse step, refines every horizon crossing by bisection and locates the
// peak of each pass by dense sampling. Passes shorter than about two coarse
// steps can fall between samples and go undetected.
package passes

import (
	"context"
	"time"
)

const (
	// DefaultStep is the coarse scan interval.
	DefaultStep = 20 * time.Second
	// FineStep is the sampling interval used to locate the peak of a pass.
	FineStep = 5 * time.Second
	// BisectIterations is the number of interval halvings per crossing.
	BisectIterations = 25
)

// countingOracle tallies calls to the wrapped oracle.
type countingOracle struct {
	oracle Oracle
	calls  int
}

func (c *countingOracle) Elevation(t time.Time, obs Observer) (float64, bool) {
	c.calls++
	return c.oracle.Elevation(t, obs)
}

// FindPasses scans win for passes of the object described by oracle over obs
// and returns at most maxPasses of them in ascending AOS order.
//
// Samples the oracle cannot resolve are skipped; the last resolved sample is
// carried forward for crossing detection. A pass under way when scanning
// starts gets its AOS at the first resolved sample (win.Start unless that
// sample is a gap), and a pass still under way at win.End is closed there.
// ctx is checked on every coarse step.
func FindPasses(ctx context.Context, oracle Oracle, obs Observer, win Window, maxPasses int) (Result, error) {
	if oracle == nil {
		return Result{}, &ParamError{Field: "oracle", Value: nil, Reason: "must not be nil"}
	}
	if err := obs.Validate(); err != nil {
		return Result{}, err
	}
	if err := win.Validate(); err != nil {
		return Result{}, err
	}
	if maxPasses < 1 {
		return Result{}, &ParamError{Field: "max_passes", Value: maxPasses, Reason: "must be at least 1"}
	}

	o := &countingOracle{oracle: oracle}
	var (
		res        Result
		prevT      time.Time
		havePrev   bool
		inPass     bool
		inProgress bool
		aos        time.Time
	)

	for t := win.Start; ; {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res.Samples++
		el, ok := o.Elevation(t, obs)
		if !ok {
			res.Gaps++
		} else {
			above := el > 0
			switch {
			case !havePrev:
				// Seed state from the first resolved sample.
				inPass = above
				if inPass {
					aos = t
					inProgress = true
				}
			case !inPass && above:
				inPass = true
				inProgress = false
				aos = crossing(o, obs, prevT, t)
			case inPass && !above:
				inPass = false
				los := crossing(o, obs, prevT, t)
				if los.After(aos) {
					res.Passes = append(res.Passes, assemble(o, obs, aos, los, inProgress, false))
					if len(res.Passes) >= maxPasses {
						res.Evaluations = o.calls
						return res, nil
					}
				}
			}
			prevT = t
			havePrev = true
		}

		if !t.Before(win.End) {
			break
		}
		t = t.Add(win.Step)
		if t.After(win.End) {
			t = win.End
		}
	}

	if inPass && win.End.After(aos) {
		res.Passes = append(res.Passes, assemble(o, obs, aos, win.End, inProgress, true))
	}

	res.Evaluations = o.calls
	return res, nil
}

// crossing refines the horizon crossing between two coarse samples,
// falling back to the later sample when the oracle cannot resolve it.
func crossing(o Oracle, obs Observer, t0, t1 time.Time) time.Time {
	if t, ok := RefineCrossing(o, obs, t0, t1, 0); ok {
		return t
	}
	return t1
}

// assemble builds a pass record for the bracket [aos, los].
func assemble(o Oracle, obs Observer, aos, los time.Time, inProgress, truncated bool) Pass {
	tca, maxEl, ok := FindMaxElevation(o, obs, aos, los, FineStep)
	if !ok {
		tca = aos.Add(los.Sub(aos) / 2)
		maxEl = 0
	}
	if maxEl < 0 {
		maxEl = 0
	}
	return Pass{
		AOS:          aos,
		TCA:          tca,
		LOS:          los,
		MaxElevation: maxEl,
		InProgress:   inProgress,
		Truncated:    truncated,
	}
}

// RefineCrossing locates the instant in [t0, t1] at which the elevation
// crosses threshold, assuming exactly one crossing inside the interval.
// It halves the interval BisectIterations times and returns the midpoint of
// the final bracket. ok is false when the oracle cannot resolve either
// endpoint or any midpoint.
func RefineCrossing(o Oracle, obs Observer, t0, t1 time.Time, threshold float64) (time.Time, bool) {
	e0, ok := o.Elevation(t0, obs)
	if !ok {
		return time.Time{}, false
	}
	if _, ok := o.Elevation(t1, obs); !ok {
		return time.Time{}, false
	}
	if e0 == threshold {
		return t0, true
	}

	startAbove := e0 > threshold
	a, b := t0, t1
	for i := 0; i < BisectIterations; i++ {
		mid := a.Add(b.Sub(a) / 2)
		em, ok := o.Elevation(mid, obs)
		if !ok {
			return time.Time{}, false
		}
		if (em > threshold) == startAbove {
			a = mid
		} else {
			b = mid
		}
	}
	return a.Add(b.Sub(a) / 2), true
}

// FindMaxElevation samples [start, end] every step (end included) and returns
// the time and value of the highest resolved elevation. Ties keep the earliest
// sample. ok is false when no sample could be resolved.
func FindMaxElevation(o Oracle, obs Observer, start, end time.Time, step time.Duration) (time.Time, float64, bool) {
	if step <= 0 {
		step = FineStep
	}

	var (
		bestT  time.Time
		bestEl float64
		found  bool
	)
	sample := func(t time.Time) {
		el, ok := o.Elevation(t, obs)
		if !ok {
			return
		}
		if !found || el > bestEl {
			bestT, bestEl, found = t, el, true
		}
	}

	t := start
	for !t.After(end) {
		sample(t)
		t = t.Add(step)
	}
	if last := t.Add(-step); last.Before(end) {
		sample(end)
	}
	return bestT, bestEl, found
}

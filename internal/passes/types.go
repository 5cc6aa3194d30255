package passes

import (
	"fmt"
	"math"
	"time"
)

// Observer is a ground site. It is never modified during a search.
type Observer struct {
	LatDeg float64 `json:"lat"`
	LonDeg float64 `json:"lon"`
	AltM   float64 `json:"alt_m"`
}

// Oracle reports the elevation (degrees above the observer's horizon) of the
// tracked object at time t. ok is false when the instant cannot be resolved,
// e.g. the orbital model has no solution there.
type Oracle interface {
	Elevation(t time.Time, obs Observer) (deg float64, ok bool)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(t time.Time, obs Observer) (float64, bool)

// Elevation calls f(t, obs).
func (f OracleFunc) Elevation(t time.Time, obs Observer) (float64, bool) {
	return f(t, obs)
}

// Window is the time range scanned for passes and its coarse sampling step.
type Window struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// NewWindow builds a window of the given length in hours starting at start.
func NewWindow(start time.Time, hours float64, step time.Duration) Window {
	return Window{
		Start: start,
		End:   start.Add(time.Duration(hours * float64(time.Hour))),
		Step:  step,
	}
}

// Ticks returns the number of coarse samples the window produces,
// counting the end instant.
func (w Window) Ticks() int {
	if w.Step <= 0 || !w.End.After(w.Start) {
		return 0
	}
	span := w.End.Sub(w.Start)
	n := int(span / w.Step)
	if span%w.Step != 0 {
		n++
	}
	return n + 1
}

// Pass describes one visibility window over the observer.
type Pass struct {
	AOS          time.Time `json:"aos"`
	TCA          time.Time `json:"tca"`
	LOS          time.Time `json:"los"`
	MaxElevation float64   `json:"max_elevation"` // degrees, >= 0

	// InProgress is set when the object was already up at the first resolved
	// sample; AOS is then that sample, which is the window start unless the
	// oracle had no answer there.
	InProgress bool `json:"in_progress,omitempty"`
	// Truncated is set when the object was still up at the window end;
	// LOS is then the window end.
	Truncated bool `json:"truncated,omitempty"`
}

// Duration returns LOS - AOS.
func (p Pass) Duration() time.Duration {
	return p.LOS.Sub(p.AOS)
}

// Result is the outcome of a pass search.
type Result struct {
	Passes []Pass

	// Evaluations counts oracle calls made during the search.
	Evaluations int
	// Gaps counts coarse samples the oracle could not resolve.
	Gaps int
	// Samples counts coarse samples taken.
	Samples int
}

// Empty reports whether the search completed without finding any pass.
// This is a normal outcome, not an error.
func (r Result) Empty() bool {
	return len(r.Passes) == 0
}

// Unresolved reports whether no coarse sample could be resolved at all,
// which points at a propagation problem rather than a quiet sky.
func (r Result) Unresolved() bool {
	return r.Samples > 0 && r.Gaps == r.Samples
}

// ParamError reports an observer or search input rejected before scanning.
type ParamError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

const (
	minAltM = -1000.0
	maxAltM = 100000.0
)

// Validate checks that the observer lies on (or near) the Earth's surface.
func (o Observer) Validate() error {
	switch {
	case math.IsNaN(o.LatDeg) || o.LatDeg < -90 || o.LatDeg > 90:
		return &ParamError{Field: "lat", Value: o.LatDeg, Reason: "must be within [-90, 90] degrees"}
	case math.IsNaN(o.LonDeg) || o.LonDeg < -180 || o.LonDeg > 180:
		return &ParamError{Field: "lon", Value: o.LonDeg, Reason: "must be within [-180, 180] degrees"}
	case math.IsNaN(o.AltM) || o.AltM < minAltM || o.AltM > maxAltM:
		return &ParamError{Field: "alt", Value: o.AltM, Reason: fmt.Sprintf("must be within [%g, %g] meters", minAltM, maxAltM)}
	}
	return nil
}

// Validate checks window ordering and step.
func (w Window) Validate() error {
	if w.Start.IsZero() {
		return &ParamError{Field: "start", Value: w.Start, Reason: "must be set"}
	}
	if !w.End.After(w.Start) {
		return &ParamError{Field: "end", Value: w.End.Format(time.RFC3339), Reason: "must be after start"}
	}
	if w.Step <= 0 {
		return &ParamError{Field: "step", Value: w.Step, Reason: "must be positive"}
	}
	return nil
}

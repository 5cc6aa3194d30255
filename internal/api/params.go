package api

import (
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/kalkan/srec/internal/passes"
)

// Defaults fill in query parameters the caller leaves out.
type Defaults struct {
	Observer     passes.Observer
	Start        time.Time // zero means "now"
	SearchHours  float64
	MaxPasses    int
	Step         time.Duration
	HoursForward float64
	TrackStep    time.Duration
	Location     *time.Location // pass table time zone; nil means UTC
}

// start returns the configured start or the current time.
func (d Defaults) start() time.Time {
	if d.Start.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return d.Start
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &passes.ParamError{Field: name, Value: v, Reason: "must be a number"}
	}
	return f, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &passes.ParamError{Field: name, Value: v, Reason: "must be an integer"}
	}
	return n, nil
}

// secondsParam reads a positive whole number of seconds.
func secondsParam(q url.Values, name string, def time.Duration) (time.Duration, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, &passes.ParamError{Field: name, Value: v, Reason: "must be a positive number of seconds"}
	}
	return time.Duration(n) * time.Second, nil
}

// timeParam reads an RFC 3339 timestamp.
func timeParam(q url.Values, name string, def time.Time) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &passes.ParamError{Field: name, Value: v, Reason: "must be an RFC 3339 timestamp"}
	}
	return t.UTC(), nil
}

// locationParam reads an IANA time zone name for the pass table.
func locationParam(q url.Values, name string, def *time.Location) (*time.Location, error) {
	v := q.Get(name)
	if v == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return nil, &passes.ParamError{Field: name, Value: v, Reason: "unknown time zone"}
	}
	return loc, nil
}

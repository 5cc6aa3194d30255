package propagation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/kalkan/srec/internal/passes"
)

// SGP4 and the frame conversions (TEME → look angles, TEME → geodetic) come
// from github.com/joshuaferrara/go-satellite.
//
// Propagate() takes Satellite by value so SGP4 error codes are not visible
// to the caller. Failures are detected by checking the output for NaN/Inf
// and unreasonable position magnitudes.

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// ErrNoSolution is returned when the orbital model cannot produce a position
// at the requested instant (decayed orbit, model breakdown).
var ErrNoSolution = errors.New("sgp4: no solution")

// SGP4Propagator wraps the go-satellite library for a single satellite.
// It is safe for concurrent use: every call propagates a private copy.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4Propagator creates an SGP4 propagator from TLE lines.
// Returns an error if the TLE cannot be parsed or the SGP4 model fails to initialize.
//
// Pre-validates TLE format before passing to the library, because go-satellite
// calls log.Fatal on malformed input (which would kill the process).
func NewSGP4Propagator(line1, line2 string, noradID int) (*SGP4Propagator, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: noradID}, nil
}

// validateTLELines performs basic format validation on TLE lines.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// NORADID returns the catalog number of the propagated object.
func (p *SGP4Propagator) NORADID() int {
	return p.noradID
}

// propagateSecond runs SGP4 at a whole-second UTC instant.
func (p *SGP4Propagator) propagateSecond(t time.Time) (pos PositionTEME, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: NORAD %d at %s: %v", ErrNoSolution, p.noradID, t.Format(time.RFC3339), r)
		}
	}()

	v, _ := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) ||
		math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) || math.IsInf(v.Z, 0) {
		return PositionTEME{}, fmt.Errorf("%w: NORAD %d: output is NaN/Inf", ErrNoSolution, p.noradID)
	}

	// Position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return PositionTEME{}, fmt.Errorf("%w: NORAD %d: unreasonable position magnitude %.1f km", ErrNoSolution, p.noradID, mag)
	}

	return PositionTEME{X: v.X, Y: v.Y, Z: v.Z}, nil
}

// PositionAt returns the TEME position at t. go-satellite resolves whole
// seconds only, so sub-second instants are interpolated linearly between the
// two bracketing seconds.
func (p *SGP4Propagator) PositionAt(t time.Time) (PositionTEME, error) {
	t = t.UTC()
	whole := t.Truncate(time.Second)

	p0, err := p.propagateSecond(whole)
	if err != nil {
		return PositionTEME{}, err
	}
	frac := t.Sub(whole).Seconds()
	if frac == 0 {
		return p0, nil
	}

	p1, err := p.propagateSecond(whole.Add(time.Second))
	if err != nil {
		return PositionTEME{}, err
	}
	return PositionTEME{
		X: p0.X + (p1.X-p0.X)*frac,
		Y: p0.Y + (p1.Y-p0.Y)*frac,
		Z: p0.Z + (p1.Z-p0.Z)*frac,
	}, nil
}

// LookAngles computes azimuth, elevation and range from obs to the satellite at t.
func (p *SGP4Propagator) LookAngles(t time.Time, obs passes.Observer) (LookAngles, error) {
	pos, err := p.PositionAt(t)
	if err != nil {
		return LookAngles{}, err
	}

	site := satellite.LatLong{Latitude: obs.LatDeg * deg2rad, Longitude: obs.LonDeg * deg2rad}
	la := satellite.ECIToLookAngles(toVector(pos), site, obs.AltM/1000.0, julianDate(t))
	if math.IsNaN(la.El) || math.IsNaN(la.Az) {
		return LookAngles{}, fmt.Errorf("%w: NORAD %d: look angles are NaN", ErrNoSolution, p.noradID)
	}

	return LookAngles{
		AzimuthDeg:   normalizeAzimuth(la.Az * rad2deg),
		ElevationDeg: la.El * rad2deg,
		RangeKm:      la.Rg,
	}, nil
}

// SubPoint returns the geodetic point below the satellite at t.
func (p *SGP4Propagator) SubPoint(t time.Time) (SubPoint, error) {
	pos, err := p.PositionAt(t)
	if err != nil {
		return SubPoint{}, err
	}

	gmst := satellite.ThetaG_JD(julianDate(t))
	alt, _, ll := satellite.ECIToLLA(toVector(pos), gmst)

	return SubPoint{
		Time:   t,
		LatDeg: ll.Latitude * rad2deg,
		LonDeg: normalizeLongitude(ll.Longitude * rad2deg),
		AltKm:  alt,
	}, nil
}

// Elevation implements passes.Oracle. Instants the model cannot resolve
// report ok == false.
func (p *SGP4Propagator) Elevation(t time.Time, obs passes.Observer) (float64, bool) {
	la, err := p.LookAngles(t, obs)
	if err != nil {
		return 0, false
	}
	return la.ElevationDeg, true
}

// julianDate returns the Julian date of t including sub-second precision.
func julianDate(t time.Time) float64 {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return jd + float64(t.Nanosecond())/1e9/86400.0
}

func toVector(p PositionTEME) satellite.Vector3 {
	return satellite.Vector3{X: p.X, Y: p.Y, Z: p.Z}
}

// normalizeLongitude wraps degrees into [-180, 180).
func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// normalizeAzimuth wraps degrees into [0, 360).
func normalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az < 0 {
		az += 360
	}
	return az
}

package propagation

import "time"

// PositionTEME is a satellite position in the TEME (SGP4 output) frame, km.
type PositionTEME struct {
	X, Y, Z float64
}

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// SubPoint is the geodetic point directly below the satellite.
type SubPoint struct {
	Time   time.Time `json:"time"`
	LatDeg float64   `json:"lat"`
	LonDeg float64   `json:"lon"`
	AltKm  float64   `json:"alt_km"`
}

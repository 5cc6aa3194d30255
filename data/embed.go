package data

import _ "embed"

// DefaultTLE is the three-line record of the object tracked when no TLE file
// is configured.
//
//go:embed iss.tle
var DefaultTLE []byte

// DefaultTLEName labels the embedded record in logs and API responses.
const DefaultTLEName = "embedded:iss.tle"

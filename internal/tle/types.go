package tle

import "time"

// Record is a single object's three-line element set.
type Record struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// Dataset is a loaded record together with where and when it was read.
type Dataset struct {
	Source   string
	LoadedAt time.Time
	Record   Record
}

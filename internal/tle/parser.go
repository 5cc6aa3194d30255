package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptySource is returned when the source holds no non-empty lines.
	ErrEmptySource = errors.New("tle source is empty")
	// ErrMalformedRecord is returned when the source does not hold a valid
	// name line followed by the two element lines.
	ErrMalformedRecord = errors.New("malformed tle record")
)

// ParseRecord reads one 3-line TLE record (name, line 1, line 2) from r.
// Blank lines are ignored. Lines after the first record are logged and dropped.
func ParseRecord(r io.Reader, logger *slog.Logger) (Record, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("reading TLE data: %w", err)
	}

	if len(lines) == 0 {
		return Record{}, ErrEmptySource
	}
	if len(lines) < 3 {
		return Record{}, fmt.Errorf("%w: expected 3 non-empty lines, got %d", ErrMalformedRecord, len(lines))
	}
	if len(lines) > 3 && logger != nil {
		logger.Warn("ignoring lines after first TLE record", "extra_lines", len(lines)-3)
	}

	name := strings.TrimSpace(lines[0])
	line1 := lines[1]
	line2 := lines[2]

	if !strings.HasPrefix(line1, "1 ") {
		return Record{}, fmt.Errorf("%w: line 1 of %q must start with \"1 \"", ErrMalformedRecord, name)
	}
	if !strings.HasPrefix(line2, "2 ") {
		return Record{}, fmt.Errorf("%w: line 2 of %q must start with \"2 \"", ErrMalformedRecord, name)
	}
	if len(line1) < 32 || len(line2) < 7 {
		return Record{}, fmt.Errorf("%w: element lines of %q are too short", ErrMalformedRecord, name)
	}

	// NORAD catalog number: columns 3-7 on both lines.
	noradStr := strings.TrimSpace(line1[2:7])
	noradID, err := strconv.Atoi(noradStr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: invalid NORAD ID %q", ErrMalformedRecord, noradStr)
	}
	if other := strings.TrimSpace(line2[2:7]); other != noradStr {
		return Record{}, fmt.Errorf("%w: NORAD ID mismatch between lines (%s vs %s)", ErrMalformedRecord, noradStr, other)
	}

	// Epoch: columns 19-32 of line 1.
	epochStr := strings.TrimSpace(line1[18:32])
	epoch, err := parseEpoch(epochStr)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	return Record{
		NORADID: noradID,
		Name:    name,
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", dayOfYear)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

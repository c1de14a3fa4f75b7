package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned for a malformed period argument.
var ErrInvalidPeriod = errors.New("invalid period")

// Unit is a period unit after normalization.
type Unit byte

// Period units. Hours are normalized to minutes.
const (
	Minutes Unit = 'm'
	Days    Unit = 'd'
)

// Period is a trailing modification window of N minutes or N days.
type Period struct {
	N    int
	Unit Unit
}

var periodPattern = regexp.MustCompile(`^([0-9]+)([mhd])$`)

// ParsePeriod parses "<int><unit>" with unit m, h or d. Hours are converted
// to minutes.
func ParsePeriod(s string) (Period, error) {
	m := periodPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Period{}, fmt.Errorf("%w: %q (want e.g. 30m, 12h or 7d)", ErrInvalidPeriod, s)
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Period{}, fmt.Errorf("%w: %q must be a positive number", ErrInvalidPeriod, s)
	}

	switch m[2] {
	case "h":
		return Period{N: n * 60, Unit: Minutes}, nil
	case "d":
		return Period{N: n, Unit: Days}, nil
	default:
		return Period{N: n, Unit: Minutes}, nil
	}
}

// IsZero reports whether p is unset.
func (p Period) IsZero() bool {
	return p.N == 0
}

// Window returns the period as a duration.
func (p Period) Window() time.Duration {
	if p.Unit == Days {
		return time.Duration(p.N) * 24 * time.Hour
	}
	return time.Duration(p.N) * time.Minute
}

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return strconv.Itoa(p.N) + string(p.Unit)
}

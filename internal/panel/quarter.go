package panel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"wrdspanel/internal/frame"
)

// ParseCalendarQuarter parses a Compustat calendar quarter label such as
// "1979Q4".
func ParseCalendarQuarter(s string) (year, quarter int, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "Qq")
	if i <= 0 || i == len(s)-1 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, 0, false
	}
	q, err := strconv.Atoi(s[i+1:])
	if err != nil || q < 1 || q > 4 {
		return 0, 0, false
	}
	return y, q, true
}

// AddCalendarQuarter sets year, quarter, year_quarter and
// year_quarter_numeric (year*10+quarter) on f. The official calendar quarter
// in cqtrCol is preferred; rows where it is missing or malformed fall back
// to the calendar quarter of dateCol. It returns how many rows fell back.
func AddCalendarQuarter(f *frame.Frame, cqtrCol, dateCol string) (int, error) {
	dates := f.Times(dateCol)
	if dates == nil {
		return 0, fmt.Errorf("date column %q missing or not a date", dateCol)
	}
	labels := f.Strings(cqtrCol)

	n := f.Len()
	years := frame.NaNs(n)
	quarters := frame.NaNs(n)
	yq := make([]string, n)
	numeric := frame.NaNs(n)
	fallback := 0

	for i := 0; i < n; i++ {
		var (
			y, q int
			ok   bool
		)
		if labels != nil {
			y, q, ok = ParseCalendarQuarter(labels[i])
		}
		if !ok {
			if dates[i].IsZero() {
				continue
			}
			y, q = dates[i].Year(), quarterOf(dates[i])
			fallback++
		}
		years[i], quarters[i] = float64(y), float64(q)
		yq[i] = strconv.Itoa(y) + "Q" + strconv.Itoa(q)
		numeric[i] = float64(y*10 + q)
	}

	for _, c := range []*frame.Column{
		frame.NewFloat("year", years),
		frame.NewFloat("quarter", quarters),
		frame.NewString("year_quarter", yq),
		frame.NewFloat("year_quarter_numeric", numeric),
	} {
		if err := f.Set(c); err != nil {
			return 0, err
		}
	}
	return fallback, nil
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// ensureDate converts a text date column to a date column in place.
func ensureDate(f *frame.Frame, name string) error {
	c := f.Column(name)
	if c == nil {
		return fmt.Errorf("column %q not found", name)
	}
	if c.Kind == frame.Time {
		return nil
	}
	if c.Kind != frame.String {
		return fmt.Errorf("column %q is %s, want a date", name, c.Kind)
	}
	out := make([]time.Time, c.Len())
	for i, s := range c.Strings {
		if s == "" {
			continue
		}
		t, err := time.Parse(frame.DateLayout, strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		out[i] = t
	}
	return f.Set(frame.NewTime(name, out))
}

func countFinite(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			n++
		}
	}
	return n
}

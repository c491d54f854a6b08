package link

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"wrdspanel/internal/frame"
)

// ErrCrosswalkNotFound is returned when the linking file does not exist.
var ErrCrosswalkNotFound = errors.New("crosswalk file not found")

// Column names of the CRSP/Compustat linking export.
const (
	ColGvkey     = "gvkey"
	ColPermno    = "LPERMNO"
	ColStart     = "LINKDT"
	ColEnd       = "LINKENDDT"
	ColPrimary   = "LINKPRIM"
	gvkeyDigits  = 6
	primaryValue = "P"
)

var dateLayouts = []string{"2006-01-02", "20060102", "01/02/2006", "2006/01/02", "2006-01-02 15:04:05"}

// Link is one crosswalk row. A zero Start means "since always" and a zero End
// means the link is still active.
type Link struct {
	Gvkey   string
	Permno  int64
	Start   time.Time
	End     time.Time
	Primary bool
}

// Covers reports whether the link is valid on date d (bounds inclusive).
func (l Link) Covers(d time.Time) bool {
	if !l.Start.IsZero() && d.Before(l.Start) {
		return false
	}
	if !l.End.IsZero() && d.After(l.End) {
		return false
	}
	return true
}

// Table indexes crosswalk rows by gvkey.
type Table struct {
	byGvkey  map[string][]Link
	rows     int
	badDates int
}

// Load reads a linking CSV. gvkey and LPERMNO are required; LINKDT, LINKENDDT
// and LINKPRIM are optional. An end date of "E", "C" or empty marks an open
// link. Rows without a permno are skipped.
func Load(path string, logger *slog.Logger) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCrosswalkNotFound, path)
		}
		return nil, err
	}
	f, err := frame.ReadCSVFile(path, frame.ReadOptions{
		StringColumns: []string{ColGvkey, ColStart, ColEnd, ColPrimary},
	})
	if err != nil {
		return nil, fmt.Errorf("read crosswalk: %w", err)
	}
	t, err := FromFrame(f)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("crosswalk loaded",
			slog.String("path", path),
			slog.Int("links", t.rows),
			slog.Int("gvkeys", len(t.byGvkey)))
		if t.badDates > 0 {
			logger.Warn("crosswalk dates not recognized, treating bounds as open",
				slog.String("path", path),
				slog.Int("links", t.badDates))
		}
	}
	return t, nil
}

// FromFrame builds a table from an already loaded crosswalk frame.
func FromFrame(f *frame.Frame) (*Table, error) {
	var missing []string
	for _, c := range []string{ColGvkey, ColPermno} {
		if !f.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("crosswalk missing required columns: %s", strings.Join(missing, ", "))
	}

	gvkeys := f.Column(ColGvkey)
	permnos := f.Column(ColPermno)
	starts, ends, prims := f.Column(ColStart), f.Column(ColEnd), f.Column(ColPrimary)

	t := &Table{byGvkey: make(map[string][]Link)}
	for i := 0; i < f.Len(); i++ {
		if gvkeys.IsMissing(i) || permnos.IsMissing(i) {
			continue
		}
		permno, ok := parsePermno(permnos, i)
		if !ok {
			continue
		}
		l := Link{
			Gvkey:  NormalizeGvkey(gvkeys.Format(i)),
			Permno: permno,
		}
		// An unparseable bound is left open, which widens the link.
		var startErr, endErr error
		if starts != nil {
			l.Start, startErr = parseLinkDate(cell(starts, i))
		}
		if ends != nil {
			l.End, endErr = parseLinkDate(cell(ends, i))
		}
		if startErr != nil || endErr != nil {
			t.badDates++
		}
		if prims != nil {
			l.Primary = strings.EqualFold(cell(prims, i), primaryValue)
		}
		t.byGvkey[l.Gvkey] = append(t.byGvkey[l.Gvkey], l)
		t.rows++
	}
	return t, nil
}

// BadDates returns the number of links with an unparseable LINKDT or
// LINKENDDT. Those bounds are treated as open.
func (t *Table) BadDates() int { return t.badDates }

// Len returns the number of usable links.
func (t *Table) Len() int { return t.rows }

// Links returns the links of a gvkey.
func (t *Table) Links(gvkey string) []Link {
	return t.byGvkey[NormalizeGvkey(gvkey)]
}

// Resolve returns the permno linked to gvkey on date. When several links are
// valid the latest start date wins, then the primary link, then the lowest
// permno, so a firm-quarter never maps to more than one security.
func (t *Table) Resolve(gvkey string, date time.Time) (int64, bool) {
	var candidates []Link
	for _, l := range t.Links(gvkey) {
		if l.Covers(date) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if !ca.Start.Equal(cb.Start) {
			return ca.Start.After(cb.Start)
		}
		if ca.Primary != cb.Primary {
			return ca.Primary
		}
		return ca.Permno < cb.Permno
	})
	return candidates[0].Permno, true
}

// Attach adds a float permno column to f, resolved per row from gvkeyCol and
// dateCol. Rows without a valid link get NaN. It returns the matched count.
func (t *Table) Attach(f *frame.Frame, gvkeyCol, dateCol, out string) (int, error) {
	gv := f.Column(gvkeyCol)
	if gv == nil {
		return 0, fmt.Errorf("column %q not found", gvkeyCol)
	}
	dates := f.Times(dateCol)
	if dates == nil {
		return 0, fmt.Errorf("date column %q not found", dateCol)
	}
	permnos := frame.NaNs(f.Len())
	matched := 0
	for i := range permnos {
		if gv.IsMissing(i) || dates[i].IsZero() {
			continue
		}
		if p, ok := t.Resolve(gv.Format(i), dates[i]); ok {
			permnos[i] = float64(p)
			matched++
		}
	}
	return matched, f.SetFloat(out, permnos)
}

// NormalizeGvkey trims a gvkey and left-pads numeric ones to six digits, so
// "1000" and "001000" refer to the same firm.
func NormalizeGvkey(v string) string {
	s := strings.TrimSpace(v)
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		s = s[:i]
	}
	if s == "" || len(s) >= gvkeyDigits {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Repeat("0", gvkeyDigits-len(s)) + s
}

func parsePermno(c *frame.Column, i int) (int64, bool) {
	if c.Kind == frame.Float {
		v := c.Floats[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	}
	var v float64
	if _, err := fmt.Sscan(c.Format(i), &v); err != nil {
		return 0, false
	}
	return int64(v), true
}

func cell(c *frame.Column, i int) string {
	if c.IsMissing(i) {
		return ""
	}
	return strings.TrimSpace(c.Format(i))
}

// parseLinkDate returns the zero time for the open-ended sentinels.
func parseLinkDate(s string) (time.Time, error) {
	switch strings.ToUpper(s) {
	case "", "E", "C":
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized link date %q", s)
}

package crsp

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"wrdspanel/internal/frame"
	"wrdspanel/internal/stats"
)

// SharesMultiplier converts CRSP shares outstanding (thousands) to shares.
const SharesMultiplier = 1000

// AddCalendarQuarter derives year, quarter and year_quarter ("2020Q1") from
// the trading date column.
func AddCalendarQuarter(f *frame.Frame, dateCol string) error {
	dates := f.Times(dateCol)
	if dates == nil {
		return fmt.Errorf("date column %q missing or not a date", dateCol)
	}
	years := make([]float64, len(dates))
	quarters := make([]float64, len(dates))
	labels := make([]string, len(dates))
	for i, t := range dates {
		if t.IsZero() {
			years[i], quarters[i] = math.NaN(), math.NaN()
			continue
		}
		y, q := CalendarQuarter(t)
		years[i], quarters[i] = float64(y), float64(q)
		labels[i] = QuarterLabel(y, q)
	}
	for _, c := range []*frame.Column{
		frame.NewFloat("year", years),
		frame.NewFloat("quarter", quarters),
		frame.NewString("year_quarter", labels),
	} {
		if err := f.Set(c); err != nil {
			return err
		}
	}
	return nil
}

// CalendarQuarter returns the calendar year and quarter (1-4) of t.
func CalendarQuarter(t time.Time) (int, int) {
	return t.Year(), (int(t.Month())-1)/3 + 1
}

// QuarterLabel formats a year and quarter as "YYYYQn".
func QuarterLabel(year, quarter int) string {
	return strconv.Itoa(year) + "Q" + strconv.Itoa(quarter)
}

// AggregateQuarterly collapses monthly security rows to one row per
// (permno, year, quarter). Rows are taken in date order within each group:
//
//	prc, shrout, date           last non-missing value
//	cusip, permco, year_quarter first non-missing value
//	vol                         mean of non-missing values
//	ret, retx                   compounded as ∏(1+r)−1, missing months count as 0
//
// and mktcap_crsp = |prc| × shrout × 1000. Columns absent from the input are
// skipped.
func AggregateQuarterly(monthly *frame.Frame) (*frame.Frame, error) {
	for _, req := range []string{"permno", "date"} {
		if !monthly.Has(req) {
			return nil, fmt.Errorf("monthly data lacks %q", req)
		}
	}
	if !monthly.Has("year") || !monthly.Has("quarter") {
		if err := AddCalendarQuarter(monthly, "date"); err != nil {
			return nil, err
		}
	}

	// Keep only rows with a usable group key, in (permno, date) order.
	permno, year := monthly.Column("permno"), monthly.Column("year")
	valid := monthly.Filter(func(i int) bool {
		return !permno.IsMissing(i) && !year.IsMissing(i)
	})
	sorted, err := valid.SortBy("permno", "date")
	if err != nil {
		return nil, err
	}
	groups, err := sorted.Groups("permno", "year", "quarter")
	if err != nil {
		return nil, err
	}

	heads := make([]int, len(groups))
	for gi, g := range groups {
		heads[gi] = g[0]
	}
	firstRows := sorted.Take(heads)
	out, err := frame.New(firstRows.Column("permno"), firstRows.Column("year"), firstRows.Column("quarter"))
	if err != nil {
		return nil, err
	}

	pick := func(name string, last bool) error {
		c := sorted.Column(name)
		if c == nil {
			return nil
		}
		idx := make([]int, len(groups))
		for gi, g := range groups {
			idx[gi] = -1
			if last {
				for k := len(g) - 1; k >= 0; k-- {
					if !c.IsMissing(g[k]) {
						idx[gi] = g[k]
						break
					}
				}
			} else {
				for _, r := range g {
					if !c.IsMissing(r) {
						idx[gi] = r
						break
					}
				}
			}
		}
		return out.Set(sorted.Take(idx).Column(name))
	}

	for _, name := range []string{"cusip", "permco", "year_quarter"} {
		if err := pick(name, false); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{"prc", "shrout", "date"} {
		if err := pick(name, true); err != nil {
			return nil, err
		}
	}

	for _, agg := range []struct {
		in, out string
		fn      func([]float64) float64
	}{
		{"vol", "vol", stats.Mean},
		{"ret", "ret_quarterly", stats.Compound},
		{"retx", "retx_quarterly", stats.Compound},
	} {
		values := sorted.Floats(agg.in)
		if values == nil {
			continue
		}
		if err := out.SetFloat(agg.out, reduce(groups, values, agg.fn)); err != nil {
			return nil, err
		}
	}

	if prc, shrout := out.Floats("prc"), out.Floats("shrout"); prc != nil && shrout != nil {
		mcap := make([]float64, out.Len())
		for i := range mcap {
			mcap[i] = stats.MarketCap(prc[i], shrout[i], SharesMultiplier)
		}
		if err := out.SetFloat("mktcap_crsp", mcap); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func reduce(groups [][]int, values []float64, fn func([]float64) float64) []float64 {
	out := make([]float64, len(groups))
	buf := make([]float64, 0, 3)
	for gi, g := range groups {
		buf = buf[:0]
		for _, r := range g {
			buf = append(buf, values[r])
		}
		out[gi] = fn(buf)
	}
	return out
}

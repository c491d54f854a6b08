package frame

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewRejectsMismatchedLengths(t *testing.T) {
	_, err := New(
		NewString("gvkey", []string{"001", "002"}),
		NewFloat("atq", []float64{1}),
	)
	assert.Error(t, err)
}

func TestSetReplacesInPlace(t *testing.T) {
	f := MustNew(NewFloat("a", []float64{1, 2}), NewFloat("b", []float64{3, 4}))
	require.NoError(t, f.SetFloat("a", []float64{9, 9}))
	assert.Equal(t, []string{"a", "b"}, f.Names())
	assert.Equal(t, []float64{9, 9}, f.Floats("a"))

	f.Drop("a", "missing")
	assert.Equal(t, []string{"b"}, f.Names())
	assert.Nil(t, f.Floats("a"))

	require.NoError(t, f.Rename("b", "c"))
	assert.True(t, f.Has("c"))
	assert.False(t, f.Has("b"))
}

func TestSortBy(t *testing.T) {
	f := MustNew(
		NewString("gvkey", []string{"002", "001", "", "001"}),
		NewTime("datadate", []time.Time{date(2020, 3, 31), date(2020, 6, 30), date(2020, 3, 31), date(2020, 3, 31)}),
		NewFloat("x", []float64{1, 2, 3, 4}),
	)

	sorted, err := f.SortBy("gvkey", "datadate")
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "001", "002", ""}, sorted.Strings("gvkey"))
	assert.Equal(t, []float64{4, 2, 1, 3}, sorted.Floats("x"))

	_, err = f.SortBy("nope")
	assert.Error(t, err)
}

func TestDropDuplicatesKeepsFirst(t *testing.T) {
	f := MustNew(
		NewString("gvkey", []string{"001", "001", "002", "001"}),
		NewTime("datadate", []time.Time{date(2020, 3, 31), date(2020, 3, 31), date(2020, 3, 31), date(2020, 6, 30)}),
		NewFloat("x", []float64{1, 2, 3, 4}),
	)

	out, dropped, err := f.DropDuplicates("gvkey", "datadate")
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []float64{1, 3, 4}, out.Floats("x"))

	// Result is unique on the key.
	groups, err := out.Groups("gvkey", "datadate")
	require.NoError(t, err)
	assert.Len(t, groups, out.Len())
}

func TestLeftJoin(t *testing.T) {
	left := MustNew(
		NewFloat("permno", []float64{10, 20, math.NaN(), 10}),
		NewFloat("year", []float64{2020, 2020, 2020, 2021}),
		NewString("cusip", []string{"A", "B", "C", "A"}),
	)
	right := MustNew(
		NewFloat("permno", []float64{10, 20}),
		NewFloat("year", []float64{2020, 2020}),
		NewString("cusip", []string{"A1", "B1"}),
		NewFloat("ret_quarterly", []float64{0.1, 0.2}),
	)

	out, stats, err := left.LeftJoin(right, []string{"permno", "year"}, "_crsp")
	require.NoError(t, err)
	assert.Equal(t, left.Len(), out.Len())
	assert.Equal(t, JoinStats{Matched: 2, Unmatched: 2}, stats)
	assert.Equal(t, []string{"permno", "year", "cusip", "cusip_crsp", "ret_quarterly"}, out.Names())
	assert.Equal(t, []string{"A1", "B1", "", ""}, out.Strings("cusip_crsp"))

	ret := out.Floats("ret_quarterly")
	assert.Equal(t, 0.1, ret[0])
	assert.Equal(t, 0.2, ret[1])
	assert.True(t, math.IsNaN(ret[2]))
	assert.True(t, math.IsNaN(ret[3]))

	// Left input is untouched.
	assert.False(t, left.Has("ret_quarterly"))
}

func TestLeftJoinRejectsDuplicateRightKeys(t *testing.T) {
	left := MustNew(NewFloat("k", []float64{1}))
	right := MustNew(NewFloat("k", []float64{1, 1}), NewFloat("v", []float64{1, 2}))
	_, _, err := left.LeftJoin(right, []string{"k"}, "_r")
	assert.Error(t, err)
}

func TestReorder(t *testing.T) {
	f := MustNew(
		NewFloat("c", []float64{1}),
		NewFloat("a", []float64{1}),
		NewFloat("b", []float64{1}),
		NewFloat("d", []float64{1}),
	)
	f.Reorder([]string{"a", "missing", "b"})
	assert.Equal(t, []string{"a", "b", "c", "d"}, f.Names())
	assert.Equal(t, []float64{1}, f.Floats("c"))
}

func TestGroupsPreserveOrder(t *testing.T) {
	f := MustNew(NewString("g", []string{"b", "a", "b", "a", "c"}))
	groups, err := f.Groups("g")
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 2}, {1, 3}, {4}}, groups)
}

func TestReadCSV(t *testing.T) {
	input := "gvkey,datadate,datacqtr,atq,conm\n" +
		"001234,2020-03-31,2020Q1,10.5,ACME\n" +
		"001235,2020-06-30,2020Q2,NaN,\n"

	f, err := ReadCSV(strings.NewReader(input), ReadOptions{StringColumns: []string{"gvkey"}})
	require.NoError(t, err)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, String, f.Column("gvkey").Kind)
	assert.Equal(t, []string{"001234", "001235"}, f.Strings("gvkey"))
	assert.Equal(t, Time, f.Column("datadate").Kind)
	assert.Equal(t, date(2020, 6, 30), f.Times("datadate")[1])
	assert.Equal(t, String, f.Column("datacqtr").Kind)
	assert.Equal(t, Float, f.Column("atq").Kind)
	assert.Equal(t, 10.5, f.Floats("atq")[0])
	assert.True(t, math.IsNaN(f.Floats("atq")[1]))
	assert.Equal(t, "", f.Strings("conm")[1])
}

func TestColumnFormat(t *testing.T) {
	c := NewFloat("x", []float64{1.5, math.NaN(), math.Inf(1)})
	assert.Equal(t, "1.5", c.Format(0))
	assert.Equal(t, "", c.Format(1))
	assert.Equal(t, "inf", c.Format(2))
	assert.Equal(t, 1, c.MissingCount())

	d := NewTime("d", []time.Time{date(2021, 12, 31), {}})
	assert.Equal(t, "2021-12-31", d.Format(0))
	assert.True(t, d.IsMissing(1))
}

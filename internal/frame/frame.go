package frame

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the storage type of a column.
type Kind int

const (
	Float Kind = iota
	String
	Time
)

func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case String:
		return "string"
	case Time:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DateLayout is used when dates are rendered as text.
const DateLayout = "2006-01-02"

// Column is a named, typed vector. Missing values are NaN for Float,
// "" for String and the zero time for Time.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	Times   []time.Time
}

// NewFloat creates a float column.
func NewFloat(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Float, Floats: values}
}

// NewString creates a string column.
func NewString(name string, values []string) *Column {
	return &Column{Name: name, Kind: String, Strings: values}
}

// NewTime creates a date column.
func NewTime(name string, values []time.Time) *Column {
	return &Column{Name: name, Kind: Time, Times: values}
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	switch c.Kind {
	case Float:
		return len(c.Floats)
	case String:
		return len(c.Strings)
	default:
		return len(c.Times)
	}
}

// IsMissing reports whether row i holds a missing value.
func (c *Column) IsMissing(i int) bool {
	switch c.Kind {
	case Float:
		return math.IsNaN(c.Floats[i])
	case String:
		return c.Strings[i] == ""
	default:
		return c.Times[i].IsZero()
	}
}

// MissingCount returns the number of missing values.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// Format renders row i as text; missing values render as "".
func (c *Column) Format(i int) string {
	if c.IsMissing(i) {
		return ""
	}
	switch c.Kind {
	case Float:
		v := c.Floats[i]
		if math.IsInf(v, 1) {
			return "inf"
		}
		if math.IsInf(v, -1) {
			return "-inf"
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case String:
		return c.Strings[i]
	default:
		return c.Times[i].Format(DateLayout)
	}
}

// key renders row i for grouping and joins. Missing values get a marker
// that cannot collide with formatted values.
func (c *Column) key(i int) string {
	if c.IsMissing(i) {
		return "\x00"
	}
	return c.Format(i)
}

// take builds a column from the given rows; -1 yields a missing value.
func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Float:
		out.Floats = make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 {
				out.Floats[j] = math.NaN()
			} else {
				out.Floats[j] = c.Floats[i]
			}
		}
	case String:
		out.Strings = make([]string, len(idx))
		for j, i := range idx {
			if i >= 0 {
				out.Strings[j] = c.Strings[i]
			}
		}
	default:
		out.Times = make([]time.Time, len(idx))
		for j, i := range idx {
			if i >= 0 {
				out.Times[j] = c.Times[i]
			}
		}
	}
	return out
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Float:
		out.Floats = append([]float64(nil), c.Floats...)
	case String:
		out.Strings = append([]string(nil), c.Strings...)
	default:
		out.Times = append([]time.Time(nil), c.Times...)
	}
	return out
}

// Frame is an ordered set of equal-length columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from columns. All columns must have the same length
// and distinct names.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := f.Set(c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// MustNew is New that panics on error. Intended for tests and literals.
func MustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return f.rows
}

// Width returns the number of columns.
func (f *Frame) Width() int {
	if f == nil {
		return 0
	}
	return len(f.cols)
}

// Empty reports whether the frame is nil or has no rows.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The slice must not be modified.
func (f *Frame) Columns() []*Column {
	return f.cols
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns the named column or nil.
func (f *Frame) Column(name string) *Column {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	return f.cols[i]
}

// Floats returns the values of a float column, or nil.
func (f *Frame) Floats(name string) []float64 {
	c := f.Column(name)
	if c == nil || c.Kind != Float {
		return nil
	}
	return c.Floats
}

// Strings returns the values of a string column, or nil.
func (f *Frame) Strings(name string) []string {
	c := f.Column(name)
	if c == nil || c.Kind != String {
		return nil
	}
	return c.Strings
}

// Times returns the values of a date column, or nil.
func (f *Frame) Times(name string) []time.Time {
	c := f.Column(name)
	if c == nil || c.Kind != Time {
		return nil
	}
	return c.Times
}

// Set adds a column or replaces the column with the same name.
func (f *Frame) Set(c *Column) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("column must have a name")
	}
	if len(f.cols) == 0 {
		f.rows = c.Len()
	} else if c.Len() != f.rows {
		return fmt.Errorf("column %q has %d rows, frame has %d", c.Name, c.Len(), f.rows)
	}
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	if f.index == nil {
		f.index = make(map[string]int)
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// SetFloat is Set for a float column.
func (f *Frame) SetFloat(name string, values []float64) error {
	return f.Set(NewFloat(name, values))
}

// Drop removes the named columns; unknown names are ignored.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.cols[:0]
	for _, c := range f.cols {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	f.cols = kept
	f.reindex()
}

// Rename changes a column name.
func (f *Frame) Rename(from, to string) error {
	i, ok := f.index[from]
	if !ok {
		return fmt.Errorf("column %q not found", from)
	}
	if _, clash := f.index[to]; clash && from != to {
		return fmt.Errorf("column %q already exists", to)
	}
	f.cols[i].Name = to
	f.reindex()
	return nil
}

func (f *Frame) reindex() {
	f.index = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		f.index[c.Name] = i
	}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{index: make(map[string]int, len(f.cols)), rows: f.rows}
	for i, c := range f.cols {
		out.cols = append(out.cols, c.Clone())
		out.index[c.Name] = i
	}
	return out
}

// Take returns a frame holding the given rows in order.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{index: make(map[string]int, len(f.cols)), rows: len(idx)}
	for i, c := range f.cols {
		out.cols = append(out.cols, c.take(idx))
		out.index[c.Name] = i
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(i int) bool) *Frame {
	idx := make([]int, 0, f.rows)
	for i := 0; i < f.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// Key renders the composite key of row i over the given columns.
func (f *Frame) Key(i int, cols []*Column) string {
	if len(cols) == 1 {
		return cols[0].key(i)
	}
	b := make([]byte, 0, 32)
	for j, c := range cols {
		if j > 0 {
			b = append(b, '\x1f')
		}
		b = append(b, c.key(i)...)
	}
	return string(b)
}

// Lookup resolves column names, failing on the first unknown one.
func (f *Frame) Lookup(names ...string) ([]*Column, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c := f.Column(n)
		if c == nil {
			return nil, fmt.Errorf("column %q not found", n)
		}
		cols[i] = c
	}
	return cols, nil
}

// Groups partitions the rows by the key columns. Groups are returned in order
// of first appearance and keep row order within each group.
func (f *Frame) Groups(keys ...string) ([][]int, error) {
	cols, err := f.Lookup(keys...)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int)
	var groups [][]int
	for i := 0; i < f.rows; i++ {
		k := f.Key(i, cols)
		g, ok := pos[k]
		if !ok {
			g = len(groups)
			pos[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups, nil
}

// NaNs returns a float slice of length n filled with NaN.
func NaNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

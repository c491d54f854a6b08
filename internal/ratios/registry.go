package ratios

import (
	"fmt"
	"math"

	"wrdspanel/internal/frame"
)

// Ratio is one derived column. Requires lists the float columns that must be
// present; Compute is only called when they are. Several entries may share a
// Name: the first one whose inputs are present wins and the rest are skipped.
type Ratio struct {
	Name        string
	Description string
	Requires    []string
	Compute     func(in Inputs) []float64
}

// Registry is an ordered list of ratios. Later entries may require columns
// produced by earlier ones.
type Registry []Ratio

// Skip records a ratio that was not produced and the inputs it lacked.
type Skip struct {
	Name    string
	Missing []string
}

// Results summarizes an evaluation.
type Results struct {
	Computed []string
	Skipped  []Skip
}

// Has reports whether the named ratio was produced.
func (r *Results) Has(name string) bool {
	for _, n := range r.Computed {
		if n == name {
			return true
		}
	}
	return false
}

// Names lists the distinct ratio names in evaluation order.
func (r Registry) Names() []string {
	seen := make(map[string]bool, len(r))
	var out []string
	for _, ratio := range r {
		if !seen[ratio.Name] {
			seen[ratio.Name] = true
			out = append(out, ratio.Name)
		}
	}
	return out
}

// Select returns the entries whose name is in names, keeping the entries
// they depend on through earlier ratios.
func (r Registry) Select(names ...string) (Registry, error) {
	known := make(map[string]bool, len(r))
	for _, ratio := range r {
		known[ratio.Name] = true
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if !known[n] {
			return nil, fmt.Errorf("unknown ratio %q", n)
		}
		want[n] = true
	}
	// Walk backwards so a wanted ratio pulls in the producers of its inputs.
	for i := len(r) - 1; i >= 0; i-- {
		if !want[r[i].Name] {
			continue
		}
		for _, req := range r[i].Requires {
			if known[req] {
				want[req] = true
			}
		}
	}
	var out Registry
	for _, ratio := range r {
		if want[ratio.Name] {
			out = append(out, ratio)
		}
	}
	return out, nil
}

// Evaluate adds every computable ratio to f as a float column. An existing
// column with a ratio's name is overwritten. Ratios whose inputs are absent
// are reported in Skipped, never as errors.
func (r Registry) Evaluate(f *frame.Frame) (*Results, error) {
	res := &Results{}
	done := make(map[string]bool, len(r))
	missingByName := make(map[string][]string)
	var order []string

	for _, ratio := range r {
		if done[ratio.Name] {
			continue
		}
		if _, seen := missingByName[ratio.Name]; !seen {
			order = append(order, ratio.Name)
		}
		missing := missingInputs(f, ratio.Requires)
		if len(missing) > 0 {
			if _, seen := missingByName[ratio.Name]; !seen {
				missingByName[ratio.Name] = missing
			}
			continue
		}
		values := ratio.Compute(Inputs{f: f})
		if len(values) != f.Len() {
			return nil, fmt.Errorf("ratio %s produced %d values for %d rows", ratio.Name, len(values), f.Len())
		}
		if err := f.SetFloat(ratio.Name, values); err != nil {
			return nil, fmt.Errorf("ratio %s: %w", ratio.Name, err)
		}
		done[ratio.Name] = true
		res.Computed = append(res.Computed, ratio.Name)
	}
	for _, name := range order {
		if !done[name] {
			res.Skipped = append(res.Skipped, Skip{Name: name, Missing: missingByName[name]})
		}
	}
	return res, nil
}

func missingInputs(f *frame.Frame, requires []string) []string {
	var missing []string
	for _, name := range requires {
		if f.Floats(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Inputs gives a ratio read access to the frame's float columns.
type Inputs struct {
	f *frame.Frame
}

// Len is the row count.
func (in Inputs) Len() int { return in.f.Len() }

// Frame exposes the underlying frame for ratios that need grouping.
func (in Inputs) Frame() *frame.Frame { return in.f }

// Col returns a required column. Ratios must only ask for names listed in
// Requires.
func (in Inputs) Col(name string) []float64 {
	return in.f.Floats(name)
}

// Filled returns a copy of the column with missing values replaced by v, or a
// constant column of v when the column is absent.
func (in Inputs) Filled(name string, v float64) []float64 {
	out := make([]float64, in.f.Len())
	src := in.f.Floats(name)
	for i := range out {
		if src == nil || math.IsNaN(src[i]) {
			out[i] = v
			continue
		}
		out[i] = src[i]
	}
	return out
}

// nz maps a zero denominator to missing.
func nz(v float64) float64 {
	if v == 0 {
		return math.NaN()
	}
	return v
}

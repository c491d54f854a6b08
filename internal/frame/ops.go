package frame

import (
	"fmt"
	"sort"
	"strings"
)

// SortBy returns a copy sorted ascending on the key columns. The sort is
// stable and missing values sort last.
func (f *Frame) SortBy(keys ...string) (*Frame, error) {
	cols, err := f.Lookup(keys...)
	if err != nil {
		return nil, err
	}
	idx := make([]int, f.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, c := range cols {
			if cmp := compare(c, idx[a], idx[b]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return f.Take(idx), nil
}

func compare(c *Column, a, b int) int {
	ma, mb := c.IsMissing(a), c.IsMissing(b)
	switch {
	case ma && mb:
		return 0
	case ma:
		return 1
	case mb:
		return -1
	}
	switch c.Kind {
	case Float:
		x, y := c.Floats[a], c.Floats[b]
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case String:
		return strings.Compare(c.Strings[a], c.Strings[b])
	default:
		return c.Times[a].Compare(c.Times[b])
	}
}

// DropDuplicates keeps the first row of every distinct key.
func (f *Frame) DropDuplicates(keys ...string) (*Frame, int, error) {
	cols, err := f.Lookup(keys...)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[string]bool, f.rows)
	idx := make([]int, 0, f.rows)
	for i := 0; i < f.rows; i++ {
		k := f.Key(i, cols)
		if seen[k] {
			continue
		}
		seen[k] = true
		idx = append(idx, i)
	}
	return f.Take(idx), f.rows - len(idx), nil
}

// JoinStats reports how many left rows found a partner.
type JoinStats struct {
	Matched   int
	Unmatched int
}

// LeftJoin attaches the columns of right to every row of f using the key
// columns. Every left row is kept exactly once; rows without a partner get
// missing values. Right-side names that clash with left names get suffix.
// The right frame must be unique on the key.
func (f *Frame) LeftJoin(right *Frame, on []string, suffix string) (*Frame, JoinStats, error) {
	var stats JoinStats
	leftKeys, err := f.Lookup(on...)
	if err != nil {
		return nil, stats, fmt.Errorf("left: %w", err)
	}
	rightKeys, err := right.Lookup(on...)
	if err != nil {
		return nil, stats, fmt.Errorf("right: %w", err)
	}

	pos := make(map[string]int, right.rows)
	for i := 0; i < right.rows; i++ {
		if anyMissing(rightKeys, i) {
			continue
		}
		k := right.Key(i, rightKeys)
		if _, dup := pos[k]; dup {
			return nil, stats, fmt.Errorf("right side is not unique on %v (key %q)", on, strings.ReplaceAll(k, "\x1f", ","))
		}
		pos[k] = i
	}

	idx := make([]int, f.rows)
	for i := 0; i < f.rows; i++ {
		idx[i] = -1
		if anyMissing(leftKeys, i) {
			stats.Unmatched++
			continue
		}
		if j, ok := pos[f.Key(i, leftKeys)]; ok {
			idx[i] = j
			stats.Matched++
		} else {
			stats.Unmatched++
		}
	}

	out := f.Clone()
	isKey := make(map[string]bool, len(on))
	for _, k := range on {
		isKey[k] = true
	}
	for _, c := range right.cols {
		if isKey[c.Name] {
			continue
		}
		nc := c.take(idx)
		if out.Has(nc.Name) {
			nc.Name += suffix
		}
		if err := out.Set(nc); err != nil {
			return nil, stats, err
		}
	}
	return out, stats, nil
}

func anyMissing(cols []*Column, i int) bool {
	for _, c := range cols {
		if c.IsMissing(i) {
			return true
		}
	}
	return false
}

// Reorder moves the priority columns (those present) to the front in the
// given order; the remaining columns keep their relative order.
func (f *Frame) Reorder(priority []string) {
	front := make([]*Column, 0, len(f.cols))
	used := make(map[string]bool, len(priority))
	for _, name := range priority {
		if c := f.Column(name); c != nil && !used[name] {
			front = append(front, c)
			used[name] = true
		}
	}
	for _, c := range f.cols {
		if !used[c.Name] {
			front = append(front, c)
		}
	}
	f.cols = front
	f.reindex()
}

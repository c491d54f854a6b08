package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadOptions controls type inference in ReadCSV.
type ReadOptions struct {
	// Columns always read as text (identifiers with leading zeros).
	StringColumns []string
	// Columns always parsed as dates.
	TimeColumns []string
}

var missingTokens = map[string]bool{
	"": true, "nan": true, "NaN": true, "NA": true, "<NA>": true, "None": true, "null": true, "NULL": true,
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string, opts ReadOptions) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, opts)
}

// ReadCSV reads a headed CSV. A column becomes Float when every non-missing
// value parses as a number, Time when every value is a YYYY-MM-DD date, and
// String otherwise.
func ReadCSV(r io.Reader, opts ReadOptions) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: no header")
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	rows := records[1:]

	forceString := toSet(opts.StringColumns)
	forceTime := toSet(opts.TimeColumns)

	cols := make([]*Column, 0, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		raw := make([]string, len(rows))
		for i, rec := range rows {
			if j < len(rec) {
				raw[i] = strings.TrimSpace(rec[j])
			}
		}

		switch {
		case forceString[name]:
			cols = append(cols, NewString(name, cleanStrings(raw)))
		case forceTime[name]:
			cols = append(cols, NewTime(name, parseTimes(raw)))
		default:
			cols = append(cols, infer(name, raw))
		}
	}
	return New(cols...)
}

func infer(name string, raw []string) *Column {
	if vals, ok := parseFloats(raw); ok {
		return NewFloat(name, vals)
	}
	if isDateColumn(raw) {
		return NewTime(name, parseTimes(raw))
	}
	return NewString(name, cleanStrings(raw))
}

func parseFloats(raw []string) ([]float64, bool) {
	out := make([]float64, len(raw))
	for i, s := range raw {
		if missingTokens[s] {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func isDateColumn(raw []string) bool {
	seen := false
	for _, s := range raw {
		if missingTokens[s] {
			continue
		}
		if _, err := parseDate(s); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

func parseDate(s string) (time.Time, error) {
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return t, nil
		}
	}
	return time.Parse(DateLayout, s)
}

func parseTimes(raw []string) []time.Time {
	out := make([]time.Time, len(raw))
	for i, s := range raw {
		if missingTokens[s] {
			continue
		}
		if t, err := parseDate(s); err == nil {
			out[i] = t
		}
	}
	return out
}

func cleanStrings(raw []string) []string {
	out := make([]string, len(raw))
	for i, s := range raw {
		if !missingTokens[s] {
			out[i] = s
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

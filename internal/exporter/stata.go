package exporter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"wrdspanel/internal/frame"
)

// Stata 118 (Stata 14+) format constants.
const (
	stataRelease      = "118"
	stataMaxVars      = 32767
	stataMaxStrWidth  = 2045
	stataTypeDouble   = 65526
	stataNameLen      = 129
	stataFormatLen    = 57
	stataLabelLen     = 321
	stataMaxNameChars = 32
)

// stataMissingDouble is the bit pattern of the system missing value ".".
var stataMissingDouble = math.Float64frombits(0x7FE0000000000000)

var stataEpoch = time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)

var stataReserved = map[string]bool{
	"_all": true, "_b": true, "byte": true, "_coef": true, "_cons": true, "double": true,
	"float": true, "if": true, "in": true, "int": true, "long": true, "_n": true, "_N": true,
	"_pi": true, "_pred": true, "_rc": true, "_skip": true, "strL": true, "using": true, "with": true,
}

var stataPlaceholders = map[string]bool{
	"nan": true, "NaN": true, "<NA>": true, "None": true, "NaT": true,
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// ErrStataTooWide is returned when a frame exceeds the variable limit.
var ErrStataTooWide = errors.New("too many variables for stata format")

// PrepareStata returns a copy suitable for the statistical format: textual
// placeholders for missing values become empty and string columns that are
// entirely empty are dropped.
func PrepareStata(f *frame.Frame) (*frame.Frame, []string) {
	out := f.Clone()
	var dropped []string
	for _, c := range out.Columns() {
		if c.Kind != frame.String {
			continue
		}
		empty := true
		for i, s := range c.Strings {
			if stataPlaceholders[strings.TrimSpace(s)] {
				c.Strings[i] = ""
				continue
			}
			if s != "" {
				empty = false
			}
		}
		if empty {
			dropped = append(dropped, c.Name)
		}
	}
	out.Drop(dropped...)
	return out, dropped
}

// StataNames maps column names to valid, unique Stata variable names.
func StataNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		s := invalidNameChars.ReplaceAllString(n, "_")
		if s == "" || (s[0] >= '0' && s[0] <= '9') {
			s = "_" + s
		}
		if stataReserved[s] {
			s = "_" + s
		}
		if len(s) > stataMaxNameChars {
			s = s[:stataMaxNameChars]
		}
		base := s
		for k := 1; used[s]; k++ {
			suffix := "_" + strconv.Itoa(k)
			cut := base
			if len(cut)+len(suffix) > stataMaxNameChars {
				cut = cut[:stataMaxNameChars-len(suffix)]
			}
			s = cut + suffix
		}
		used[s] = true
		out[i] = s
	}
	return out
}

type stataVar struct {
	col    *frame.Column
	name   string
	typ    uint16
	width  int
	format string
}

// WriteStata writes the frame as a Stata 118 .dta file. Float columns become
// doubles, dates become %td doubles and strings become fixed-width str#.
func WriteStata(path string, f *frame.Frame, label string) error {
	if f.Width() == 0 {
		return errors.New("stata export needs at least one column")
	}
	if f.Width() > stataMaxVars {
		return fmt.Errorf("%w: %d > %d", ErrStataTooWide, f.Width(), stataMaxVars)
	}

	vars := planStataVars(f)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := writeStata(file, vars, f.Len(), label); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

func planStataVars(f *frame.Frame) []stataVar {
	cols := f.Columns()
	names := StataNames(f.Names())
	vars := make([]stataVar, len(cols))
	for i, c := range cols {
		v := stataVar{col: c, name: names[i]}
		switch c.Kind {
		case frame.String:
			width := 1
			for _, s := range c.Strings {
				if len(s) > width {
					width = len(s)
				}
			}
			if width > stataMaxStrWidth {
				slog.Warn("truncating long strings for stata export",
					slog.String("column", c.Name),
					slog.Int("max_length", width))
				width = stataMaxStrWidth
			}
			v.typ = uint16(width)
			v.width = width
			v.format = "%" + strconv.Itoa(width) + "s"
		case frame.Time:
			v.typ = stataTypeDouble
			v.width = 8
			v.format = "%td"
		default:
			v.typ = stataTypeDouble
			v.width = 8
			v.format = "%10.0g"
		}
		vars[i] = v
	}
	return vars
}

// countingWriter tracks the absolute offset for the section map.
type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func (c *countingWriter) str(s string) { io.WriteString(c, s) }

func (c *countingWriter) put(v any) {
	if c.err == nil {
		c.err = binary.Write(c, binary.LittleEndian, v)
	}
}

func (c *countingWriter) fixed(s string, size int) {
	buf := make([]byte, size)
	copy(buf, s)
	// Always keep a terminating NUL.
	if len(s) >= size {
		buf[size-1] = 0
	}
	c.Write(buf)
}

func writeStata(file *os.File, vars []stataVar, rows int, label string) error {
	cw := &countingWriter{w: bufio.NewWriterSize(file, 1<<20)}
	var offsets [14]uint64

	cw.str("<stata_dta><header>")
	cw.str("<release>" + stataRelease + "</release>")
	cw.str("<byteorder>LSF</byteorder>")
	cw.str("<K>")
	cw.put(uint16(len(vars)))
	cw.str("</K><N>")
	cw.put(uint64(rows))
	cw.str("</N><label>")
	if len(label) > 80 {
		label = label[:80]
	}
	cw.put(uint16(len(label)))
	cw.str(label)
	cw.str("</label><timestamp>")
	ts := time.Now().Format("02 Jan 2006 15:04")
	cw.put(uint8(len(ts)))
	cw.str(ts)
	cw.str("</timestamp></header>")

	offsets[1] = uint64(cw.n)
	mapPos := cw.n + int64(len("<map>"))
	cw.str("<map>")
	cw.put(offsets)
	cw.str("</map>")

	offsets[2] = uint64(cw.n)
	cw.str("<variable_types>")
	for _, v := range vars {
		cw.put(v.typ)
	}
	cw.str("</variable_types>")

	offsets[3] = uint64(cw.n)
	cw.str("<varnames>")
	for _, v := range vars {
		cw.fixed(v.name, stataNameLen)
	}
	cw.str("</varnames>")

	offsets[4] = uint64(cw.n)
	cw.str("<sortlist>")
	cw.put(make([]uint16, len(vars)+1))
	cw.str("</sortlist>")

	offsets[5] = uint64(cw.n)
	cw.str("<formats>")
	for _, v := range vars {
		cw.fixed(v.format, stataFormatLen)
	}
	cw.str("</formats>")

	offsets[6] = uint64(cw.n)
	cw.str("<value_label_names>")
	cw.Write(make([]byte, stataNameLen*len(vars)))
	cw.str("</value_label_names>")

	offsets[7] = uint64(cw.n)
	cw.str("<variable_labels>")
	for _, v := range vars {
		lbl := ""
		if v.name != v.col.Name {
			lbl = v.col.Name
		}
		cw.fixed(lbl, stataLabelLen)
	}
	cw.str("</variable_labels>")

	offsets[8] = uint64(cw.n)
	cw.str("<characteristics></characteristics>")

	offsets[9] = uint64(cw.n)
	cw.str("<data>")
	writeStataRows(cw, vars, rows)
	cw.str("</data>")

	offsets[10] = uint64(cw.n)
	cw.str("<strls></strls>")

	offsets[11] = uint64(cw.n)
	cw.str("<value_labels></value_labels>")

	offsets[12] = uint64(cw.n)
	cw.str("</stata_dta>")
	offsets[13] = uint64(cw.n)

	if cw.err != nil {
		return fmt.Errorf("failed to write stata file: %w", cw.err)
	}
	if err := cw.w.Flush(); err != nil {
		return err
	}

	// Patch the section map now that all offsets are known.
	if _, err := file.Seek(mapPos, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(file, binary.LittleEndian, offsets)
}

func writeStataRows(cw *countingWriter, vars []stataVar, rows int) {
	rowWidth := 0
	for _, v := range vars {
		rowWidth += v.width
	}
	buf := make([]byte, rowWidth)

	for i := 0; i < rows && cw.err == nil; i++ {
		pos := 0
		for _, v := range vars {
			cell := buf[pos : pos+v.width]
			switch v.col.Kind {
			case frame.String:
				for k := range cell {
					cell[k] = 0
				}
				copy(cell, v.col.Strings[i])
			case frame.Time:
				val := stataMissingDouble
				if t := v.col.Times[i]; !t.IsZero() {
					val = math.Floor(t.Sub(stataEpoch).Hours() / 24)
				}
				binary.LittleEndian.PutUint64(cell, math.Float64bits(val))
			default:
				val := v.col.Floats[i]
				if math.IsNaN(val) || math.IsInf(val, 0) {
					val = stataMissingDouble
				}
				binary.LittleEndian.PutUint64(cell, math.Float64bits(val))
			}
			pos += v.width
		}
		cw.Write(buf)
	}
}

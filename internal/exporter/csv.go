package exporter

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"wrdspanel/internal/frame"
)

// WriteFrameCSV writes a frame as CSV. Missing values become empty fields
// and dates YYYY-MM-DD. The file appears at path only once complete.
func WriteFrameCSV(path string, f *frame.Frame) error {
	rw, err := NewRowWriter(path, f.Names())
	if err != nil {
		return err
	}

	cols := f.Columns()
	record := make([]string, len(cols))
	for i := 0; i < f.Len(); i++ {
		for j, c := range cols {
			record[j] = c.Format(i)
		}
		if err := rw.Write(record); err != nil {
			rw.Abort()
			return fmt.Errorf("write row %d of %s: %w", i, path, err)
		}
	}
	if err := rw.Commit(); err != nil {
		return err
	}
	slog.Debug("csv written",
		slog.String("path", path),
		slog.Int("rows", f.Len()),
		slog.Int("columns", len(cols)))
	return nil
}

// RowWriter streams CSV rows into a temporary file that Commit renames
// into place.
type RowWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
	csv  *csv.Writer
	rows int
}

// NewRowWriter opens a writer for path and writes the header row.
func NewRowWriter(path string, header []string) (*RowWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	buf := bufio.NewWriterSize(file, 1<<16)
	rw := &RowWriter{path: path, file: file, buf: buf, csv: csv.NewWriter(buf)}
	if len(header) > 0 {
		if err := rw.csv.Write(header); err != nil {
			rw.Abort()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	return rw, nil
}

// Write appends one row.
func (w *RowWriter) Write(record []string) error {
	w.rows++
	return w.csv.Write(record)
}

// Rows is the number of data rows written so far.
func (w *RowWriter) Rows() int { return w.rows }

// Commit flushes the rows and moves the file to its final path.
func (w *RowWriter) Commit() error {
	w.csv.Flush()
	err := w.csv.Error()
	if err == nil {
		err = w.buf.Flush()
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.file.Name(), w.path)
	}
	if err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// Abort discards everything written.
func (w *RowWriter) Abort() {
	w.file.Close()
	os.Remove(w.file.Name())
}

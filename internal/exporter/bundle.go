package exporter

import (
	"fmt"
	"log/slog"

	"wrdspanel/internal/frame"
)

// Targets names the destination of each output format. Empty paths are skipped.
type Targets struct {
	Binary string
	CSV    string
	Stata  string
	Excel  string
	// Label is embedded in the Stata header and used as the Excel sheet name.
	Label string
}

// Written lists the files produced by WriteAll.
type Written struct {
	Files        []string
	StataDropped []string
	StataError   error
	ExcelError   error
}

// WriteAll writes the frame in every requested format. Binary and CSV
// failures are returned; Stata and Excel failures are logged and recorded
// in the result because downstream stages only read the binary copy.
func WriteAll(f *frame.Frame, t Targets, logger *slog.Logger) (*Written, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Written{}

	if t.Binary != "" {
		if err := WriteBinary(t.Binary, f); err != nil {
			return w, fmt.Errorf("binary export: %w", err)
		}
		w.Files = append(w.Files, t.Binary)
	}

	if t.CSV != "" {
		if err := WriteFrameCSV(t.CSV, f); err != nil {
			return w, fmt.Errorf("csv export: %w", err)
		}
		w.Files = append(w.Files, t.CSV)
	}

	if t.Stata != "" {
		clean, dropped := PrepareStata(f)
		w.StataDropped = dropped
		if len(dropped) > 0 {
			logger.Info("dropped empty string columns for stata",
				slog.Any("columns", dropped))
		}
		if err := WriteStata(t.Stata, clean, t.Label); err != nil {
			w.StataError = err
			logger.Warn("stata export failed, continuing",
				slog.String("path", t.Stata),
				slog.String("error", err.Error()))
		} else {
			w.Files = append(w.Files, t.Stata)
		}
	}

	if t.Excel != "" {
		sheet := t.Label
		if sheet == "" || len(sheet) > 31 {
			sheet = "panel"
		}
		if err := WriteExcel(t.Excel, Sheet{Name: sheet, Frame: f}); err != nil {
			w.ExcelError = err
			logger.Warn("excel export failed, continuing",
				slog.String("path", t.Excel),
				slog.String("error", err.Error()))
		} else {
			w.Files = append(w.Files, t.Excel)
		}
	}

	logger.Info("saved outputs",
		slog.Int("rows", f.Len()),
		slog.Int("columns", f.Width()),
		slog.Any("files", w.Files))
	return w, nil
}

package config

import (
	"bufio"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadGvkeyList reads a firm identifier list from a CSV or text file.
//
// CSV files use the "gvkey" column when present and the first column otherwise.
// Text files hold one identifier per line with an optional "gvkey" header.
// The result is de-duplicated and sorted. A missing or unreadable file yields
// an empty list and a warning.
func LoadGvkeyList(path string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}

	// Older runs wrote the list as plain text next to the CSV.
	if _, err := os.Stat(path); os.IsNotExist(err) && strings.EqualFold(filepath.Ext(path), ".csv") {
		txt := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
		if _, err := os.Stat(txt); err == nil {
			path = txt
		}
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn("gvkey list not available",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return []string{}
	}
	defer f.Close()

	var raw []string
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		raw, err = readGvkeyCSV(f)
	} else {
		raw, err = readGvkeyText(f)
	}
	if err != nil {
		logger.Warn("failed to read gvkey list",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return []string{}
	}

	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logger.Info("loaded gvkey list",
		slog.String("path", path),
		slog.Int("firms", len(keys)))
	return keys
}

func readGvkeyCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	col := 0
	for i, h := range records[0] {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "gvkey") {
			col = i
			break
		}
	}

	out := make([]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if col < len(rec) {
			out = append(out, rec[col])
		}
	}
	return out, nil
}

func readGvkeyText(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			if strings.EqualFold(line, "gvkey") {
				continue
			}
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// FirmFilter is the resolved firm selection for the Compustat pull.
type FirmFilter struct {
	Gvkeys []string
	SIC    []int
}

// ByGvkey reports whether the filter selects an explicit identifier list.
func (f FirmFilter) ByGvkey() bool {
	return len(f.Gvkeys) > 0
}

// ResolveFirmFilter picks the identifier list when enabled and non-empty and
// otherwise falls back to the industry filter. Neither yields ok == false.
func (c *Config) ResolveFirmFilter(logger *slog.Logger) (FirmFilter, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.Pipeline.UsePredefinedGvkeys {
		keys := LoadGvkeyList(c.ResolvePaths().GvkeyListFile, logger)
		if len(keys) > 0 {
			return FirmFilter{Gvkeys: keys}, true
		}
		logger.Warn("predefined gvkey list is empty, falling back to SIC filter",
			slog.Any("sic_filter", c.Pipeline.SICFilter))
	}
	if len(c.Pipeline.SICFilter) > 0 {
		return FirmFilter{SIC: append([]int(nil), c.Pipeline.SICFilter...)}, true
	}
	return FirmFilter{}, false
}

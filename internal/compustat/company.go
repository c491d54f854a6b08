package compustat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"wrdspanel/internal/config"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/wrds"
)

// fetchCompanyInfo pulls gvkey, sic and (when the server has it) cik for the
// selected firms from the company master table.
func fetchCompanyInfo(ctx context.Context, conn wrds.Conn, filter config.FirmFilter, logger *slog.Logger) (*frame.Frame, error) {
	fields, err := conn.TableFields(ctx, config.CompustatLibrary, config.CompanyTable)
	if err != nil {
		return nil, err
	}
	cols, _ := wrds.FilterAvailable([]string{"gvkey", "sic", "cik"}, fields)
	if len(cols) == 0 || cols[0] != "gvkey" {
		return nil, fmt.Errorf("%s.%s has no gvkey column", config.CompustatLibrary, config.CompanyTable)
	}

	var (
		where string
		arg   any
	)
	if filter.ByGvkey() {
		where = "gvkey = ANY($1)"
		arg = wrds.Array(filter.Gvkeys)
		logger.Info("getting company info for predefined firm list",
			slog.Int("requested", len(filter.Gvkeys)))
	} else {
		codes := make([]string, len(filter.SIC))
		for i, s := range filter.SIC {
			codes[i] = strconv.Itoa(s)
		}
		where = "sic = ANY($1)"
		arg = wrds.Array(codes)
		logger.Info("getting company info for SIC codes",
			slog.Any("sic", filter.SIC))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		wrds.SelectList("", cols),
		wrds.Table(config.CompustatLibrary, config.CompanyTable),
		where)

	info, err := conn.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("company info: %w", err)
	}

	logger.Info("company info retrieved", slog.Int("firms", info.Len()))

	if filter.ByGvkey() && info.Len() < len(filter.Gvkeys) {
		found := make(map[string]bool, info.Len())
		for _, g := range info.Strings("gvkey") {
			found[g] = true
		}
		var missing []string
		for _, g := range filter.Gvkeys {
			if !found[g] {
				missing = append(missing, g)
			}
		}
		logger.Warn("gvkeys not found in company table",
			slog.Int("count", len(missing)),
			slog.Any("gvkeys", missing))
	}

	if c := info.Column("cik"); c != nil {
		if err := info.Set(frame.NewString("cik", normalizeCIKs(c))); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func normalizeCIKs(c *frame.Column) []string {
	out := make([]string, c.Len())
	for i := range out {
		if c.IsMissing(i) {
			continue
		}
		out[i] = NormalizeCIK(c.Format(i))
	}
	return out
}

// NormalizeCIK reduces an SEC central index key to its 10-digit zero-padded
// form. Placeholders, decimals and stray characters are handled; anything
// without digits becomes "".
func NormalizeCIK(v string) string {
	s := strings.TrimSpace(v)
	switch strings.ToLower(s) {
	case "", "nan", "none", "<na>":
		return ""
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) < 10 {
		digits = strings.Repeat("0", 10-len(digits)) + digits
	}
	return digits
}

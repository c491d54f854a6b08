package wrds

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// FilterAvailable keeps the requested columns that exist in available,
// preserving request order. Matching is case-insensitive and returns the
// server's spelling. The second result lists the requested columns that were
// dropped.
func FilterAvailable(requested, available []string) (kept, dropped []string) {
	byLower := make(map[string]string, len(available))
	for _, a := range available {
		byLower[strings.ToLower(a)] = a
	}
	seen := make(map[string]bool, len(requested))
	for _, r := range requested {
		name, ok := byLower[strings.ToLower(r)]
		if !ok {
			dropped = append(dropped, r)
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		kept = append(kept, name)
	}
	return kept, dropped
}

// SelectList renders quoted column identifiers for a SELECT clause,
// optionally qualified with a table alias.
func SelectList(alias string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		q := pq.QuoteIdentifier(c)
		if alias != "" {
			q = alias + "." + q
		}
		parts[i] = q
	}
	return strings.Join(parts, ", ")
}

// Table renders a quoted library.table reference.
func Table(library, table string) string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(library), pq.QuoteIdentifier(table))
}

// Array wraps a Go slice for use with "= ANY($n)".
func Array(v any) any {
	return pq.Array(v)
}

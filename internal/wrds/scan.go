package wrds

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"wrdspanel/internal/frame"
)

// KindFor maps a PostgreSQL type name to a column kind.
func KindFor(dbType string) frame.Kind {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL", "FLOAT4", "FLOAT8", "INT2", "INT4", "INT8", "REAL", "DOUBLE PRECISION", "MONEY":
		return frame.Float
	case "DATE", "TIMESTAMP", "TIMESTAMPTZ":
		return frame.Time
	default:
		return frame.String
	}
}

// rowScanner is implemented by *sql.Rows.
type rowScanner interface {
	ColumnTypes() ([]*sql.ColumnType, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFrame(rows rowScanner) (*frame.Frame, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	kinds := make([]frame.Kind, len(types))
	names := make([]string, len(types))
	for i, t := range types {
		kinds[i] = KindFor(t.DatabaseTypeName())
		names[i] = t.Name()
	}
	return collect(rows, names, kinds)
}

func collect(rows rowScanner, names []string, kinds []frame.Kind) (*frame.Frame, error) {
	cols := make([]*frame.Column, len(names))
	dest := make([]any, len(names))
	for i, k := range kinds {
		cols[i] = &frame.Column{Name: names[i], Kind: k}
		switch k {
		case frame.Float:
			cols[i].Floats = []float64{}
			dest[i] = new(sql.NullFloat64)
		case frame.Time:
			cols[i].Times = []time.Time{}
			dest[i] = new(sql.NullTime)
		default:
			cols[i].Strings = []string{}
			dest[i] = new(sql.NullString)
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, d := range dest {
			c := cols[i]
			switch v := d.(type) {
			case *sql.NullFloat64:
				if v.Valid {
					c.Floats = append(c.Floats, v.Float64)
				} else {
					c.Floats = append(c.Floats, math.NaN())
				}
			case *sql.NullTime:
				if v.Valid {
					y, m, d := v.Time.Date()
					c.Times = append(c.Times, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
				} else {
					c.Times = append(c.Times, time.Time{})
				}
			case *sql.NullString:
				c.Strings = append(c.Strings, strings.TrimSpace(v.String))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frame.New(cols...)
}

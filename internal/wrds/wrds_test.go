package wrds

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/config"
	"wrdspanel/internal/frame"
)

func TestFilterAvailable(t *testing.T) {
	tests := []struct {
		name        string
		requested   []string
		available   []string
		wantKept    []string
		wantDropped []string
	}{
		{
			name:      "all present",
			requested: []string{"gvkey", "atq"},
			available: []string{"atq", "gvkey", "ltq"},
			wantKept:  []string{"gvkey", "atq"},
		},
		{
			name:        "missing dropped in order",
			requested:   []string{"gvkey", "ffoq", "atq", "sretq"},
			available:   []string{"gvkey", "atq"},
			wantKept:    []string{"gvkey", "atq"},
			wantDropped: []string{"ffoq", "sretq"},
		},
		{
			name:      "case-insensitive with server spelling",
			requested: []string{"GVKEY", "atq", "gvkey"},
			available: []string{"gvkey", "atq"},
			wantKept:  []string{"gvkey", "atq"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, dropped := FilterAvailable(tt.requested, tt.available)
			assert.Equal(t, tt.wantKept, kept)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}

func TestSelectListQuotesIdentifiers(t *testing.T) {
	assert.Equal(t, `a."gvkey", a."atq"`, SelectList("a", []string{"gvkey", "atq"}))
	assert.Equal(t, `"we""ird"`, SelectList("", []string{`we"ird`}))
	assert.Equal(t, `"comp"."fundq"`, Table("comp", "fundq"))
}

func TestDSN(t *testing.T) {
	cfg := config.Default().WRDS
	cfg.Username = "researcher"

	dsn := DSN(cfg)
	assert.Contains(t, dsn, "host=wrds-pgdata.wharton.upenn.edu")
	assert.Contains(t, dsn, "port=9737")
	assert.Contains(t, dsn, "user=researcher")
	assert.Contains(t, dsn, "dbname=wrds")
	assert.Contains(t, dsn, "sslmode=require")
	assert.Contains(t, dsn, "connect_timeout=30")
	assert.NotContains(t, dsn, "password")

	cfg.Password = "it's secret"
	assert.Contains(t, DSN(cfg), `password='it\'s secret'`)
}

func TestConnectRequiresUsername(t *testing.T) {
	_, err := Connect(context.Background(), config.Default().WRDS, nil)
	assert.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, frame.Float, KindFor("NUMERIC"))
	assert.Equal(t, frame.Float, KindFor("float8"))
	assert.Equal(t, frame.Float, KindFor("INT4"))
	assert.Equal(t, frame.Time, KindFor("DATE"))
	assert.Equal(t, frame.String, KindFor("VARCHAR"))
	assert.Equal(t, frame.String, KindFor("BPCHAR"))
}

// fakeRows feeds collect without a database.
type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) ColumnTypes() ([]*sql.ColumnType, error) { return nil, nil }
func (r *fakeRows) Err() error                               { return nil }
func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}
func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		if err := d.(sql.Scanner).Scan(row[i]); err != nil {
			return err
		}
	}
	return nil
}

func TestCollect(t *testing.T) {
	rows := &fakeRows{data: [][]any{
		{"001234  ", []byte("12.5"), time.Date(2020, 3, 31, 0, 0, 0, 0, time.FixedZone("EST", -5*3600))},
		{nil, nil, nil},
	}}

	f, err := collect(rows, []string{"gvkey", "atq", "datadate"}, []frame.Kind{frame.String, frame.Float, frame.Time})
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"001234", ""}, f.Strings("gvkey"))
	assert.Equal(t, 12.5, f.Floats("atq")[0])
	assert.True(t, math.IsNaN(f.Floats("atq")[1]))
	assert.Equal(t, time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), f.Times("datadate")[0])
	assert.True(t, f.Times("datadate")[1].IsZero())
}

func TestCollectEmptyResultKeepsColumns(t *testing.T) {
	f, err := collect(&fakeRows{}, []string{"gvkey"}, []frame.Kind{frame.String})
	require.NoError(t, err)
	assert.Equal(t, 0, f.Len())
	assert.True(t, strings.Contains(strings.Join(f.Names(), ","), "gvkey"))
}

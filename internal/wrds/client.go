package wrds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // Start the PostgreSQL sql driver

	"wrdspanel/internal/config"
	"wrdspanel/internal/frame"
)

// Conn is the subset of a WRDS session the pipeline stages need.
type Conn interface {
	// TableFields lists the column names of library.table.
	TableFields(ctx context.Context, library, table string) ([]string, error)
	// Query runs a SELECT and returns the result as a frame.
	Query(ctx context.Context, query string, args ...any) (*frame.Frame, error)
	Close() error
}

// Dialer opens a new connection. Each stage dials once and closes on exit.
type Dialer func(ctx context.Context) (Conn, error)

// Client is a Conn backed by database/sql and lib/pq.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDialer returns a Dialer for the configured server.
func NewDialer(cfg config.WRDSConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return Connect(ctx, cfg, logger)
	}
}

// Connect opens a connection to the WRDS PostgreSQL server and verifies it is
// alive. The caller is responsible for calling Close.
func Connect(ctx context.Context, cfg config.WRDSConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, config.ErrMissingCredential
	}

	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	// Establish a connection and verify it is alive.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("connected to WRDS",
		slog.String("host", cfg.Host),
		slog.String("user", cfg.Username))
	return &Client{db: db, logger: logger}, nil
}

// DSN builds a lib/pq connection string. Without a password lib/pq falls back
// to ~/.pgpass, which is where the WRDS setup stores it.
func DSN(cfg config.WRDSConfig) string {
	parts := []string{
		"host=" + quoteDSN(cfg.Host),
		"port=" + strconv.Itoa(cfg.Port),
		"user=" + quoteDSN(cfg.Username),
		"dbname=" + quoteDSN(cfg.Database),
		"sslmode=" + cfg.SSLMode,
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteDSN(cfg.Password))
	}
	if cfg.ConnectTimeout > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(int(cfg.ConnectTimeout/time.Second)))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Close closes the underlying pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// TableFields lists the columns of library.table from information_schema.
func (c *Client) TableFields(ctx context.Context, library, table string) ([]string, error) {
	const stmt = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`

	rows, err := c.db.QueryContext(ctx, stmt, library, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", library, table, err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		fields = append(fields, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("table %s.%s not found or not accessible", library, table)
	}
	return fields, nil
}

// Libraries lists the schemas visible to the current user.
func (c *Client) Libraries(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT table_schema FROM information_schema.tables ORDER BY table_schema`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		libs = append(libs, s)
	}
	return libs, rows.Err()
}

// Query runs a statement and scans every row into a frame. Column kinds are
// chosen from the database types: numeric types become Float, dates and
// timestamps become Time and everything else String.
func (c *Client) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	f, err := scanFrame(rows)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("query completed",
		slog.Int("rows", f.Len()),
		slog.Int("columns", f.Width()),
		slog.Duration("duration", time.Since(start)))
	return f, nil
}

// ErrEmptyResult is returned by stages when a query yields no rows.
var ErrEmptyResult = errors.New("query returned no rows")

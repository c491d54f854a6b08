// Package wrdstest provides an in-memory wrds.Conn for tests.
package wrdstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"wrdspanel/internal/frame"
	"wrdspanel/internal/wrds"
)

// Call records one Query invocation.
type Call struct {
	Query string
	Args  []any
}

// Responder answers a query. Returning nil, nil yields an error.
type Responder func(query string, args []any) (*frame.Frame, error)

// Server is the shared state behind fake connections.
type Server struct {
	mu      sync.Mutex
	Fields  map[string][]string
	Respond Responder

	Calls  []Call
	Dials  int
	Closes int
	// DialErr, when set, fails every dial.
	DialErr error
}

// NewServer returns a fake with the given schema, keyed "library.table".
func NewServer(fields map[string][]string, respond Responder) *Server {
	return &Server{Fields: fields, Respond: respond}
}

// Dialer returns a wrds.Dialer producing connections to this server.
func (s *Server) Dialer() wrds.Dialer {
	return func(ctx context.Context) (wrds.Conn, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.DialErr != nil {
			return nil, s.DialErr
		}
		s.Dials++
		return &conn{server: s}, nil
	}
}

// Open reports how many connections are still open.
func (s *Server) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Dials - s.Closes
}

// QueryCount returns the number of queries served.
func (s *Server) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

type conn struct {
	server *Server
	closed bool
}

func (c *conn) TableFields(ctx context.Context, library, table string) ([]string, error) {
	fields, ok := c.server.Fields[library+"."+table]
	if !ok {
		return nil, fmt.Errorf("table %s.%s not found", library, table)
	}
	return append([]string(nil), fields...), nil
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (*frame.Frame, error) {
	if c.closed {
		return nil, fmt.Errorf("connection closed")
	}
	c.server.mu.Lock()
	c.server.Calls = append(c.server.Calls, Call{Query: query, Args: args})
	respond := c.server.Respond
	c.server.mu.Unlock()

	if respond == nil {
		return nil, fmt.Errorf("no responder for %q", query)
	}
	f, err := respond(query, args)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("responder returned no frame for %q", query)
	}
	return f, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.server.mu.Lock()
	c.server.Closes++
	c.server.mu.Unlock()
	return nil
}

// Strings extracts a []string passed through wrds.Array.
func Strings(arg any) []string {
	switch v := arg.(type) {
	case *pq.StringArray:
		return []string(*v)
	case pq.StringArray:
		return []string(v)
	case []string:
		return v
	}
	return nil
}

// Ints extracts a []int64 passed through wrds.Array.
func Ints(arg any) []int64 {
	switch v := arg.(type) {
	case *pq.Int64Array:
		return []int64(*v)
	case pq.Int64Array:
		return []int64(v)
	case []int64:
		return v
	}
	return nil
}

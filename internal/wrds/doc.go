// Package wrds talks to the WRDS PostgreSQL server.
//
// Stages depend on the Conn interface and receive a Dialer, so every stage
// opens exactly one connection and closes it on every exit path:
//
//	conn, err := dial(ctx)
//	if err != nil {
//	    return nil, err
//	}
//	defer conn.Close()
//
// Column lists are checked against information_schema before querying and
// identifiers are always quoted; filter values travel as bind parameters.
package wrds

// Package cache persists stage outputs and decides when they can be reused.
//
// Every entry is written as a binary snapshot, a CSV copy and a Stata copy,
// followed by a JSON manifest holding the digest of the parameters that
// produced it. A later Load is a hit only when the refresh flag is off, the
// manifest digest equals the digest of the current parameters and the binary
// snapshot is readable. Changing the sample window, firm filter or variable
// list therefore regenerates the entry without a manual refresh.
package cache

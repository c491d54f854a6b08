// Package frame is a small in-memory column store used to move tabular
// research data between pipeline stages.
//
// Columns are typed (Float, String, Time) and encode missing values in-band:
// NaN, the empty string and the zero time respectively. Operations return new
// frames except Set, Drop, Rename and Reorder, which modify in place.
package frame

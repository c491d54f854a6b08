// Package ratios derives accounting and market ratios for the quarterly
// panel.
//
// Each ratio declares the columns it needs. A ratio whose inputs are absent
// is skipped and reported; alternatives sharing a name are tried in order.
package ratios

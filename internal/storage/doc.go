// Package storage publishes finished pipeline outputs to an S3-compatible
// object store.
package storage

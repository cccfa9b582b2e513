// Package datasource implements the data packet / data source API.
//
// A Source is an opaque, single-consumer provider of bytes for one
// subresource of a pending GPU transfer. It is intentionally narrow: a
// Source only needs
// to hand back bytes and describe its row/slice pitch; everything else
// (retry policy, caching, background loading) lives above it.
package datasource

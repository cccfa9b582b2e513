// Package resource implements the resource locator: a shared handle to
// a GPU resource together with an
// optional (offset, size) sub-range and a weak back-pointer to the pool
// that owns the parent, so that destruction returns the allocation to
// the pool instead of freeing it outright.
package resource

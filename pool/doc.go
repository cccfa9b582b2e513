// Package pool implements the resource pool:
// descriptor-signature-keyed recycling of GPU resources, so repeated
// transactions for the same shape and format reuse an existing
// allocation instead of calling back into the device every time.
//
// Acquire returns a resource.Locator that, when closed, does not free
// the underlying resource: it returns it to the pool's idle list for
// the matching descriptor, keyed by [gpucore.Descriptor.Equal]. An
// optional background reaper trims resources that have sat idle past a
// configurable age.
package pool

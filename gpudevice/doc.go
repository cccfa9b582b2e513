// Package gpudevice is the narrow, consumed GPU Device trait that the
// upload queue, tile atlas and resource pool record commands against.
// It exists so none of them import a concrete graphics backend directly.
//
// The interface only exposes what this module's components actually
// need: creating resources from a gpucore.Descriptor, creating typed
// views, recording copy commands, and submitting with a fence. It does
// not expose shader, pipeline or render-pass state; that belongs to a
// renderer built on top of this module, not to the streaming subsystem
// itself.
package gpudevice

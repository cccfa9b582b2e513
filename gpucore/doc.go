// Package gpucore defines the shared, backend-agnostic vocabulary for GPU
// resources used across the streaming subsystem: opaque resource IDs,
// resource descriptors, bind/access flags, and a small tagged "views"
// record.
//
// Nothing in this package talks to an actual GPU device. It exists so
// that upload, pool, and atlas can describe what they want created
// without depending on a specific backend; a concrete gpudevice.Device
// (see the gpudevice package) turns a Descriptor into real resources.
package gpucore

package gpucore

// BufferID is an opaque handle to a GPU buffer, assigned by whatever
// gpudevice.Device created it.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture (including array and
// 3D textures).
type TextureID uint64

// InvalidID is the zero value for both BufferID and TextureID,
// representing "no resource".
const InvalidID = 0

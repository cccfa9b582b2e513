package terrain

import "math"

// Vec3 is a point or direction in world space.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// LengthSquared returns v's squared length, cheaper than Length for
// distance comparisons (upload priority only needs relative order).
func (v Vec3) LengthSquared() float64 { return v.Dot(v) }

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max Vec3
}

// Center returns the midpoint of the box.
func (b AABB) Center() Vec3 {
	return Vec3{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2, (b.Min.Z + b.Max.Z) / 2}
}

// Corners returns the 8 corners of the box.
func (b AABB) Corners() [8]Vec3 {
	return [8]Vec3{
		{b.Min.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Min.Y, b.Min.Z},
		{b.Min.X, b.Max.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Min.Z},
		{b.Min.X, b.Min.Y, b.Max.Z}, {b.Max.X, b.Min.Y, b.Max.Z},
		{b.Min.X, b.Max.Y, b.Max.Z}, {b.Max.X, b.Max.Y, b.Max.Z},
	}
}

// Mat4 is a 4x4 matrix in row-major order: m[row*4+col].
type Mat4 struct {
	m [16]float64
}

// NewMat4 builds a Mat4 from 16 row-major entries.
func NewMat4(entries [16]float64) Mat4 { return Mat4{m: entries} }

// Multiply returns a*b (a applied after b, i.e. a.Multiply(b) transforms
// a point by b first, then a).
func (a Mat4) Multiply(b Mat4) Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a.m[r*4+k] * b.m[k*4+c]
			}
			out.m[r*4+c] = sum
		}
	}
	return out
}

// TransformVec4 applies the matrix to (v.X, v.Y, v.Z, 1) and returns the
// resulting clip-space (x, y, z, w).
func (a Mat4) TransformVec4(v Vec3) (x, y, z, w float64) {
	x = a.m[0]*v.X + a.m[1]*v.Y + a.m[2]*v.Z + a.m[3]
	y = a.m[4]*v.X + a.m[5]*v.Y + a.m[6]*v.Z + a.m[7]
	z = a.m[8]*v.X + a.m[9]*v.Y + a.m[10]*v.Z + a.m[11]
	w = a.m[12]*v.X + a.m[13]*v.Y + a.m[14]*v.Z + a.m[15]
	return
}

// Row returns the four entries of matrix row i (0-indexed).
func (a Mat4) Row(i int) (x, y, z, w float64) {
	return a.m[i*4], a.m[i*4+1], a.m[i*4+2], a.m[i*4+3]
}

// Plane is N.X + D = 0, with "inside" the frustum being N.X + D >= 0.
type Plane struct {
	Normal Vec3
	D      float64
}

func (p Plane) normalized() Plane {
	l := math.Sqrt(p.Normal.Dot(p.Normal))
	if l == 0 {
		return p
	}
	return Plane{Normal: p.Normal.Scale(1 / l), D: p.D / l}
}

func (p Plane) distance(v Vec3) float64 { return p.Normal.Dot(v) + p.D }

// Frustum is the six half-spaces of a view-projection matrix's visible
// volume, in the order {left, right, bottom, top, near, far}.
type Frustum struct {
	Planes [6]Plane
}

// FrustumFromViewProj extracts the six frustum planes from a
// view-projection matrix using the standard Gribb-Hartmann method.
func FrustumFromViewProj(vp Mat4) Frustum {
	r0x, r0y, r0z, r0w := vp.Row(0)
	r1x, r1y, r1z, r1w := vp.Row(1)
	r2x, r2y, r2z, r2w := vp.Row(2)
	r3x, r3y, r3z, r3w := vp.Row(3)

	add := func(ax, ay, az, aw, bx, by, bz, bw float64) Plane {
		return Plane{Normal: Vec3{ax + bx, ay + by, az + bz}, D: aw + bw}.normalized()
	}
	sub := func(ax, ay, az, aw, bx, by, bz, bw float64) Plane {
		return Plane{Normal: Vec3{ax - bx, ay - by, az - bz}, D: aw - bw}.normalized()
	}

	return Frustum{Planes: [6]Plane{
		add(r3x, r3y, r3z, r3w, r0x, r0y, r0z, r0w), // left
		sub(r3x, r3y, r3z, r3w, r0x, r0y, r0z, r0w), // right
		add(r3x, r3y, r3z, r3w, r1x, r1y, r1z, r1w), // bottom
		sub(r3x, r3y, r3z, r3w, r1x, r1y, r1z, r1w), // top
		add(r3x, r3y, r3z, r3w, r2x, r2y, r2z, r2w), // near
		sub(r3x, r3y, r3z, r3w, r2x, r2y, r2z, r2w), // far
	}}
}

// CullResult is the tri-state result of testing an AABB against a
// Frustum.
type CullResult uint8

const (
	// Culled: the box is entirely outside at least one plane.
	Culled CullResult = iota
	// PartiallyIn: the box straddles at least one plane but is not
	// entirely outside any.
	PartiallyIn
	// FullyIn: the box is entirely inside every plane.
	FullyIn
)

// TestAABB classifies box against f using the positive/negative vertex
// test. It never drops a box that truly intersects the frustum:
// a box is only Culled when some plane has every corner outside it.
func (f Frustum) TestAABB(box AABB) CullResult {
	result := FullyIn
	for _, plane := range f.Planes {
		// Positive vertex: the corner furthest along the plane normal.
		pos := Vec3{box.Min.X, box.Min.Y, box.Min.Z}
		neg := Vec3{box.Max.X, box.Max.Y, box.Max.Z}
		if plane.Normal.X >= 0 {
			pos.X, neg.X = box.Max.X, box.Min.X
		}
		if plane.Normal.Y >= 0 {
			pos.Y, neg.Y = box.Max.Y, box.Min.Y
		}
		if plane.Normal.Z >= 0 {
			pos.Z, neg.Z = box.Max.Z, box.Min.Z
		}

		if plane.distance(pos) < 0 {
			return Culled
		}
		if plane.distance(neg) < 0 {
			result = PartiallyIn
		}
	}
	return result
}

// Viewport describes the pixel dimensions the projection targets.
type Viewport struct {
	Width, Height float64
}

// screenPoint projects a world-space point through viewProj into pixel
// coordinates. ok is false if the point is behind the camera (w <= 0),
// in which case the caller should treat the edge as maximally long
// rather than silently shrinking it.
func screenPoint(v Vec3, viewProj Mat4, vp Viewport) (x, y float64, ok bool) {
	cx, cy, _, cw := viewProj.TransformVec4(v)
	if cw <= 1e-6 {
		return 0, 0, false
	}
	ndcX, ndcY := cx/cw, cy/cw
	return (ndcX*0.5 + 0.5) * vp.Width, (1 - (ndcY*0.5 + 0.5)) * vp.Height, true
}

// ScreenEdgeLength projects corners (the four world-space corners of a
// node's unit square, in order) through viewProj and returns the
// longest of the four resulting screen-space edges in pixels.
func ScreenEdgeLength(corners [4]Vec3, viewProj Mat4, vp Viewport) float64 {
	var px, py [4]float64
	anyOffscreen := false
	for i, c := range corners {
		x, y, ok := screenPoint(c, viewProj, vp)
		if !ok {
			anyOffscreen = true
		}
		px[i], py[i] = x, y
	}
	if anyOffscreen {
		// A corner behind the camera makes any pixel-space edge length
		// meaningless; treat the node as maximally large on screen so
		// it is never starved of LOD refinement while straddling the
		// near plane.
		return math.MaxFloat64
	}
	var maxEdge float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		dx, dy := px[j]-px[i], py[j]-py[i]
		edge := math.Hypot(dx, dy)
		if edge > maxEdge {
			maxEdge = edge
		}
	}
	return maxEdge
}

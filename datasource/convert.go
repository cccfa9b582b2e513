package datasource

import (
	"image"

	"golang.org/x/image/draw"
)

// ExpandGrayToRGBA8 widens a tightly packed single-channel (R8) byte
// buffer of width x height samples into an RGBA8 buffer of the same
// dimensions, replicating the gray value into R, G and B and setting
// alpha to opaque. It exists for tests and tools that need to preview
// a height or coverage layer (single-channel, as stored by
// terrain.LayerSource) on a format that expects four channels, without
// involving a GPU device.
//
// The conversion itself is delegated to image/draw rather than a
// hand-rolled channel-expansion loop.
func ExpandGrayToRGBA8(src []byte, width, height int) ([]byte, error) {
	if len(src) != width*height {
		return nil, ErrSubresourceRange
	}
	gray := &image.Gray{
		Pix:    src,
		Stride: width,
		Rect:   image.Rect(0, 0, width, height),
	}
	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), gray, image.Point{}, draw.Src)
	return rgba.Pix, nil
}

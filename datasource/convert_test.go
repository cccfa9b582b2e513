package datasource

import "testing"

func TestExpandGrayToRGBA8ReplicatesChannels(t *testing.T) {
	gray := []byte{0x10, 0x20, 0x30, 0x40}
	rgba, err := ExpandGrayToRGBA8(gray, 2, 2)
	if err != nil {
		t.Fatalf("ExpandGrayToRGBA8() error = %v", err)
	}
	if len(rgba) != len(gray)*4 {
		t.Fatalf("len(rgba) = %d, want %d", len(rgba), len(gray)*4)
	}
	for i, g := range gray {
		r, gc, b, a := rgba[i*4], rgba[i*4+1], rgba[i*4+2], rgba[i*4+3]
		if r != g || gc != g || b != g || a != 0xff {
			t.Fatalf("pixel %d = (%d,%d,%d,%d), want (%d,%d,%d,255)", i, r, gc, b, a, g, g, g)
		}
	}
}

func TestExpandGrayToRGBA8RejectsWrongLength(t *testing.T) {
	if _, err := ExpandGrayToRGBA8([]byte{1, 2, 3}, 2, 2); err == nil {
		t.Fatalf("ExpandGrayToRGBA8() with short buffer error = nil, want error")
	}
}

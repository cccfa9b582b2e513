package terrain

import "testing"

func TestFieldDimDoublesPerLevel(t *testing.T) {
	for field, want := range map[uint8]uint32{0: 1, 1: 2, 2: 4, 3: 8} {
		if got := fieldDim(field); got != want {
			t.Fatalf("fieldDim(%d) = %d, want %d", field, got, want)
		}
	}
}

func TestChildKeysCoverParentQuadrant(t *testing.T) {
	parent := NodeKey{Field: 1, X: 1, Y: 0}
	children := childKeys(parent)
	for _, c := range children {
		if c.Field != parent.Field+1 {
			t.Fatalf("child %+v field = %d, want %d", c, c.Field, parent.Field+1)
		}
		if parentKey(c) != parent {
			t.Fatalf("parentKey(%+v) = %+v, want %+v", c, parentKey(c), parent)
		}
	}
}

func TestLinearIDIsStableAndUnique(t *testing.T) {
	seen := make(map[int]NodeKey)
	for field := uint8(0); field < 3; field++ {
		dim := fieldDim(field)
		for y := uint32(0); y < dim; y++ {
			for x := uint32(0); x < dim; x++ {
				key := NodeKey{Field: field, X: x, Y: y}
				id := linearID(key)
				if prior, ok := seen[id]; ok {
					t.Fatalf("linearID collision: %+v and %+v both map to %d", prior, key, id)
				}
				seen[id] = key
			}
		}
	}
}

func TestLayerStateNeedsUpload(t *testing.T) {
	cases := []struct {
		name  string
		state LayerState
		valid bool
		want  bool
	}{
		{"empty", LayerState{}, false, true},
		{"visible and valid", LayerState{HasVisible: true}, true, false},
		{"visible but stale", LayerState{HasVisible: true}, false, true},
		{"already pending", LayerState{HasPending: true}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.state.NeedsUpload(tc.valid); got != tc.want {
				t.Fatalf("NeedsUpload(%v) = %v, want %v", tc.valid, got, tc.want)
			}
		})
	}
}

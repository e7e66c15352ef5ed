package icon

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

var (
	white       = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	transparent = color.NRGBA{}
)

// filled returns a w x h image painted with c.
func filled(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

// paint fills r (clipped to m) with c.
func paint(m *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
}

// opaqueCount returns how many pixels are fully opaque.
func opaqueCount(m *image.NRGBA) int {
	n := 0
	for i := 3; i < len(m.Pix); i += 4 {
		if m.Pix[i] == 255 {
			n++
		}
	}
	return n
}

// assertBinary fails unless every pixel is exactly opaque white or fully
// transparent black.
func assertBinary(t *testing.T, m *image.NRGBA) {
	t.Helper()
	b := m.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := m.NRGBAAt(x, y)
			if c != white && c != transparent {
				t.Fatalf("pixel (%d,%d) = %v, want opaque white or transparent", x, y, c)
			}
		}
	}
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		name      string
		in        color.NRGBA
		threshold uint8
		want      color.NRGBA
	}{
		{"white passes default", white, 127, white},
		{"white passes 254", white, 254, white},
		{"white fails 255", white, 255, transparent},
		{"red below default", color.NRGBA{R: 255, A: 255}, 127, transparent},
		{"red above low threshold", color.NRGBA{R: 255, A: 255}, 50, white},
		{"half alpha white fails default", color.NRGBA{R: 255, G: 255, B: 255, A: 120}, 127, transparent},
		{"half alpha white passes low", color.NRGBA{R: 255, G: 255, B: 255, A: 140}, 127, white},
		{"alpha 10 suppressed", color.NRGBA{R: 255, G: 255, B: 255, A: 10}, 0, transparent},
		{"alpha 11 kept", color.NRGBA{R: 255, G: 255, B: 255, A: 11}, 0, white},
		{"black never visible", color.NRGBA{A: 255}, 0, transparent},
		{"transparent stays", transparent, 0, transparent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Threshold(filled(3, 2, tt.in), tt.threshold)
			if got := out.NRGBAAt(1, 1); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSilhouette_ZeroThicknessIsIdempotent(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: uint8(x*y + 5)})
		}
	}

	once := Silhouette(src, 60, 0)
	twice := Silhouette(once, 60, 0)

	assertBinary(t, once)
	if !bytes.Equal(once.Pix, twice.Pix) {
		t.Error("thresholding twice changed the result")
	}
}

func TestSilhouette_DoesNotMutateInput(t *testing.T) {
	src := filled(8, 8, color.NRGBA{R: 200, G: 180, B: 20, A: 255})
	paint(src, image.Rect(0, 0, 2, 2), transparent)
	before := append([]byte(nil), src.Pix...)

	_ = Silhouette(src, 100, 2)
	_ = Silhouette(src, 100, -2)

	if !bytes.Equal(before, src.Pix) {
		t.Error("Silhouette modified its input")
	}
}

func TestSilhouette_SubImageOrigin(t *testing.T) {
	parent := filled(10, 10, transparent)
	paint(parent, image.Rect(4, 4, 10, 10), white)
	sub := parent.SubImage(image.Rect(4, 4, 10, 10)).(*image.NRGBA)

	out := Silhouette(sub, 127, 0)
	if out.Bounds() != image.Rect(0, 0, 6, 6) {
		t.Fatalf("bounds = %v, want (0,0)-(6,6)", out.Bounds())
	}
	if opaqueCount(out) != 36 {
		t.Errorf("opaque = %d, want 36", opaqueCount(out))
	}
}

func TestSilhouette_SolidWhite64(t *testing.T) {
	out := Silhouette(filled(64, 64, white), 127, 0)
	if opaqueCount(out) != 64*64 {
		t.Errorf("opaque = %d, want %d", opaqueCount(out), 64*64)
	}
	assertBinary(t, out)
}

func TestDilate_SinglePixel(t *testing.T) {
	src := filled(7, 7, transparent)
	src.SetNRGBA(3, 3, white)

	one := Dilate(src, 1)
	if got := opaqueCount(one); got != 9 {
		t.Fatalf("after 1 pass opaque = %d, want 9 (3x3 block)", got)
	}
	for y := 2; y <= 4; y++ {
		for x := 2; x <= 4; x++ {
			if one.NRGBAAt(x, y) != white {
				t.Errorf("pixel (%d,%d) not white after 1 pass", x, y)
			}
		}
	}

	two := Dilate(src, 2)
	if got := opaqueCount(two); got != 25 {
		t.Errorf("after 2 passes opaque = %d, want 25 (5x5 block)", got)
	}
}

func TestDilate_ClipsAtEdge(t *testing.T) {
	src := filled(4, 4, transparent)
	src.SetNRGBA(0, 0, white)

	out := Dilate(src, 1)
	if got := opaqueCount(out); got != 4 {
		t.Errorf("opaque = %d, want 4 (clipped 2x2 block)", got)
	}
}

func TestDilate_IgnoresPartiallyOpaqueSeeds(t *testing.T) {
	src := filled(5, 5, transparent)
	src.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 254})

	out := Dilate(src, 1)
	if got := opaqueCount(out); got != 0 {
		t.Errorf("opaque = %d, want 0", got)
	}
}

func TestErode_CornerPixel(t *testing.T) {
	src := filled(5, 5, transparent)
	src.SetNRGBA(0, 0, white)

	out := Erode(src, 1)
	if out.NRGBAAt(0, 0) != transparent {
		t.Errorf("corner pixel = %v, want transparent", out.NRGBAAt(0, 0))
	}
}

func TestErode_FullCanvasLosesBorder(t *testing.T) {
	out := Erode(filled(6, 6, white), 1)
	if got := opaqueCount(out); got != 16 {
		t.Errorf("opaque = %d, want 16 (inner 4x4)", got)
	}
	if out.NRGBAAt(0, 3) != transparent || out.NRGBAAt(5, 3) != transparent {
		t.Error("edge pixels should erode")
	}
}

func TestErode_InteriorSquare(t *testing.T) {
	src := filled(9, 9, transparent)
	paint(src, image.Rect(3, 3, 6, 6), white)

	out := Erode(src, 1)
	if got := opaqueCount(out); got != 1 {
		t.Fatalf("opaque = %d, want 1", got)
	}
	if out.NRGBAAt(4, 4) != white {
		t.Error("center of 3x3 square should survive one erosion")
	}
}

func TestSilhouette_NegativeThicknessErodes(t *testing.T) {
	src := filled(9, 9, transparent)
	paint(src, image.Rect(2, 2, 7, 7), white)

	if got := opaqueCount(Silhouette(src, 127, -1)); got != 9 {
		t.Errorf("erode 1: opaque = %d, want 9", got)
	}
	if got := opaqueCount(Silhouette(src, 127, -2)); got != 1 {
		t.Errorf("erode 2: opaque = %d, want 1", got)
	}
	if got := opaqueCount(Silhouette(src, 127, -3)); got != 0 {
		t.Errorf("erode 3: opaque = %d, want 0", got)
	}
}

func TestDilateErode_InteriorSquareRestored(t *testing.T) {
	src := filled(11, 11, transparent)
	paint(src, image.Rect(4, 4, 7, 7), white)

	closed := Erode(Dilate(src, 1), 1)
	if !bytes.Equal(closed.Pix, src.Pix) {
		t.Error("dilate+erode of an interior square should restore it")
	}
}

func TestDilateErode_EdgeShapeShrinks(t *testing.T) {
	src := filled(10, 10, transparent)
	paint(src, image.Rect(0, 2, 3, 6), white) // touches the left edge

	dilated := Dilate(src, 1)
	if got := opaqueCount(dilated); got != 24 {
		t.Fatalf("dilated opaque = %d, want 24", got)
	}

	eroded := Erode(dilated, 1)
	if got := opaqueCount(eroded); got >= opaqueCount(dilated) {
		t.Errorf("eroded opaque = %d, want fewer than dilated %d", got, opaqueCount(dilated))
	}
	if got := opaqueCount(eroded); got != 8 {
		t.Errorf("eroded opaque = %d, want 8", got)
	}
	// The column on the canvas edge is lost, so the original is not restored.
	if bytes.Equal(eroded.Pix, src.Pix) {
		t.Error("edge-touching shape should not be restored by erode")
	}
	if eroded.NRGBAAt(0, 3) != transparent {
		t.Error("edge column should be eroded")
	}
}

func TestMorphology_ZeroPassesCopies(t *testing.T) {
	src := filled(3, 3, white)
	for _, out := range []*image.NRGBA{Dilate(src, 0), Erode(src, 0)} {
		if !bytes.Equal(out.Pix, src.Pix) {
			t.Error("zero passes should return an equal copy")
		}
		out.Pix[0] = 1
		if src.Pix[0] != 255 {
			t.Error("zero-pass result aliases the input")
		}
	}
}

func TestSilhouette_ThicknessMatchesExplicitMorphology(t *testing.T) {
	src := filled(12, 12, transparent)
	paint(src, image.Rect(3, 3, 9, 9), white)
	paint(src, image.Rect(0, 5, 2, 7), color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	tests := []struct {
		name      string
		thickness int
		want      func(*image.NRGBA) *image.NRGBA
	}{
		{"grow 2", 2, func(m *image.NRGBA) *image.NRGBA { return Dilate(m, 2) }},
		{"shrink 1", -1, func(m *image.NRGBA) *image.NRGBA { return Erode(m, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask := Threshold(src, 127)
			before := append([]byte(nil), mask.Pix...)
			want := tt.want(mask)
			if !bytes.Equal(mask.Pix, before) {
				t.Fatal("explicit morphology mutated its input")
			}
			got := Silhouette(src, 127, tt.thickness)
			if !bytes.Equal(got.Pix, want.Pix) {
				t.Error("Silhouette differs from Threshold followed by explicit morphology")
			}
		})
	}
}

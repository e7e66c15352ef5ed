package icon

import (
	"image"
)

// minSilhouetteAlpha suppresses nearly invisible pixels that a low threshold
// would otherwise promote to solid white.
const minSilhouetteAlpha = 10

// Silhouette converts src into a hard-edged white-on-transparent mask and
// then grows (thickness > 0) or shrinks (thickness < 0) it by |thickness|
// one-pixel passes. The result has the same dimensions as src and an origin
// of (0, 0); src is not modified.
func Silhouette(src *image.NRGBA, threshold uint8, thickness int) *image.NRGBA {
	out := Threshold(src, threshold)
	switch {
	case thickness > 0:
		out = dilate(out, thickness)
	case thickness < 0:
		out = erode(out, -thickness)
	}
	return out
}

// Threshold maps every pixel to opaque white when its alpha-weighted
// luminance exceeds threshold/255 and its alpha is above 10, and to fully
// transparent black otherwise.
func Threshold(src *image.NRGBA, threshold uint8) *image.NRGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	cutoff := float64(threshold) / 255

	for y := 0; y < h; y++ {
		row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			r, g, bl, a := p[0], p[1], p[2], p[3]

			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)
			visibility := (float64(a) / 255) * (lum / 255)

			if visibility > cutoff && a > minSilhouetteAlpha {
				setOpaque(dst.Pix, dst.PixOffset(x, y))
			}
		}
	}
	return dst
}

// Dilate runs passes rounds of 8-connected dilation. A pixel that is not
// fully opaque becomes opaque white when any pixel of its 3x3 block in the
// previous round was fully opaque. Neighbours outside the image are ignored.
func Dilate(src *image.NRGBA, passes int) *image.NRGBA {
	return dilate(normalize(src), passes)
}

// dilate is Dilate on a buffer it may overwrite. cur must have origin
// (0, 0) and a tight stride.
func dilate(cur *image.NRGBA, passes int) *image.NRGBA {
	if passes <= 0 {
		return cur
	}
	w, h := cur.Rect.Dx(), cur.Rect.Dy()
	next := image.NewNRGBA(cur.Rect)

	for range passes {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := cur.PixOffset(x, y)
				if cur.Pix[i+3] != 255 && anyOpaqueInBlock(cur, x, y) {
					setOpaque(next.Pix, i)
					continue
				}
				copy(next.Pix[i:i+4], cur.Pix[i:i+4])
			}
		}
		cur, next = next, cur
	}
	return cur
}

// Erode runs passes rounds of 8-connected erosion. A pixel that is not fully
// transparent becomes transparent when any of its eight neighbours in the
// previous round was fully transparent or lies outside the image, so pixels
// on the canvas edge always erode.
func Erode(src *image.NRGBA, passes int) *image.NRGBA {
	return erode(normalize(src), passes)
}

// erode is Erode on a buffer it may overwrite, with the same layout
// requirement as dilate.
func erode(cur *image.NRGBA, passes int) *image.NRGBA {
	if passes <= 0 {
		return cur
	}
	w, h := cur.Rect.Dx(), cur.Rect.Dy()
	next := image.NewNRGBA(cur.Rect)

	for range passes {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := cur.PixOffset(x, y)
				if cur.Pix[i+3] != 0 && touchesBackground(cur, x, y) {
					clear(next.Pix[i : i+4])
					continue
				}
				copy(next.Pix[i:i+4], cur.Pix[i:i+4])
			}
		}
		cur, next = next, cur
	}
	return cur
}

// anyOpaqueInBlock reports whether the 3x3 block centred on (x, y),
// clipped to the image, holds a fully opaque pixel.
func anyOpaqueInBlock(m *image.NRGBA, x, y int) bool {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	for dy := -1; dy <= 1; dy++ {
		ny := y + dy
		if ny < 0 || ny >= h {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			nx := x + dx
			if nx < 0 || nx >= w {
				continue
			}
			if m.Pix[m.PixOffset(nx, ny)+3] == 255 {
				return true
			}
		}
	}
	return false
}

// touchesBackground reports whether any of the eight neighbours of (x, y)
// is fully transparent or out of bounds.
func touchesBackground(m *image.NRGBA, x, y int) bool {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				return true
			}
			if m.Pix[m.PixOffset(nx, ny)+3] == 0 {
				return true
			}
		}
	}
	return false
}

func setOpaque(pix []byte, i int) {
	pix[i] = 255
	pix[i+1] = 255
	pix[i+2] = 255
	pix[i+3] = 255
}

// normalize returns a copy of src with origin (0, 0) and a tight stride.
func normalize(src *image.NRGBA) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		s := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[s:s+b.Dx()*4])
	}
	return dst
}

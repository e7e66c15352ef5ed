// Command genfavicon renders the iconforge anvil glyph and writes the
// project's favicons: PNGs at the usual web sizes plus favicon.ico and
// icon.icns built with the same encoders the service uses.
//
//	go run ./tools/genfavicon -out web/img
package main

import (
	"flag"
	"fmt"
	stdimage "image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/vector"

	"github.com/sydlexius/iconforge/internal/filesystem"
	"github.com/sydlexius/iconforge/internal/icon"
	img "github.com/sydlexius/iconforge/internal/image"
)

const (
	viewboxSz = 32.0
	cornerR   = 7.0
)

var (
	bgColor    = color.NRGBA{234, 88, 12, 255}   // #EA580C
	sparkColor = color.NRGBA{254, 240, 138, 255} // #FEF08A
)

// segment is one drawing command in viewbox units. Quadratic segments use
// (cx, cy) as the control point.
type segment struct {
	quad         bool
	cx, cy, x, y float32
}

// anvil outlines the glyph clockwise from the horn tip.
var anvil = []segment{
	{x: 25, y: 10.5},
	{x: 25, y: 15},
	{x: 21.5, y: 15},
	{quad: true, cx: 19.5, cy: 16.5, x: 19.5, y: 19},
	{x: 23.5, y: 22},
	{x: 23.5, y: 25.5},
	{x: 9.5, y: 25.5},
	{x: 9.5, y: 22},
	{x: 13.5, y: 19},
	{quad: true, cx: 13.5, cy: 16.5, x: 11.5, y: 15},
	{quad: true, cx: 7.5, cy: 14.5, x: 4.5, y: 10.5},
}

type target struct {
	name string
	size int
}

var pngTargets = []target{
	{"favicon-16x16.png", 16},
	{"favicon-32x32.png", 32},
	{"apple-touch-icon.png", 180},
	{"android-chrome-192x192.png", 192},
	{"android-chrome-512x512.png", 512},
}

func main() {
	outDir := flag.String("out", filepath.Join("web", "img"), "output directory")
	flag.Parse()

	if err := generate(*outDir); err != nil {
		fmt.Fprintf(os.Stderr, "genfavicon: %v\n", err)
		os.Exit(1)
	}
}

func generate(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	for _, t := range pngTargets {
		data, err := img.EncodePNG(renderIcon(t.size))
		if err != nil {
			return fmt.Errorf("encode %s: %w", t.name, err)
		}
		if err := write(outDir, t.name, data); err != nil {
			return err
		}
		fmt.Printf("generated %s (%dx%d)\n", t.name, t.size, t.size)
	}

	ico, err := img.EncodePNG(renderIcon(32))
	if err != nil {
		return err
	}
	if err := write(outDir, "favicon.ico", icon.EncodeICO(ico, 32, 32)); err != nil {
		return err
	}
	fmt.Println("generated favicon.ico (32x32)")

	icns, err := img.EncodePNG(renderIcon(512))
	if err != nil {
		return err
	}
	if err := write(outDir, "icon.icns", icon.EncodeICNS(icns, 512)); err != nil {
		return err
	}
	fmt.Println("generated icon.icns (512x512)")
	return nil
}

func write(dir, name string, data []byte) error {
	if err := filesystem.WriteFileAtomic(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func renderIcon(size int) *stdimage.NRGBA {
	m := stdimage.NewNRGBA(stdimage.Rect(0, 0, size, size))
	s := float64(size) / viewboxSz

	half := float64(size) / 2.0
	cr := cornerR * s
	for y := range size {
		for x := range size {
			d := roundedBoxSDF(float64(x)+0.5-half, float64(y)+0.5-half, half, half, cr)
			if d <= -0.5 {
				m.SetNRGBA(x, y, bgColor)
			} else if d < 0.5 {
				blend(m, x, y, bgColor, 0.5-d)
			}
		}
	}

	drawAnvil(m, size)
	drawSpark(m, size)
	return m
}

func drawAnvil(m *stdimage.NRGBA, size int) {
	k := float32(size) / viewboxSz
	var r vector.Rasterizer
	r.Reset(size, size)
	r.MoveTo(4.5*k, 10.5*k)
	for _, seg := range anvil {
		if seg.quad {
			r.QuadTo(seg.cx*k, seg.cy*k, seg.x*k, seg.y*k)
		} else {
			r.LineTo(seg.x*k, seg.y*k)
		}
	}
	r.ClosePath()
	r.Draw(m, m.Bounds(), stdimage.White, stdimage.Point{})
}

// drawSpark draws a four-pointed star above the anvil face.
func drawSpark(m *stdimage.NRGBA, size int) {
	if size < 32 {
		return
	}
	k := float32(size) / viewboxSz
	cx, cy := 24*k, 6*k
	long, short := 3.2*k, 0.9*k

	var r vector.Rasterizer
	r.Reset(size, size)
	r.MoveTo(cx, cy-long)
	r.LineTo(cx+short, cy-short)
	r.LineTo(cx+long, cy)
	r.LineTo(cx+short, cy+short)
	r.LineTo(cx, cy+long)
	r.LineTo(cx-short, cy+short)
	r.LineTo(cx-long, cy)
	r.LineTo(cx-short, cy-short)
	r.ClosePath()
	r.Draw(m, m.Bounds(), stdimage.NewUniform(sparkColor), stdimage.Point{})
}

// roundedBoxSDF returns the signed distance from (px, py) to a rounded rect
// centered at the origin. Negative is inside.
func roundedBoxSDF(px, py, bx, by, r float64) float64 {
	qx := math.Abs(px) - bx + r
	qy := math.Abs(py) - by + r
	return math.Hypot(math.Max(qx, 0), math.Max(qy, 0)) + math.Min(math.Max(qx, qy), 0) - r
}

// blend composites c at alpha over the existing pixel.
func blend(m *stdimage.NRGBA, x, y int, c color.NRGBA, alpha float64) {
	if alpha <= 0 {
		return
	}
	alpha = math.Min(alpha, 1)

	dst := m.NRGBAAt(x, y)
	sa := float64(c.A) / 255.0 * alpha
	da := float64(dst.A) / 255.0
	oa := sa + da*(1-sa)
	if oa == 0 {
		return
	}
	mix := func(s, d uint8) uint8 {
		return uint8(math.Round((float64(s)*sa + float64(d)*da*(1-sa)) / oa))
	}
	m.SetNRGBA(x, y, color.NRGBA{
		R: mix(c.R, dst.R),
		G: mix(c.G, dst.G),
		B: mix(c.B, dst.B),
		A: uint8(math.Round(oa * 255)),
	})
}

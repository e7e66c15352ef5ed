package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"io"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Supported source format names.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatBMP  = "bmp"
	FormatWebP = "webp"
)

// Resampling filters accepted by Fit.
const (
	FilterCatmullRom = "catmullrom"
	FilterBilinear   = "bilinear"
	FilterNearest    = "nearest"
	FilterLanczos3   = "lanczos3"
)

// MaxSourcePixels caps the decoded area of a source image (64 megapixels).
const MaxSourcePixels = 64 << 20

var (
	// ErrUnsupportedFormat is returned when the magic bytes match no known format.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge is returned when a source image exceeds MaxSourcePixels.
	ErrTooLarge = errors.New("image dimensions too large")
	// ErrEmpty is returned for a zero-length source.
	ErrEmpty = errors.New("empty image data")
)

// ValidFilter reports whether name is a recognized resampling filter.
func ValidFilter(name string) bool {
	switch name {
	case FilterCatmullRom, FilterBilinear, FilterNearest, FilterLanczos3:
		return true
	}
	return false
}

// DetectFormat reads the first bytes from r to identify the image format.
// The returned reader replays the consumed bytes.
func DetectFormat(r io.Reader) (format string, replay io.Reader, err error) {
	// 12 bytes covers every supported signature
	buf := make([]byte, 12)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return "", nil, ErrEmpty
		}
		return "", nil, fmt.Errorf("reading header: %w", err)
	}
	buf = buf[:n]

	replay = io.MultiReader(bytes.NewReader(buf), r)

	switch {
	case n >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF:
		return FormatJPEG, replay, nil
	case n >= 8 && string(buf[:8]) == "\x89PNG\r\n\x1a\n":
		return FormatPNG, replay, nil
	case n >= 6 && (string(buf[:6]) == "GIF87a" || string(buf[:6]) == "GIF89a"):
		return FormatGIF, replay, nil
	case n >= 2 && string(buf[:2]) == "BM":
		return FormatBMP, replay, nil
	case n >= 12 && string(buf[:4]) == "RIFF" && string(buf[8:12]) == "WEBP":
		return FormatWebP, replay, nil
	}

	return "", replay, ErrUnsupportedFormat
}

// GetDimensions decodes only the image header to read width and height.
func GetDimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Decode sniffs, bounds-checks and decodes a source image. The header is
// inspected before the pixel data so oversized images are rejected without
// allocating their buffers.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	format, _, err := DetectFormat(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}

	w, h, err := GetDimensions(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if w <= 0 || h <= 0 {
		return nil, "", fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if int64(w)*int64(h) > MaxSourcePixels {
		return nil, "", fmt.Errorf("%dx%d: %w", w, h, ErrTooLarge)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s image: %w", format, err)
	}
	return img, format, nil
}

// ToNRGBA returns a fresh non-premultiplied copy of img with origin (0, 0).
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Fit scales img to fit inside a width x height canvas while keeping its
// aspect ratio, centres it, and leaves the remaining area transparent.
// Images smaller than the canvas are scaled up.
func Fit(img image.Image, width, height int, filter string) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, fmt.Errorf("source image is empty")
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	newW, newH := containDimensions(src.Dx(), src.Dy(), width, height)
	offX := (width - newW) / 2
	offY := (height - newH) / 2
	target := image.Rect(offX, offY, offX+newW, offY+newH)

	switch filter {
	case FilterLanczos3:
		scaled := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
		draw.Copy(dst, target.Min, scaled, scaled.Bounds(), draw.Src, nil)
	case FilterBilinear:
		draw.BiLinear.Scale(dst, target, img, src, draw.Src, nil)
	case FilterNearest:
		draw.NearestNeighbor.Scale(dst, target, img, src, draw.Src, nil)
	case FilterCatmullRom, "":
		draw.CatmullRom.Scale(dst, target, img, src, draw.Src, nil)
	default:
		return nil, fmt.Errorf("unknown resampling filter %q", filter)
	}

	return dst, nil
}

// containDimensions calculates the largest size with the source aspect ratio
// that fits within maxW x maxH. Unlike a pure downscale it also enlarges.
func containDimensions(origW, origH, maxW, maxH int) (int, int) {
	ratioW := float64(maxW) / float64(origW)
	ratioH := float64(maxH) / float64(origH)
	ratio := math.Min(ratioW, ratioH)

	newW := int(math.Round(float64(origW) * ratio))
	newH := int(math.Round(float64(origH) * ratio))

	newW = min(max(newW, 1), maxW)
	newH = min(max(newH, 1), maxH)

	return newW, newH
}

// EncodePNG writes img as a PNG stream.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

package convert

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// Presets select which sizes a conversion renders.
const (
	PresetSingle   = "single"
	PresetElectron = "electron"
)

// ElectronSizes are the square edge lengths rendered by the electron preset.
var ElectronSizes = []int{16, 24, 32, 48, 64, 128, 256, 512, 1024}

// Output container formats.
const (
	FormatPNG  = "png"
	FormatICO  = "ico"
	FormatICNS = "icns"
)

// MaxThickness bounds the silhouette morphology passes in either direction.
const MaxThickness = 10

// DefaultThreshold is the silhouette cutoff used when none is supplied.
const DefaultThreshold = 127

var (
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrEmptySource      = errors.New("source image is empty")
	ErrNoSizes          = errors.New("no sizes requested")
	ErrUnknownPreset    = errors.New("unknown preset")
	ErrInvalidThickness = errors.New("invalid silhouette thickness")
	ErrUnknownFilter    = errors.New("unknown resampling filter")
	ErrUndecodable      = errors.New("source image could not be decoded")
)

// Size is a target raster size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize accepts "WxH" or a single number for a square size.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	ws, hs, found := strings.Cut(s, "x")
	if !found {
		hs = ws
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return Size{}, fmt.Errorf("parsing width %q: %w", ws, ErrInvalidDimension)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return Size{}, fmt.Errorf("parsing height %q: %w", hs, ErrInvalidDimension)
	}
	return Size{Width: w, Height: h}, nil
}

// SilhouetteParams configures the menubar silhouette transform.
type SilhouetteParams struct {
	Threshold uint8 `json:"threshold"`
	Thickness int   `json:"thickness"`
}

// Validate checks the thickness range.
func (p SilhouetteParams) Validate() error {
	if p.Thickness < -MaxThickness || p.Thickness > MaxThickness {
		return fmt.Errorf("thickness %d outside -%d..%d: %w", p.Thickness, MaxThickness, MaxThickness, ErrInvalidThickness)
	}
	return nil
}

// Request describes one conversion of a source image.
type Request struct {
	SourceName string
	Source     []byte
	Preset     string
	Sizes      []Size
	Silhouette *SilhouetteParams
	Filter     string
}

// Artifact is one generated file.
type Artifact struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"-"`
}

// ContentType returns the MIME type served for the artifact.
func (a Artifact) ContentType() string {
	return ContentType(a.Format)
}

// ContentType maps an output format to its MIME type.
func ContentType(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatICO:
		return "image/x-icon"
	case FormatICNS:
		return "image/icns"
	default:
		return "application/octet-stream"
	}
}

// Result holds every artifact produced by a conversion, ordered by size and
// then png, ico, icns.
type Result struct {
	SourceName   string            `json:"source_name"`
	SourceFormat string            `json:"source_format"`
	BaseName     string            `json:"base_name"`
	Preset       string            `json:"preset"`
	Sizes        []Size            `json:"sizes"`
	Silhouette   *SilhouetteParams `json:"silhouette,omitempty"`
	Filter       string            `json:"filter"`
	Artifacts    []Artifact        `json:"artifacts"`
}

// BundleBase returns the archive file name without its extension.
func (r *Result) BundleBase() string {
	return BundleBase(r.BaseName, r.Preset, r.Sizes)
}

// BundleBase names an archive for the given base name, preset and sizes.
func BundleBase(base, preset string, sizes []Size) string {
	switch {
	case preset == PresetElectron:
		return base + "_electron_icons"
	case len(sizes) == 1:
		return base + "_icons_" + sizes[0].String()
	default:
		return base + "_icons"
	}
}

// BaseName derives the artifact name prefix from an uploaded file name: the
// part before the first dot, or "icon" when that is empty.
func BaseName(sourceName string) string {
	name := filepath.Base(strings.ReplaceAll(sourceName, `\`, "/"))
	name, _, _ = strings.Cut(name, ".")
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "icon"
	}
	return name
}

// ArtifactName builds "<base>_<w>x<h>.<format>".
func ArtifactName(base string, size Size, format string) string {
	return base + "_" + size.String() + "." + format
}

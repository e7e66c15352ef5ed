package convert

import (
	"context"
	"fmt"
	stdimage "image"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/iconforge/internal/icon"
	img "github.com/sydlexius/iconforge/internal/image"
)

// Options bounds what a Converter accepts.
type Options struct {
	MinDimension int
	MaxDimension int
	Filter       string
	Concurrency  int
}

// DefaultOptions mirrors the limits of the upload form: 16..2048 pixels.
func DefaultOptions() Options {
	return Options{
		MinDimension: 16,
		MaxDimension: 2048,
		Filter:       img.FilterCatmullRom,
		Concurrency:  runtime.GOMAXPROCS(0),
	}
}

// Converter renders a source image into PNG, ICO and ICNS artifacts at one
// or more sizes. It holds no per-request state and is safe for concurrent use.
type Converter struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Converter.
func New(opts Options, logger *slog.Logger) *Converter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Filter == "" {
		opts.Filter = img.FilterCatmullRom
	}
	return &Converter{
		opts:   opts,
		logger: logger.With(slog.String("component", "converter")),
	}
}

// ResolveSizes expands the preset and validates, sorts and de-duplicates the
// requested sizes.
func (c *Converter) ResolveSizes(preset string, sizes []Size) ([]Size, error) {
	switch preset {
	case PresetElectron:
		sizes = make([]Size, 0, len(ElectronSizes))
		for _, s := range ElectronSizes {
			sizes = append(sizes, Size{Width: s, Height: s})
		}
	case PresetSingle, "":
		if len(sizes) == 0 {
			return nil, ErrNoSizes
		}
	default:
		return nil, fmt.Errorf("%q: %w", preset, ErrUnknownPreset)
	}

	out := make([]Size, 0, len(sizes))
	for _, s := range sizes {
		if err := c.validateSize(s); err != nil {
			return nil, err
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Size) int {
		if a.Width != b.Width {
			return a.Width - b.Width
		}
		return a.Height - b.Height
	})
	return out, nil
}

func (c *Converter) validateSize(s Size) error {
	lo, hi := c.opts.MinDimension, c.opts.MaxDimension
	if s.Width < lo || s.Width > hi || s.Height < lo || s.Height > hi {
		return fmt.Errorf("%s: width and height must be between %d and %d pixels: %w", s, lo, hi, ErrInvalidDimension)
	}
	return nil
}

// Convert decodes req.Source once, applies the silhouette transform when
// requested, and renders every size concurrently. Results are collected
// before returning; a canceled ctx discards them.
func (c *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if len(req.Source) == 0 {
		return nil, ErrEmptySource
	}
	preset := req.Preset
	if preset == "" {
		preset = PresetSingle
	}
	sizes, err := c.ResolveSizes(preset, req.Sizes)
	if err != nil {
		return nil, err
	}
	if req.Silhouette != nil {
		if err := req.Silhouette.Validate(); err != nil {
			return nil, err
		}
	}
	filter := req.Filter
	if filter == "" {
		filter = c.opts.Filter
	}
	if !img.ValidFilter(filter) {
		return nil, fmt.Errorf("%q: %w", filter, ErrUnknownFilter)
	}

	decoded, format, err := img.Decode(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	var source stdimage.Image = decoded
	if req.Silhouette != nil {
		source = icon.Silhouette(img.ToNRGBA(decoded), req.Silhouette.Threshold, req.Silhouette.Thickness)
	}

	base := BaseName(req.SourceName)
	perSize := make([][]Artifact, len(sizes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, size := range sizes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			arts, err := renderSize(source, base, size, filter)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", size, err)
			}
			perSize[i] = arts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		SourceName:   req.SourceName,
		SourceFormat: format,
		BaseName:     base,
		Preset:       preset,
		Sizes:        sizes,
		Silhouette:   req.Silhouette,
		Filter:       filter,
	}
	for _, arts := range perSize {
		res.Artifacts = append(res.Artifacts, arts...)
	}

	c.logger.Info("conversion complete",
		slog.String("source", req.SourceName),
		slog.String("format", format),
		slog.String("preset", preset),
		slog.Int("sizes", len(sizes)),
		slog.Int("artifacts", len(res.Artifacts)),
		slog.Bool("silhouette", req.Silhouette != nil),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// renderSize produces the png, ico and icns artifacts for one size.
func renderSize(source stdimage.Image, base string, size Size, filter string) ([]Artifact, error) {
	fitted, err := img.Fit(source, size.Width, size.Height, filter)
	if err != nil {
		return nil, err
	}
	pngData, err := img.EncodePNG(fitted)
	if err != nil {
		return nil, err
	}

	// Edges above 256 are declared as 256 (stored as 0), the ICO convention
	// for "read the real size from the PNG header".
	icoW := min(size.Width, icon.MaxICODimension)
	icoH := min(size.Height, icon.MaxICODimension)

	return []Artifact{
		{Name: ArtifactName(base, size, FormatPNG), Format: FormatPNG, Width: size.Width, Height: size.Height, Data: pngData},
		{Name: ArtifactName(base, size, FormatICO), Format: FormatICO, Width: size.Width, Height: size.Height, Data: icon.EncodeICO(pngData, icoW, icoH)},
		{Name: ArtifactName(base, size, FormatICNS), Format: FormatICNS, Width: size.Width, Height: size.Height, Data: icon.EncodeICNS(pngData, size.Width)},
	}, nil
}

// Preview returns the silhouette of source at its native resolution as PNG.
func (c *Converter) Preview(ctx context.Context, source []byte, params SilhouetteParams) ([]byte, error) {
	if len(source) == 0 {
		return nil, ErrEmptySource
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	decoded, _, err := img.Decode(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := icon.Silhouette(img.ToNRGBA(decoded), params.Threshold, params.Thickness)
	return img.EncodePNG(out)
}

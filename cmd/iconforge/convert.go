package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/iconforge/internal/api/middleware"
	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/filesystem"
	img "github.com/sydlexius/iconforge/internal/image"
	"github.com/sydlexius/iconforge/internal/logging"
)

const bundleNone = "none"

type convertFlags struct {
	in         string
	size       string
	preset     string
	silhouette bool
	threshold  int
	thickness  int
	filter     string
	out        string
	bundle     string
	logLevel   string
}

func parseConvertFlags(args []string, stderr io.Writer) (*convertFlags, error) {
	f := &convertFlags{}
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.in, "in", "", "source image (jpeg, png, gif, bmp or webp)")
	fs.StringVar(&f.size, "size", "512x512", "output size WxH for the single preset")
	fs.StringVar(&f.preset, "preset", convert.PresetSingle, "single or electron")
	fs.BoolVar(&f.silhouette, "silhouette", false, "render a white silhouette of the source")
	fs.IntVar(&f.threshold, "threshold", convert.DefaultThreshold, "silhouette visibility threshold 0..255")
	fs.IntVar(&f.thickness, "thickness", 0, "silhouette dilate (>0) or erode (<0) passes")
	fs.StringVar(&f.filter, "filter", img.FilterCatmullRom, "resampling filter: catmullrom, bilinear, nearest or lanczos3")
	fs.StringVar(&f.out, "out", ".", "output directory")
	fs.StringVar(&f.bundle, "bundle", bundle.FormatZip, "archive format: zip, tar.gz, tar.zst or none")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.in == "" {
		return nil, errors.New("-in is required")
	}
	if f.bundle != bundleNone && !bundle.Valid(f.bundle) {
		return nil, fmt.Errorf("-bundle %q: %w", f.bundle, bundle.ErrUnknownFormat)
	}
	if f.silhouette && (f.threshold < 0 || f.threshold > 255) {
		return nil, fmt.Errorf("-threshold must be between 0 and 255, got %d", f.threshold)
	}
	return f, nil
}

func (f *convertFlags) request(source []byte) (convert.Request, error) {
	req := convert.Request{
		SourceName: filepath.Base(f.in),
		Source:     source,
		Preset:     f.preset,
		Filter:     f.filter,
	}
	if f.preset == convert.PresetSingle || f.preset == "" {
		size, err := convert.ParseSize(f.size)
		if err != nil {
			return req, err
		}
		req.Sizes = []convert.Size{size}
	}
	if f.silhouette {
		req.Silhouette = &convert.SilhouetteParams{Threshold: uint8(f.threshold), Thickness: f.thickness} //nolint:gosec // G115: checked in parseConvertFlags
	}
	return req, nil
}

// runConvert performs a one-shot local conversion without the server.
func runConvert(args []string) error {
	f, err := parseConvertFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	_, logger := logging.NewManager(logging.Config{Level: f.logLevel, Format: "auto", Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	written, err := convertFile(ctx, f, logger)
	if err != nil {
		return err
	}
	for _, w := range written {
		fmt.Printf("%-40s %s\n", w.path, humanize.Bytes(uint64(w.size))) //nolint:gosec // G115: sizes are non-negative
	}
	return nil
}

type writtenFile struct {
	path string
	size int
}

// convertFile converts f.in and writes either one archive or the loose
// artifacts into f.out.
func convertFile(ctx context.Context, f *convertFlags, logger *slog.Logger) ([]writtenFile, error) {
	source, err := os.ReadFile(f.in)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	req, err := f.request(source)
	if err != nil {
		return nil, err
	}

	res, err := convert.New(convert.DefaultOptions(), logger).Convert(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	if f.bundle == bundleNone {
		written := make([]writtenFile, 0, len(res.Artifacts))
		for _, a := range res.Artifacts {
			dest := filepath.Join(f.out, a.Name)
			if err := filesystem.WriteFileAtomic(dest, a.Data, 0o644); err != nil {
				return written, fmt.Errorf("writing %s: %w", a.Name, err)
			}
			written = append(written, writtenFile{path: dest, size: len(a.Data)})
		}
		return written, nil
	}

	files := make([]bundle.File, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		files = append(files, bundle.File{Name: a.Name, Data: a.Data})
	}
	data, err := bundle.Bytes(f.bundle, files, time.Now())
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(f.out, res.BundleBase()+bundle.Extension(f.bundle))
	if err := filesystem.WriteFileAtomic(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing bundle: %w", err)
	}
	return []writtenFile{{path: dest, size: len(data)}}, nil
}

// hashToken prints the bcrypt hash to put in server.api_token_hash.
func hashToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: iconforge hash-token <token>")
	}
	h, err := middleware.HashToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

// Package bundle packs conversion artifacts into a single downloadable
// archive.
package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Archive formats.
const (
	FormatZip    = "zip"
	FormatTarGz  = "tar.gz"
	FormatTarZst = "tar.zst"
)

// ErrUnknownFormat is returned for an archive format other than the ones above.
var ErrUnknownFormat = errors.New("unknown bundle format")

// File is one archive member.
type File struct {
	Name string
	Data []byte
}

// Formats lists the accepted archive formats, default first.
func Formats() []string {
	return []string{FormatZip, FormatTarGz, FormatTarZst}
}

// Valid reports whether format is a supported archive format.
func Valid(format string) bool {
	switch format {
	case FormatZip, FormatTarGz, FormatTarZst:
		return true
	}
	return false
}

// Extension returns the file extension including the leading dot.
func Extension(format string) string {
	return "." + format
}

// ContentType returns the MIME type for an archive format.
func ContentType(format string) string {
	switch format {
	case FormatZip:
		return "application/zip"
	case FormatTarGz:
		return "application/gzip"
	case FormatTarZst:
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

// Write streams files into w as an archive of the given format. modTime is
// stamped on every member so identical inputs produce identical archives.
func Write(w io.Writer, format string, files []File, modTime time.Time) error {
	switch format {
	case FormatZip, "":
		return writeZip(w, files, modTime)
	case FormatTarGz:
		gz, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("creating gzip writer: %w", err)
		}
		if err := writeTar(gz, files, modTime); err != nil {
			gz.Close() //nolint:errcheck
			return err
		}
		return gz.Close()
	case FormatTarZst:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(runtime.NumCPU()))
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		if err := writeTar(enc, files, modTime); err != nil {
			enc.Close() //nolint:errcheck
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// Bytes is Write into a buffer.
func Bytes(format string, files []File, modTime time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, files, modTime); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeZip(w io.Writer, files []File, modTime time.Time) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: modTime,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zip: %w", err)
	}
	return nil
}

func writeTar(w io.Writer, files []File, modTime time.Time) error {
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{
			Name:    f.Name,
			Mode:    0o644,
			Size:    int64(len(f.Data)),
			ModTime: modTime,
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar: %w", err)
	}
	return nil
}

// Read extracts every regular file from an archive. It exists mostly for
// round-trip checks and for the CLI's -list flag.
func Read(r io.Reader, format string) ([]File, error) {
	switch format {
	case FormatZip, "":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return readZip(data)
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gz.Close() //nolint:errcheck
		return readTar(gz)
	case FormatTarZst:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		return readTar(dec)
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

func readZip(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	files := make([]File, 0, len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close() //nolint:errcheck
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", zf.Name, err)
		}
		files = append(files, File{Name: zf.Name, Data: b})
	}
	return files, nil
}

func readTar(r io.Reader) ([]File, error) {
	tr := tar.NewReader(r)
	var files []File
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		files = append(files, File{Name: hdr.Name, Data: b})
	}
	return files, nil
}

package bundle

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

var stamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func sampleFiles() []File {
	return []File{
		{Name: "logo_16x16.png", Data: []byte("\x89PNG fake sixteen")},
		{Name: "logo_16x16.ico", Data: bytes.Repeat([]byte{0, 1, 2, 3}, 64)},
		{Name: "logo_16x16.icns", Data: []byte("icns")},
		{Name: "empty.bin", Data: nil},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range Formats() {
		t.Run(format, func(t *testing.T) {
			data, err := Bytes(format, sampleFiles(), stamp)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			got, err := Read(bytes.NewReader(data), format)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			want := sampleFiles()
			if len(got) != len(want) {
				t.Fatalf("got %d files, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Name != want[i].Name {
					t.Errorf("file[%d] name = %q, want %q", i, got[i].Name, want[i].Name)
				}
				if !bytes.Equal(got[i].Data, want[i].Data) {
					t.Errorf("file[%d] data mismatch", i)
				}
			}
		})
	}
}

func TestWrite_Deterministic(t *testing.T) {
	for _, format := range Formats() {
		a, err := Bytes(format, sampleFiles(), stamp)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		b, err := Bytes(format, sampleFiles(), stamp)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s: archives of identical input differ", format)
		}
	}
}

func TestMagic(t *testing.T) {
	tests := []struct {
		format string
		magic  []byte
	}{
		{FormatZip, []byte("PK\x03\x04")},
		{FormatTarGz, []byte{0x1f, 0x8b}},
		{FormatTarZst, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	}
	for _, tt := range tests {
		data, err := Bytes(tt.format, sampleFiles(), stamp)
		if err != nil {
			t.Fatalf("%s: %v", tt.format, err)
		}
		if !bytes.HasPrefix(data, tt.magic) {
			t.Errorf("%s: prefix = % x, want % x", tt.format, data[:len(tt.magic)], tt.magic)
		}
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := Bytes("rar", sampleFiles(), stamp); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Bytes: err = %v", err)
	}
	if _, err := Read(bytes.NewReader(nil), "7z"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Read: err = %v", err)
	}
	if Valid("rar") || !Valid(FormatTarZst) {
		t.Error("Valid mismatch")
	}
}

func TestContentTypeAndExtension(t *testing.T) {
	if ContentType(FormatZip) != "application/zip" || Extension(FormatZip) != ".zip" {
		t.Error("zip mapping")
	}
	if ContentType(FormatTarZst) != "application/zstd" || Extension(FormatTarZst) != ".tar.zst" {
		t.Error("tar.zst mapping")
	}
	if ContentType("x") != "application/octet-stream" {
		t.Error("fallback mapping")
	}
}

package icon

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestICNSType(t *testing.T) {
	tests := []struct {
		size int
		want string
	}{
		{16, "ic04"},
		{32, "ic05"},
		{128, "ic07"},
		{256, "ic08"},
		{512, "ic09"},
		{1024, "ic10"},
		{24, "ic08"},
		{48, "ic08"},
		{64, "ic08"},
		{0, "ic08"},
		{-1, "ic08"},
	}
	for _, tt := range tests {
		if got := ICNSType(tt.size); got != tt.want {
			t.Errorf("ICNSType(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestEncodeICNS_Layout(t *testing.T) {
	png := bytes.Repeat([]byte{0x42}, 1000)

	for _, size := range []int{16, 32, 64, 128, 256, 512, 1024} {
		got := EncodeICNS(png, size)

		if len(got) != 16+len(png) {
			t.Fatalf("size %d: len = %d, want %d", size, len(got), 16+len(png))
		}
		if string(got[0:4]) != "icns" {
			t.Errorf("size %d: magic = %q", size, got[0:4])
		}
		if v := binary.BigEndian.Uint32(got[4:]); v != uint32(len(got)) {
			t.Errorf("size %d: total length = %d, want %d", size, v, len(got))
		}
		if tag := string(got[8:12]); tag != ICNSType(size) {
			t.Errorf("size %d: tag = %q, want %q", size, tag, ICNSType(size))
		}
		if v := binary.BigEndian.Uint32(got[12:]); v != uint32(8+len(png)) {
			t.Errorf("size %d: record length = %d, want %d", size, v, 8+len(png))
		}
		if !bytes.Equal(got[ICNSDataOffset:], png) {
			t.Errorf("size %d: payload at offset 16 does not round-trip", size)
		}
	}
}

func TestEncodeICNS_ExactBytes(t *testing.T) {
	got := EncodeICNS([]byte{0x01, 0x02, 0x03}, 32)
	want := []byte{
		'i', 'c', 'n', 's', 0x00, 0x00, 0x00, 0x13, // magic, total=19
		'i', 'c', '0', '5', 0x00, 0x00, 0x00, 0x0B, // ic05, record=11
		0x01, 0x02, 0x03,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeICNS bytes\n got % x\nwant % x", got, want)
	}
}

func TestEncodeICNS_EmptyPayload(t *testing.T) {
	got := EncodeICNS(nil, 512)
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if v := binary.BigEndian.Uint32(got[12:]); v != 8 {
		t.Errorf("record length = %d, want 8", v)
	}
}

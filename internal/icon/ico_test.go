package icon

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeICO_Layout(t *testing.T) {
	tests := []struct {
		name          string
		png           []byte
		width, height int
		wantW, wantH  byte
	}{
		{"16x16", []byte("\x89PNG-sixteen"), 16, 16, 16, 16},
		{"64x32", bytes.Repeat([]byte{0xAB}, 300), 64, 32, 64, 32},
		{"1x1", []byte{1}, 1, 1, 1, 1},
		{"255x255", []byte("payload"), 255, 255, 255, 255},
		{"256 encodes as zero", []byte("big"), 256, 256, 0, 0},
		{"mixed 256x48", []byte("mixed"), 256, 48, 0, 48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeICO(tt.png, tt.width, tt.height)

			if len(got) != 22+len(tt.png) {
				t.Fatalf("len = %d, want %d", len(got), 22+len(tt.png))
			}
			if v := binary.LittleEndian.Uint16(got[0:]); v != 0 {
				t.Errorf("reserved = %d, want 0", v)
			}
			if v := binary.LittleEndian.Uint16(got[2:]); v != 1 {
				t.Errorf("type = %d, want 1", v)
			}
			if v := binary.LittleEndian.Uint16(got[4:]); v != 1 {
				t.Errorf("count = %d, want 1", v)
			}
			if got[6] != tt.wantW || got[7] != tt.wantH {
				t.Errorf("entry dims = %d,%d, want %d,%d", got[6], got[7], tt.wantW, tt.wantH)
			}
			if got[8] != 0 || got[9] != 0 {
				t.Errorf("color count/reserved = %d,%d, want 0,0", got[8], got[9])
			}
			if v := binary.LittleEndian.Uint16(got[10:]); v != 1 {
				t.Errorf("planes = %d, want 1", v)
			}
			if v := binary.LittleEndian.Uint16(got[12:]); v != 32 {
				t.Errorf("bpp = %d, want 32", v)
			}
			if v := binary.LittleEndian.Uint32(got[14:]); v != uint32(len(tt.png)) {
				t.Errorf("data size = %d, want %d", v, len(tt.png))
			}
			if v := binary.LittleEndian.Uint32(got[18:]); v != 22 {
				t.Errorf("data offset = %d, want 22", v)
			}
			if !bytes.Equal(got[ICODataOffset:], tt.png) {
				t.Error("payload at offset 22 does not round-trip")
			}
		})
	}
}

func TestEncodeICO_ExactHeaderBytes(t *testing.T) {
	got := EncodeICO([]byte{0xDE, 0xAD}, 48, 48)
	want := []byte{
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, // ICONDIR
		0x30, 0x30, 0x00, 0x00, // 48x48, no palette
		0x01, 0x00, 0x20, 0x00, // planes=1, bpp=32
		0x02, 0x00, 0x00, 0x00, // size=2
		0x16, 0x00, 0x00, 0x00, // offset=22
		0xDE, 0xAD,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeICO bytes\n got % x\nwant % x", got, want)
	}
}

func TestEncodeICO_DoesNotAliasInput(t *testing.T) {
	png := []byte("abc")
	out := EncodeICO(png, 16, 16)
	out[ICODataOffset] = 'z'
	if png[0] != 'a' {
		t.Error("mutating output changed the input slice")
	}
}

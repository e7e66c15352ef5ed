package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestRenderIcon(t *testing.T) {
	m := renderIcon(64)
	if m.Bounds().Dx() != 64 {
		t.Fatalf("bounds = %v", m.Bounds())
	}
	if a := m.NRGBAAt(0, 0).A; a != 0 {
		t.Errorf("corner alpha = %d, want transparent", a)
	}
	if c := m.NRGBAAt(32, 2); c != bgColor {
		t.Errorf("top edge = %v, want background", c)
	}
	// middle of the anvil face
	if c := m.NRGBAAt(32, 26); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("anvil face = %v, want white", c)
	}
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	if err := generate(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, tgt := range pngTargets {
		if _, err := os.Stat(filepath.Join(dir, tgt.name)); err != nil {
			t.Errorf("%s: %v", tgt.name, err)
		}
	}

	ico, err := os.ReadFile(filepath.Join(dir, "favicon.ico"))
	if err != nil {
		t.Fatal(err)
	}
	if binary.LittleEndian.Uint16(ico[2:4]) != 1 || ico[6] != 32 {
		t.Errorf("ico header = % x", ico[:8])
	}

	icns, err := os.ReadFile(filepath.Join(dir, "icon.icns"))
	if err != nil {
		t.Fatal(err)
	}
	if string(icns[:4]) != "icns" || string(icns[8:12]) != "ic09" {
		t.Errorf("icns header = %q", icns[:12])
	}
}

package icon

import "encoding/binary"

const (
	icnsMagic        = "icns"
	icnsHeaderSize   = 8
	icnsRecordHeader = 8

	// ICNSDataOffset is where the PNG payload of a single-record file begins.
	ICNSDataOffset = icnsHeaderSize + icnsRecordHeader

	// DefaultICNSType is used for any size missing from the type table.
	DefaultICNSType = "ic08"
)

// icnsTypes maps a nominal edge length to its PNG-capable ICNS type code.
// Retina variants (ic11..ic14) and 64px are intentionally absent.
var icnsTypes = map[int]string{
	16:   "ic04",
	32:   "ic05",
	128:  "ic07",
	256:  "ic08",
	512:  "ic09",
	1024: "ic10",
}

// ICNSType returns the four-character type code for size, falling back to
// DefaultICNSType for sizes the table does not list.
func ICNSType(size int) string {
	if t, ok := icnsTypes[size]; ok {
		return t
	}
	return DefaultICNSType
}

// EncodeICNS wraps a PNG stream in an ICNS file holding exactly one icon
// record. All multi-byte fields are big-endian.
func EncodeICNS(png []byte, size int) []byte {
	recordLen := icnsRecordHeader + len(png)
	total := icnsHeaderSize + recordLen

	out := make([]byte, total)
	copy(out[0:4], icnsMagic)
	binary.BigEndian.PutUint32(out[4:], uint32(total))
	copy(out[8:12], ICNSType(size))
	binary.BigEndian.PutUint32(out[12:], uint32(recordLen))
	copy(out[ICNSDataOffset:], png)
	return out
}

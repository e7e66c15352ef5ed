package icon

import "encoding/binary"

// ICO layout constants. A single-image ICO is a 6-byte ICONDIR header
// followed by one 16-byte ICONDIRENTRY, so the payload always starts at 22.
const (
	icoHeaderSize   = 6
	icoEntrySize    = 16
	ICODataOffset   = icoHeaderSize + icoEntrySize
	icoTypeIcon     = 1
	icoColorPlanes  = 1
	icoBitsPerPixel = 32
)

// MaxICODimension is the largest edge an ICO directory entry can describe.
// It is stored as 0 in the entry byte.
const MaxICODimension = 256

// EncodeICO wraps a PNG stream in a single-image ICO container. width and
// height must be in 1..256; 256 is written as 0 per the directory-entry
// convention. The PNG bytes are embedded verbatim.
func EncodeICO(png []byte, width, height int) []byte {
	out := make([]byte, ICODataOffset+len(png))

	// ICONDIR
	binary.LittleEndian.PutUint16(out[0:], 0) // reserved
	binary.LittleEndian.PutUint16(out[2:], icoTypeIcon)
	binary.LittleEndian.PutUint16(out[4:], 1) // image count

	// ICONDIRENTRY
	out[6] = byte(width % 256)
	out[7] = byte(height % 256)
	out[8] = 0 // palette size
	out[9] = 0 // reserved
	binary.LittleEndian.PutUint16(out[10:], icoColorPlanes)
	binary.LittleEndian.PutUint16(out[12:], icoBitsPerPixel)
	binary.LittleEndian.PutUint32(out[14:], uint32(len(png)))
	binary.LittleEndian.PutUint32(out[18:], ICODataOffset)

	copy(out[ICODataOffset:], png)
	return out
}

// Package placeholder holds the image substituted for fetches that fail.
package placeholder

import "bytes"

// ContentType of the placeholder image
const ContentType = "image/png"

// Extension used when naming a placeholder entry
const Extension = ".png"

// 1x1 fully transparent PNG
var png = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x04, 0x00, 0x00, 0x00, 0xb5, 0x1c, 0x0c, 0x02, 0x00, 0x00, 0x00,
	0x0b, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x64, 0x60, 0x00, 0x00,
	0x00, 0x06, 0x00, 0x02, 0x30, 0x81, 0xd0, 0x2f, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Bytes returns a copy of the placeholder image
func Bytes() []byte {
	return bytes.Clone(png)
}

// Size returns the length of the placeholder image in bytes
func Size() int {
	return len(png)
}

// Is reports whether data is the placeholder image
func Is(data []byte) bool {
	return bytes.Equal(data, png)
}

package domain

import "bytes"

// Image MIME types served from tile stores.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEWebP = "image/webp"
)

// MinTileBytes is the smallest payload accepted as a real tile. Error
// pages and empty responses fall under it.
const MinTileBytes = 256

var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// DetectImageFormat sniffs the MIME type from leading magic bytes.
// Unrecognized data defaults to image/png, the canonical tile format.
func DetectImageFormat(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], pngSignature):
		return MIMEPNG
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return MIMEJPEG
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return MIMEWebP
	default:
		return MIMEPNG
	}
}

// IsImageData reports whether the payload starts with a known raster
// signature. Used to reject XML/HTML error bodies served with 200.
func IsImageData(data []byte) bool {
	if len(data) >= 8 && bytes.Equal(data[:8], pngSignature) {
		return true
	}
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return true
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return true
	}
	return false
}

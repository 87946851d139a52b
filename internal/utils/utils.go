package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
)

// --- 1. Process Safety ---

// Die is the unified exit strategy for startup failures.
// It prints a formatted error box and terminates the process.
func Die(context string, err error) {
	fmt.Fprint(os.Stderr, FormatError(context, err))
	os.Exit(1)
}

// FormatError renders the boxed message printed by Die.
func FormatError(context string, err error) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "\n---------------------------------------------------------\n")
	fmt.Fprintf(&b, "🚨 FACE EXTRACTOR ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(&b, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(&b, "---------------------------------------------------------\n")
	return b.String()
}

// --- 2. Image Carving (legacy Word data streams) ---

var (
	JpegSOI      = []byte{0xFF, 0xD8, 0xFF} // Start of Image + first marker prefix
	JpegEOI      = []byte{0xFF, 0xD9}       // End of Image
	PngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	PngIEND      = []byte{0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82}
)

// jpegSOS starts the entropy-coded scan data.
const jpegSOS = 0xDA

// CarveImages scans a raw byte stream for complete JPEG and PNG files and
// returns them in stream order. Truncated images are skipped.
func CarveImages(data []byte) [][]byte {
	var images [][]byte
	pos := 0
	for pos < len(data) {
		switch {
		case bytes.HasPrefix(data[pos:], JpegSOI):
			if end := jpegEnd(data, pos); end > 0 {
				images = append(images, data[pos:end])
				pos = end
				continue
			}
		case bytes.HasPrefix(data[pos:], PngSignature):
			if idx := bytes.Index(data[pos+len(PngSignature):], PngIEND); idx >= 0 {
				end := pos + len(PngSignature) + idx + len(PngIEND)
				images = append(images, data[pos:end])
				pos = end
				continue
			}
		}
		pos++
	}
	return images
}

// jpegEnd returns the offset just past the EOI that closes the JPEG starting at
// start, or -1. Header segments are skipped by their declared length so marker
// bytes inside EXIF thumbnails or ICC profiles are never mistaken for the end.
// Entropy-coded data after SOS is scanned for the next real marker, skipping
// stuffed 0xFF00 bytes and RSTn markers.
func jpegEnd(data []byte, start int) int {
	i := start + 2 // First marker after SOI
	for i+1 < len(data) {
		if data[i] != 0xFF {
			return -1
		}
		marker := data[i+1]
		switch {
		case marker == 0xFF: // Fill byte
			i++
			continue
		case marker == JpegEOI[1]:
			return i + 2
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7): // No payload
			i += 2
			continue
		}

		if i+4 > len(data) {
			return -1
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2:]))
		if segLen < 2 {
			return -1
		}
		i += 2 + segLen
		if marker != jpegSOS {
			continue
		}

		for i+1 < len(data) {
			if data[i] != 0xFF {
				i++
				continue
			}
			next := data[i+1]
			if next == 0x00 || (next >= 0xD0 && next <= 0xD7) {
				i += 2
				continue
			}
			if next == 0xFF {
				i++
				continue
			}
			break
		}
	}
	return -1
}

// --- 3. Identity ---

// GenerateDocumentID creates a deterministic hash for the document file
// based on its path, size, and modification time.
func GenerateDocumentID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}

package bioslogo

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// The image formats we know how to find inside a firmware section
type Format int

const (
	FormatUnknown Format = iota
	FormatBMP
	FormatJPEG
	FormatPNG
)

var (
	MagicBMP  = []byte("BM")
	MagicJPEG = []byte{0xFF, 0xD8, 0xFF}
	MagicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
)

func (f Format) String() string {
	switch f {
	case FormatBMP:
		return "bmp"
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	}
	return "unknown"
}

// File extension (with the dot) used when writing a payload of this format
// to disk. Unknown payloads get ".bin"
func (f Format) Extension() string {
	switch f {
	case FormatBMP:
		return ".bmp"
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	}
	return ".bin"
}

// Whether the encoder quality parameter has any effect on output size
func (f Format) Lossy() bool {
	return f == FormatJPEG
}

func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f Format) imagingFormat() (imaging.Format, error) {
	switch f {
	case FormatBMP:
		return imaging.BMP, nil
	case FormatJPEG:
		return imaging.JPEG, nil
	case FormatPNG:
		return imaging.PNG, nil
	}
	return 0, fmt.Errorf("No encoder for format %s", f)
}

// Parse a user-supplied format name ("jpg", "jpeg", "bmp", "png"). An empty
// string is FormatUnknown with no error, meaning "use whatever was detected"
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "":
		return FormatUnknown, nil
	case "bmp":
		return FormatBMP, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	}
	return FormatUnknown, fmt.Errorf("Unknown image format '%s' (use bmp, jpg or png)", name)
}

// Identify the image format from the magic bytes at the start of data
func SniffFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, MagicBMP):
		return FormatBMP
	case bytes.HasPrefix(data, MagicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, MagicPNG):
		return FormatPNG
	}
	return FormatUnknown
}

// Read the pixel dimensions out of an encoded image without decoding all of it
func ImageDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("Couldn't read image dimensions: %w", err)
	}
	return config.Width, config.Height, nil
}

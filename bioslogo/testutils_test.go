package bioslogo

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

const testGuid = "7BB28B99-61BB-11D5-9A5D-0090273FC14D"

// Write data to root/rel, creating any folders needed
func writeTestFile(t *testing.T, root string, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		t.Fatalf("Couldn't create folder for %s: %s", rel, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Couldn't write %s: %s", rel, err)
	}
	return path
}

func gradientImage(width int, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func testJpeg(t *testing.T, width int, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradientImage(width, height), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("Couldn't make test jpeg: %s", err)
	}
	return buf.Bytes()
}

func testPng(t *testing.T, width int, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradientImage(width, height)); err != nil {
		t.Fatalf("Couldn't make test png: %s", err)
	}
	return buf.Bytes()
}

// JPEG magic followed by filler, for tests that only care about bytes
func fakeJpeg(length int, fill byte) []byte {
	data := bytes.Repeat([]byte{fill}, length)
	copy(data, MagicJPEG)
	return data
}

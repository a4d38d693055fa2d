package main

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/randomouscrap98/biosgotools/bioslogo"
)

// Makes a fake firmware image with a small jpeg logo buried in it, plus the
// matching extracted tree, for trying out the tools without a real board
func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: go run main.go <filename> <length>")
		return
	}

	// Get the length
	length, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Println("Error: can't parse length: ", err)
		return
	}

	// Make the logo: a plain gradient
	img := imaging.New(64, 32, color.Black)
	for x := 0; x < 64; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var logo bytes.Buffer
	err = imaging.Encode(&logo, img, imaging.JPEG, imaging.JPEGQuality(75))
	if err != nil {
		fmt.Println("Error encoding logo: ", err)
		return
	}
	section := append([]byte{0x19, 0x00, 0x00, 0x00}, logo.Bytes()...)
	if length < len(section)*2 {
		fmt.Println("Error: length must be at least ", len(section)*2)
		return
	}

	// Write very obvious data: constantly increasing values
	data := make([]byte, length)
	for i := 0; i < length; i++ {
		data[i] = uint8(i & 0xFF)
	}
	offset := length / 2
	copy(data[offset:], section)

	filename := os.Args[1]
	if err = bioslogo.WriteFirmware(filename, data); err != nil {
		fmt.Println("Error writing file: ", err)
		return
	}

	// Same layout UEFIExtract would produce for just the logo section
	body := filepath.Join(bioslogo.DumpDir(filename), "0 "+bioslogo.DefaultLogoGuid, bioslogo.BodyFile)
	if err = os.MkdirAll(filepath.Dir(body), 0755); err != nil {
		fmt.Println("Error creating dump: ", err)
		return
	}
	if err = os.WriteFile(body, section, 0644); err != nil {
		fmt.Println("Error writing section: ", err)
		return
	}

	fmt.Printf("Wrote file %s (%d byte logo at 0x%X) and dump %s\n", filename, logo.Len(), offset+4,
		bioslogo.DumpDir(filename))
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/randomouscrap98/biosgotools/bioslogo"
)

const outputDir = "found_images"

type hit struct {
	offset int
	format bioslogo.Format
}

func main() {
	// Check if a filename is provided as a command-line argument
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("Usage: go run main.go <filename> [save]")
		return
	}

	filename := os.Args[1]
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Println("Error reading file:", err)
		return
	}
	save := len(os.Args) == 3 && os.Args[2] == "save"
	if save {
		err = os.Mkdir(outputDir, 0755)
		if err != nil && !os.IsExist(err) {
			fmt.Println("Error creating output directory:", err)
			return
		}
	}

	// Every place any of the magics show up, in file order
	hits := make([]hit, 0)
	for _, format := range []bioslogo.Format{bioslogo.FormatBMP, bioslogo.FormatJPEG, bioslogo.FormatPNG} {
		magic := bioslogo.MagicJPEG
		if format == bioslogo.FormatBMP {
			magic = bioslogo.MagicBMP
		} else if format == bioslogo.FormatPNG {
			magic = bioslogo.MagicPNG
		}
		for start := 0; ; {
			i := bytes.Index(data[start:], magic)
			if i < 0 {
				break
			}
			hits = append(hits, hit{offset: start + i, format: format})
			start += i + 1
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })

	// "BM" and friends show up all over the place by chance; only report the
	// ones that actually have a decodable header
	found := 0
	for _, h := range hits {
		w, hgt, err := bioslogo.ImageDimensions(data[h.offset:])
		if err != nil {
			continue
		}
		found++
		fmt.Printf("0x%08X %-4s %dx%d\n", h.offset, h.format, w, hgt)
		if save {
			name := filepath.Join(outputDir, fmt.Sprintf("image_%08X%s", h.offset, h.format.Extension()))
			// No reliable end marker for every format, so write to the end of file
			if err = os.WriteFile(name, data[h.offset:], 0644); err != nil {
				fmt.Println("Error writing image file:", err)
				return
			}
		}
	}

	fmt.Printf("Found %d images (%d magic hits) in '%s'\n", found, len(hits), filename)
}

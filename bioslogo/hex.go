package bioslogo

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
)

const (
	HexLineLength = 16
	HexPadding    = 0xFF // Erased flash
)

// Convert intel hex into one contiguous binary starting at address 0. Gaps
// between segments are filled with erased-flash bytes
func HexToBin(reader io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(reader); err != nil {
		return nil, err
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("Hex file has no data")
	}
	end := uint32(0)
	for _, s := range segments {
		segEnd := s.Address + uint32(len(s.Data))
		if segEnd > end {
			end = segEnd
		}
	}
	return mem.ToBinary(0, end, HexPadding), nil
}

// Write the whole binary as intel hex starting at address 0
func BinToHex(bin []byte, writer io.Writer) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, bin); err != nil {
		return err
	}
	return mem.DumpIntelHex(writer, HexLineLength)
}

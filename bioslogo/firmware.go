package bioslogo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

func isHexPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".hex" || ext == ".ihex"
}

// Read a whole firmware image. Intel hex files (.hex) are flattened to binary,
// anything else is taken as-is
func ReadFirmware(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isHexPath(path) {
		bin, err := HexToBin(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		logger.Infof("Read %d bytes from hex file %s", len(bin), path)
		return bin, nil
	}
	logger.Infof("Read %d bytes from %s", len(raw), path)
	return raw, nil
}

// Write a firmware image atomically, as intel hex if path ends in .hex
func WriteFirmware(path string, data []byte) error {
	if isHexPath(path) {
		var buf bytes.Buffer
		if err := BinToHex(data, &buf); err != nil {
			return err
		}
		return WriteFileAtomic(path, buf.Bytes(), 0644)
	}
	return WriteFileAtomic(path, data, 0644)
}

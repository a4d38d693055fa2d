package bioslogo

import (
	"bytes"
	"fmt"
)

type PatchResult struct {
	Data          []byte // The new firmware. Same length as the input
	Offset        int    // Where the replaced bytes started
	Replaced      int    // How many bytes were replaced
	UsedContainer bool   // Payload wasn't found verbatim; the section body was replaced instead
	Padded        int    // Zero bytes added to the end of the replacement
	Truncated     int    // Bytes cut off the end of the replacement
}

// Offset of the first literal occurrence of payload in blob, -1 if missing
func FindPayloadOffset(blob []byte, payload []byte) int {
	if len(payload) == 0 {
		return -1
	}
	return bytes.Index(blob, payload)
}

// Force the replacement to exactly length bytes: zero pad if short, truncate if long
func FitReplacement(replacement []byte, length int) ([]byte, int, int) {
	if len(replacement) == length {
		return replacement, 0, 0
	}
	if len(replacement) < length {
		padded := make([]byte, length)
		copy(padded, replacement)
		return padded, length - len(replacement), 0
	}
	return replacement[:length], 0, len(replacement) - length
}

// Swap the original payload inside firmware for the replacement. If the
// payload itself isn't in the firmware verbatim, the whole section body
// (container) is searched for instead. Lengths must match unless allowResize,
// in which case the replacement is padded or truncated to fit. The firmware
// slice is never modified.
func Patch(firmware []byte, original []byte, container []byte, replacement []byte,
	allowResize bool) (*PatchResult, error) {
	result := PatchResult{}
	target := original
	result.Offset = FindPayloadOffset(firmware, target)
	if result.Offset < 0 && len(container) > 0 {
		logger.Warnf("Logo payload not found verbatim, trying full section body (%d bytes)", len(container))
		target = container
		result.Offset = FindPayloadOffset(firmware, target)
		result.UsedContainer = true
	}
	if result.Offset < 0 {
		return nil, &PayloadNotFoundError{PayloadLength: len(original), ContainerLength: len(container)}
	}
	logger.Infof("Found original logo at offset 0x%08X (%d bytes, new: %d bytes)",
		result.Offset, len(target), len(replacement))

	if len(replacement) != len(target) {
		mismatch := &SizeMismatchError{Original: len(target), Replacement: len(replacement)}
		if !allowResize {
			return nil, mismatch
		}
		logger.Warnf("FORCING resize: %s", mismatch)
		replacement, result.Padded, result.Truncated = FitReplacement(replacement, len(target))
	}

	patched := make([]byte, 0, len(firmware))
	patched = append(patched, firmware[:result.Offset]...)
	patched = append(patched, replacement...)
	patched = append(patched, firmware[result.Offset+len(target):]...)
	if len(patched) != len(firmware) {
		return nil, fmt.Errorf("PROGRAM ERROR: patched firmware is %d bytes, original %d", len(patched), len(firmware))
	}
	result.Data = patched
	result.Replaced = len(target)
	return &result, nil
}

package bioslogo

import (
	"errors"
	"fmt"
	"strings"
)

// Raised when no candidate file or header skip produced a known image format
var ErrFormatUnrecognized = errors.New("Couldn't recognize the logo image format; " +
	"check the section manually (UEFITool GUI) or supply a different GUID")

// The identifying GUID wasn't anywhere in the extracted tree
type TagNotFoundError struct {
	Guid    string
	Root    string
	Samples []string // Some GUIDs that DO exist, for the operator
}

func (e *TagNotFoundError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Couldn't find section with GUID %s under %s; "+
		"find the right GUID with the UEFITool GUI and pass it with --guid", e.Guid, e.Root)
	if len(e.Samples) > 0 {
		fmt.Fprintf(&sb, " (first %d GUIDs found: %s)", len(e.Samples), strings.Join(e.Samples, ", "))
	}
	return sb.String()
}

// Every trial of the size-matching search failed
type EncodeFailedError struct {
	Trials int
	Err    error
}

func (e *EncodeFailedError) Error() string {
	return fmt.Sprintf("Encoder produced no output in %d trials (last error: %s); "+
		"check the source image and encoder, or convert the logo manually", e.Trials, e.Err)
}

func (e *EncodeFailedError) Unwrap() error {
	return e.Err
}

// The literal payload bytes (and the container fallback) weren't in the firmware
type PayloadNotFoundError struct {
	PayloadLength   int
	ContainerLength int
}

func (e *PayloadNotFoundError) Error() string {
	return fmt.Sprintf("Couldn't find original logo (%d bytes) or its section body (%d bytes) "+
		"in the firmware; patch it by hand with the UEFITool GUI instead",
		e.PayloadLength, e.ContainerLength)
}

// The replacement isn't the same length as what it replaces, and resizing
// wasn't allowed
type SizeMismatchError struct {
	Original    int
	Replacement int
}

// Replacement length minus original length
func (e *SizeMismatchError) Delta() int {
	return e.Replacement - e.Original
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("Replacement is %d bytes but original is %d (delta %+d); section sizes are fixed, "+
		"adjust the image until the sizes match or force padding/truncation (NOT RECOMMENDED)",
		e.Replacement, e.Original, e.Delta())
}

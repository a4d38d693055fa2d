package bioslogo

import (
	"context"
	"fmt"
	"os"
)

// Everything the one-shot logo replacement needs. There are no prompts in
// here: anything risky has to be switched on explicitly by the caller
type ReplaceOptions struct {
	Config      Config
	Logo        string // New logo image (any format imaging can read)
	Firmware    string // Existing firmware image; empty means read it off the chip
	Width       int    // 0 = use the original logo's width
	Height      int    // 0 = use the original logo's height
	AllowResize bool   // Pad/truncate if the sizes don't match (NOT RECOMMENDED)
	Rebackup    bool   // Read the chip again even if a backup already exists
	Flash       bool   // Write the result back to the chip...
	Confirmed   bool   // ...but only if this is also set
}

type ReplaceResult struct {
	Firmware       string
	FirmwareLength int
	FirmwareMD5    string
	Dump           string
	Section        string
	Payload        string
	PayloadSkip    int
	PayloadFormat  Format
	PayloadLength  int
	Width          int
	Height         int
	Quality        int
	LogoFile       string
	LogoLength     int
	Difference     int
	OutOfTolerance bool
	Offset         int
	UsedContainer  bool
	Padded         int
	Truncated      int
	Modified       string
	ModifiedMD5    string
	Flashed        bool
}

// The external pieces the pipeline drives. Swappable for testing
type Collaborators struct {
	Extractor Extractor
	Encoder   Encoder
	Flasher   Flasher
}

func DefaultCollaborators(config *Config) (*Collaborators, error) {
	enc, err := NewEncoder(&config.Encoder, &config.Tools)
	if err != nil {
		return nil, err
	}
	return &Collaborators{
		Extractor: &UEFIExtract{Path: config.Tools.UEFIExtract},
		Encoder:   enc,
		Flasher:   &Flashrom{Path: config.Tools.Flashrom, Programmer: config.Tools.Programmer},
	}, nil
}

// UEFIExtract wants a raw binary, so hex input gets flattened next to itself first
func RawFirmwarePath(path string) (string, error) {
	if !isHexPath(path) {
		return path, nil
	}
	bin, err := ReadFirmware(path)
	if err != nil {
		return "", err
	}
	raw := path + ".bin"
	return raw, WriteFileAtomic(raw, bin, 0644)
}

// Extract, locate, encode, patch and (optionally) flash. Stops at the first
// problem; nothing is written to the modified firmware path unless the patch
// fully succeeded.
func Replace(ctx context.Context, opts *ReplaceOptions, collab *Collaborators) (*ReplaceResult, error) {
	config := &opts.Config
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.Logo); err != nil {
		return nil, fmt.Errorf("Couldn't find logo %s: %w", opts.Logo, err)
	}
	if (opts.Width > 0) != (opts.Height > 0) {
		return nil, fmt.Errorf("Width and height must be given together")
	}
	result := ReplaceResult{}

	// 1: firmware in hand
	result.Firmware = opts.Firmware
	if result.Firmware == "" {
		result.Firmware = config.Output.Backup
		_, err := os.Stat(result.Firmware)
		if err == nil && !opts.Rebackup {
			// After a flash the chip no longer holds the original, so the old backup is the good one
			logger.Infof("Reusing existing backup %s", result.Firmware)
		} else {
			logger.Infof("Backing up chip to %s", result.Firmware)
			if err := collab.Flasher.Read(ctx, result.Firmware); err != nil {
				return nil, err
			}
		}
	}
	firmware, err := ReadFirmware(result.Firmware)
	if err != nil {
		return nil, err
	}
	result.FirmwareLength = len(firmware)
	result.FirmwareMD5 = Md5String(firmware)

	// 2: extract and locate
	rawPath, err := RawFirmwarePath(result.Firmware)
	if err != nil {
		return nil, err
	}
	result.Dump, err = collab.Extractor.Extract(ctx, rawPath)
	if err != nil {
		return nil, err
	}
	payload, err := Locate(result.Dump, config.Guid, config.HeaderSkips)
	if err != nil {
		return nil, err
	}
	result.Section = payload.Section
	result.Payload = payload.Source
	result.PayloadSkip = payload.Skip
	result.PayloadFormat = payload.Format
	result.PayloadLength = len(payload.Data)
	// Even with manual dimensions, a payload that isn't an image is a hard stop
	if err = payload.RequireKnown(); err != nil {
		return nil, err
	}

	// 3: dimensions
	result.Width, result.Height = opts.Width, opts.Height
	if result.Width == 0 {
		result.Width, result.Height, err = ImageDimensions(payload.Data)
		if err != nil {
			return nil, fmt.Errorf("%w; pass --width and --height manually", err)
		}
		logger.Infof("Original logo is %dx%d", result.Width, result.Height)
	} else {
		logger.Infof("Using manual logo size %dx%d", result.Width, result.Height)
	}

	// 4: encode to (roughly) the same size
	format, _ := ParseFormat(config.Encoder.Format)
	if format == FormatUnknown {
		format = payload.Format
	}
	result.LogoFile = config.Output.LogoPath(format)
	encoded, err := MatchSize(ctx, collab.Encoder, EncodeRequest{
		Source:     opts.Logo,
		Output:     result.LogoFile,
		Width:      result.Width,
		Height:     result.Height,
		Format:     format,
		MinQuality: config.Encoder.MinQuality,
		MaxQuality: config.Encoder.MaxQuality,
		Iterations: config.Encoder.Iterations,
		Workdir:    config.Output.Workdir,
	}, Budget{Target: len(payload.Data), Tolerance: config.Tolerance})
	if err != nil {
		return nil, err
	}
	result.Quality = encoded.Quality
	result.LogoLength = len(encoded.Data)
	result.Difference = encoded.Difference
	result.OutOfTolerance = encoded.ToleranceExceeded

	// 5: patch
	patch, err := Patch(firmware, payload.Data, payload.Container, encoded.Data, opts.AllowResize)
	if err != nil {
		return nil, err
	}
	result.Offset = patch.Offset
	result.UsedContainer = patch.UsedContainer
	result.Padded = patch.Padded
	result.Truncated = patch.Truncated
	result.Modified = config.Output.Modified
	if err = WriteFirmware(result.Modified, patch.Data); err != nil {
		return nil, err
	}
	result.ModifiedMD5 = Md5String(patch.Data)
	logger.Infof("Modified firmware saved to %s", result.Modified)

	// 6: flash, only when asked twice
	if opts.Flash {
		if !opts.Confirmed {
			return &result, fmt.Errorf("Refusing to flash without confirmation; flash %s manually "+
				"or rerun with confirmation", result.Modified)
		}
		flashPath, err := RawFirmwarePath(result.Modified)
		if err != nil {
			return &result, err
		}
		logger.Warnf("Flashing %s (backup kept at %s)", flashPath, result.Firmware)
		if err = collab.Flasher.Write(ctx, flashPath); err != nil {
			return &result, err
		}
		result.Flashed = true
	}
	return &result, nil
}

// Intermediate files a run leaves behind for the given firmware: the extracted
// tree, plus the flattened binary (and its tree) when the firmware is hex
func ScratchPaths(firmware string) []string {
	paths := []string{DumpDir(firmware)}
	if isHexPath(firmware) {
		raw := firmware + ".bin"
		paths = append(paths, raw, DumpDir(raw))
	}
	return paths
}

// Remove whatever of the given paths exist. Returns what was actually removed
func Cleanup(paths []string) ([]string, error) {
	removed := make([]string, 0)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return removed, fmt.Errorf("Couldn't remove %s: %w", p, err)
		}
		logger.Infof("Removed %s", p)
		removed = append(removed, p)
	}
	return removed, nil
}

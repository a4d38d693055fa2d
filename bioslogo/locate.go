package bioslogo

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	BodyFile         = "body.bin"
	UncompressedFile = "unc_data.bin"
	InfoFile         = "info.txt"
	MaxSampleGuids   = 20
)

// The raw image bytes pulled out of a firmware section. Data is EXACTLY what
// the patcher will search for later, so never modify it
type Payload struct {
	Data      []byte
	Format    Format
	Source    string // File the payload came from
	Skip      int    // Header bytes skipped within Source to reach Data
	Section   string // body.bin of the section matching the GUID
	Container []byte // Raw contents of Section, the patcher's fallback
}

// Unknown payloads can't be re-encoded or patched automatically
func (p *Payload) RequireKnown() error {
	if p.Format == FormatUnknown {
		return fmt.Errorf("%s: %w", p.Source, ErrFormatUnrecognized)
	}
	return nil
}

// Walk the tree looking for all files with the given name, in lexical order
func findNamed(root string, name string) ([]string, error) {
	result := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			result = append(result, path)
		}
		return nil
	})
	return result, err
}

// Find the body.bin of the section identified by guid. Path names are checked
// first; after that, the contents of each info.txt
func FindSection(root string, guid string) (string, error) {
	guidLower := strings.ToLower(guid)
	bodies, err := findNamed(root, BodyFile)
	if err != nil {
		return "", err
	}
	for _, b := range bodies {
		// Only the part inside the tree; the dump itself may be named after the GUID
		rel, err := filepath.Rel(root, b)
		if err != nil {
			return "", err
		}
		if strings.Contains(strings.ToLower(rel), guidLower) {
			logger.Debugf("Section matched by path: %s", b)
			return b, nil
		}
	}
	infos, err := findNamed(root, InfoFile)
	if err != nil {
		return "", err
	}
	for _, info := range infos {
		raw, err := os.ReadFile(info)
		if err != nil {
			return "", err
		}
		if !bytes.Contains(bytes.ToLower(raw), []byte(guidLower)) {
			continue
		}
		body := filepath.Join(filepath.Dir(info), BodyFile)
		if _, err := os.Stat(body); err == nil {
			logger.Debugf("Section matched by %s: %s", info, body)
			return body, nil
		}
	}
	samples, err := SampleGuids(root, MaxSampleGuids)
	if err != nil {
		logger.Warnf("Couldn't gather sample GUIDs: %s", err)
	}
	return "", &TagNotFoundError{Guid: guid, Root: root, Samples: samples}
}

// A GUID line in info.txt is the only thing on the line: 36 chars, 4 dashes
func isGuidLine(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// Gather up to max distinct GUIDs out of every info.txt in the tree. Only for
// showing the operator what's there
func SampleGuids(root string, max int) ([]string, error) {
	result := make([]string, 0)
	seen := make(map[string]bool)
	infos, err := findNamed(root, InfoFile)
	if err != nil {
		return result, err
	}
	for _, info := range infos {
		raw, err := os.ReadFile(info)
		if err != nil {
			return result, err
		}
		for _, line := range strings.Split(string(raw), "\n") {
			s := strings.TrimSpace(line)
			if isGuidLine(s) && !seen[s] {
				seen[s] = true
				result = append(result, s)
				if len(result) >= max {
					return result, nil
				}
			}
		}
	}
	return result, nil
}

// Try the raw data, then the data after each header skip (smallest first).
// Returns the exact slice that sniffed successfully
func SniffWithSkips(path string, raw []byte, skips []int) ([]byte, Format, int) {
	logger.Debugf("Sniffing %s at offset 0", path)
	if f := SniffFormat(raw); f != FormatUnknown {
		return raw, f, 0
	}
	ordered := append([]int{}, skips...)
	sort.Ints(ordered)
	for _, skip := range ordered {
		if len(raw) <= skip {
			continue
		}
		logger.Debugf("Sniffing %s at offset %d", path, skip)
		if f := SniffFormat(raw[skip:]); f != FormatUnknown {
			return raw[skip:], f, skip
		}
	}
	return nil, FormatUnknown, 0
}

// Dig through the given section for the file holding the actual image. The
// section body may just be a (compressed) container, so all unc_data.bin then
// body.bin files underneath it are tried.
func FindPayload(section string, skips []int) (*Payload, error) {
	container, err := os.ReadFile(section)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(section)
	candidates := make([]string, 0)
	for _, name := range []string{UncompressedFile, BodyFile} {
		found, err := findNamed(dir, name)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}
	for _, c := range candidates {
		raw, err := os.ReadFile(c)
		if err != nil {
			return nil, err
		}
		data, format, skip := SniffWithSkips(c, raw, skips)
		if format != FormatUnknown {
			logger.Infof("Found %s logo in %s (skipped %d header bytes, %d bytes)", format, c, skip, len(data))
			return &Payload{
				Data:      data,
				Format:    format,
				Source:    c,
				Skip:      skip,
				Section:   section,
				Container: container,
			}, nil
		}
	}
	// Nothing recognized: hand back the first candidate as-is
	unknown := &Payload{
		Data:      container,
		Format:    FormatUnknown,
		Source:    section,
		Section:   section,
		Container: container,
	}
	if len(candidates) > 0 && candidates[0] != section {
		unknown.Source = candidates[0]
		if unknown.Data, err = os.ReadFile(candidates[0]); err != nil {
			return nil, err
		}
	}
	logger.Warnf("No image magic found in %d candidate files, returning raw %s", len(candidates), unknown.Source)
	return unknown, nil
}

// Find the logo payload for guid somewhere under the extracted tree at root
func Locate(root string, guid string, skips []int) (*Payload, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("Extracted tree %s is not a directory", root)
	}
	section, err := FindSection(root, guid)
	if err != nil {
		var tnf *TagNotFoundError
		if errors.As(err, &tnf) {
			logger.Errorf("GUID %s not found; %d sample GUIDs: %v", guid, len(tnf.Samples), tnf.Samples)
		}
		return nil, err
	}
	return FindPayload(section, skips)
}

package bioslogo

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Pretends to be UEFIExtract: lays the given section body out under
// "<firmware>.dump" the way the real tool would
type fakeExtractor struct {
	body []byte
}

func (f *fakeExtractor) Extract(ctx context.Context, firmware string) (string, error) {
	dump := DumpDir(firmware)
	if err := os.RemoveAll(dump); err != nil {
		return "", err
	}
	path := filepath.Join(dump, "0 UEFI image", "4 "+testGuid, "body.bin")
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return "", err
	}
	return dump, os.WriteFile(path, f.body, 0644)
}

// Chip stand-in: reads hand back a fixed image, writes are recorded
type fakeFlasher struct {
	chip   []byte
	reads  []string
	writes []string
}

func (f *fakeFlasher) Read(ctx context.Context, path string) error {
	f.reads = append(f.reads, path)
	return os.WriteFile(path, f.chip, 0644)
}

func (f *fakeFlasher) Write(ctx context.Context, path string) error {
	f.writes = append(f.writes, path)
	return nil
}

type pipelineFixture struct {
	dir      string
	firmware string
	logo     string
	original []byte // The logo as it sits in the firmware
	offset   int
	image    []byte
	options  ReplaceOptions
	collab   Collaborators
	flasher  *fakeFlasher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	f := pipelineFixture{dir: t.TempDir()}
	f.original = testJpeg(t, 32, 16)
	header := []byte{0x19, 0x00, 0x00, 0x00}
	section := append(append([]byte{}, header...), f.original...)
	f.offset = 0x2000 + len(header)
	f.image = bytes.Repeat([]byte{0xFF}, 0x2000)
	f.image = append(f.image, section...)
	f.image = append(f.image, bytes.Repeat([]byte{0xFF}, 0x1000)...)
	f.firmware = writeTestFile(t, f.dir, "bios.bin", f.image)
	f.logo = writeTestFile(t, f.dir, "mylogo.png", testPng(t, 100, 50))

	config := DefaultConfig()
	config.Output.Backup = filepath.Join(f.dir, "backup.bin")
	config.Output.Modified = filepath.Join(f.dir, "modified.bin")
	config.Output.Logo = filepath.Join(f.dir, "new_logo")
	config.Output.Workdir = f.dir
	f.options = ReplaceOptions{Config: config, Logo: f.logo, Firmware: f.firmware}
	f.flasher = &fakeFlasher{chip: f.image}
	f.collab = Collaborators{
		Extractor: &fakeExtractor{body: section},
		Encoder:   &fakeEncoder{size: func(int) int { return len(f.original) }},
		Flasher:   f.flasher,
	}
	return &f
}

func TestReplace_ExactSize(t *testing.T) {
	f := newPipelineFixture(t)
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.Equal(t, FormatJPEG, result.PayloadFormat)
	require.Equal(t, 4, result.PayloadSkip)
	require.Equal(t, len(f.original), result.PayloadLength)
	require.Equal(t, 32, result.Width)
	require.Equal(t, 16, result.Height)
	require.Equal(t, f.offset, result.Offset)
	require.False(t, result.UsedContainer)
	require.Zero(t, result.Difference)
	require.False(t, result.Flashed)
	require.Empty(t, f.flasher.reads)
	require.Equal(t, filepath.Join(f.dir, "new_logo.jpg"), result.LogoFile)

	modified, err := os.ReadFile(result.Modified)
	require.NoError(t, err)
	require.Len(t, modified, len(f.image))
	require.Equal(t, f.image[:f.offset], modified[:f.offset])
	end := f.offset + len(f.original)
	require.Equal(t, f.image[end:], modified[end:])
	logo, err := os.ReadFile(result.LogoFile)
	require.NoError(t, err)
	require.Equal(t, logo, modified[f.offset:end])
	require.Equal(t, Md5String(modified), result.ModifiedMD5)
}

func TestReplace_NativeWithResize(t *testing.T) {
	f := newPipelineFixture(t)
	enc, err := NewEncoder(&f.options.Config.Encoder, &f.options.Config.Tools)
	require.NoError(t, err)
	f.collab.Encoder = enc
	f.options.AllowResize = true
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.Equal(t, f.offset, result.Offset)
	require.Equal(t, result.LogoLength-len(f.original), result.Truncated-result.Padded)

	modified, err := os.ReadFile(result.Modified)
	require.NoError(t, err)
	require.Len(t, modified, len(f.image))
	require.Equal(t, FormatJPEG, SniffFormat(modified[f.offset:]))
	logo, err := os.ReadFile(result.LogoFile)
	require.NoError(t, err)
	w, h, err := ImageDimensions(logo)
	require.NoError(t, err)
	require.Equal(t, 32, w)
	require.Equal(t, 16, h)
}

func TestReplace_ManualDimensions(t *testing.T) {
	f := newPipelineFixture(t)
	f.options.Width = 64
	f.options.Height = 48
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.Equal(t, 64, result.Width)
	require.Equal(t, 48, result.Height)

	f.options.Height = 0
	_, err = Replace(context.Background(), &f.options, &f.collab)
	require.Error(t, err)
}

func TestReplace_SizeMismatchWritesNothing(t *testing.T) {
	f := newPipelineFixture(t)
	f.collab.Encoder = &fakeEncoder{size: func(int) int { return len(f.original) + 3 }}
	_, err := Replace(context.Background(), &f.options, &f.collab)
	var sm *SizeMismatchError
	require.True(t, errors.As(err, &sm), "expected SizeMismatchError, got %v", err)
	require.Equal(t, 3, sm.Delta())
	_, err = os.Stat(f.options.Config.Output.Modified)
	require.True(t, os.IsNotExist(err))
}

func TestReplace_UnknownPayload(t *testing.T) {
	f := newPipelineFixture(t)
	f.collab.Extractor = &fakeExtractor{body: bytes.Repeat([]byte{0x42}, 10)}
	f.options.Width = 10
	f.options.Height = 10
	_, err := Replace(context.Background(), &f.options, &f.collab)
	require.ErrorIs(t, err, ErrFormatUnrecognized)
}

func TestReplace_WrongGuid(t *testing.T) {
	f := newPipelineFixture(t)
	f.options.Config.Guid = "00000000-1111-2222-3333-444444444444"
	_, err := Replace(context.Background(), &f.options, &f.collab)
	var tnf *TagNotFoundError
	require.True(t, errors.As(err, &tnf), "expected TagNotFoundError, got %v", err)
}

func TestReplace_FlashNeedsConfirmation(t *testing.T) {
	f := newPipelineFixture(t)
	f.options.Firmware = ""
	f.options.Flash = true
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.Error(t, err)
	require.NotNil(t, result)
	require.False(t, result.Flashed)
	require.Equal(t, []string{f.options.Config.Output.Backup}, f.flasher.reads)
	require.Empty(t, f.flasher.writes)
	_, err = os.Stat(result.Modified)
	require.NoError(t, err, "modified firmware should still be saved")

	f.options.Confirmed = true
	result, err = Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.True(t, result.Flashed)
	require.Equal(t, []string{result.Modified}, f.flasher.writes)
}

func TestReplace_HexFirmware(t *testing.T) {
	f := newPipelineFixture(t)
	hexPath := filepath.Join(f.dir, "bios.hex")
	require.NoError(t, WriteFirmware(hexPath, f.image))
	f.options.Firmware = hexPath
	f.options.Config.Output.Modified = filepath.Join(f.dir, "modified.hex")
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.Equal(t, hexPath+".bin.dump", result.Dump)
	modified, err := ReadFirmware(result.Modified)
	require.NoError(t, err)
	require.Len(t, modified, len(f.image))
}

func TestCleanup(t *testing.T) {
	f := newPipelineFixture(t)
	hexPath := filepath.Join(f.dir, "bios.hex")
	require.NoError(t, WriteFirmware(hexPath, f.image))
	f.options.Firmware = hexPath
	_, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)

	paths := ScratchPaths(hexPath)
	require.Equal(t, []string{hexPath + ".dump", hexPath + ".bin", hexPath + ".bin.dump"}, paths)
	removed, err := Cleanup(paths)
	require.NoError(t, err)
	// The hex itself was never extracted, only its flattened copy
	require.Equal(t, []string{hexPath + ".bin", hexPath + ".bin.dump"}, removed)
	for _, p := range paths {
		_, err = os.Stat(p)
		require.True(t, os.IsNotExist(err), "%s still exists", p)
	}
	_, err = os.Stat(hexPath)
	require.NoError(t, err)
}

func TestReplace_KeepsExistingBackup(t *testing.T) {
	f := newPipelineFixture(t)
	backup := f.options.Config.Output.Backup
	require.NoError(t, os.WriteFile(backup, f.image, 0644))
	// Whatever is on the chip now (say, an earlier modified image) must not
	// replace the backup
	f.flasher.chip = bytes.Repeat([]byte{0xAA}, 16)
	f.options.Firmware = ""
	result, err := Replace(context.Background(), &f.options, &f.collab)
	require.NoError(t, err)
	require.Empty(t, f.flasher.reads)
	require.Equal(t, backup, result.Firmware)
	kept, err := os.ReadFile(backup)
	require.NoError(t, err)
	require.Equal(t, f.image, kept)

	// Asking for a fresh backup reads the chip again
	f.options.Rebackup = true
	_, err = Replace(context.Background(), &f.options, &f.collab)
	var pnf *PayloadNotFoundError
	require.True(t, errors.As(err, &pnf), "expected PayloadNotFoundError, got %v", err)
	require.Equal(t, []string{backup}, f.flasher.reads)
	fresh, err := os.ReadFile(backup)
	require.NoError(t, err)
	require.Equal(t, f.flasher.chip, fresh)
}

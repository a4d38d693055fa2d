package bioslogo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Install hints for the tools we shell out to
var ToolHints = map[string]string{
	"flashrom":    "sudo apt install flashrom",
	"convert":     "sudo apt install imagemagick",
	"UEFIExtract": "build UEFIExtract from https://github.com/LongSoft/UEFITool (tag A72)",
}

// Resolve a tool to a full path, with an install hint if it's missing
func RequireTool(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		hint := ToolHints[name]
		if hint == "" {
			return "", fmt.Errorf("Couldn't find tool %s: %w", name, err)
		}
		return "", fmt.Errorf("Couldn't find tool %s (try: %s): %w", name, hint, err)
	}
	return path, nil
}

// Run an external tool to completion. Stdout is returned; on failure the
// error includes the exit status and whatever the tool printed
func RunTool(ctx context.Context, tool string, args []string, dir string) (string, error) {
	logger.Infof("Running %s %s", tool, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), fmt.Errorf("%s failed: %w (stderr: %s, stdout: %s)", tool, err,
			strings.TrimSpace(stderr.String()), strings.TrimSpace(stdout.String()))
	}
	return stdout.String(), nil
}

// Anything that can turn a firmware image into an extracted tree
type Extractor interface {
	Extract(ctx context.Context, firmware string) (string, error)
}

// UEFIExtract from the UEFITool project. Produces "<firmware>.dump"
type UEFIExtract struct {
	Path string
}

func DumpDir(firmware string) string {
	return firmware + ".dump"
}

func (u *UEFIExtract) Extract(ctx context.Context, firmware string) (string, error) {
	dump := DumpDir(firmware)
	if err := os.RemoveAll(dump); err != nil {
		return "", fmt.Errorf("Couldn't remove stale dump %s: %w", dump, err)
	}
	if _, err := RunTool(ctx, u.Path, []string{firmware, "all"}, ""); err != nil {
		return "", err
	}
	if stat, err := os.Stat(dump); err != nil || !stat.IsDir() {
		return "", fmt.Errorf("Extraction finished but %s doesn't exist", dump)
	}
	return dump, nil
}

// Reads the firmware off the chip, or writes it back
type Flasher interface {
	Read(ctx context.Context, path string) error
	Write(ctx context.Context, path string) error
}

// flashrom wrapper. Programmer is the --programmer value ("internal" for the
// board's own flash chip)
type Flashrom struct {
	Path       string
	Programmer string
}

// The chip is read into a partial file first, so an interrupted read never
// leaves a truncated image at path
func (f *Flashrom) Read(ctx context.Context, path string) error {
	partial := filepath.Join(filepath.Dir(path), ".partial-"+filepath.Base(path))
	removeQuiet(partial)
	_, err := RunTool(ctx, f.Path, []string{"--programmer", f.Programmer, "-r", partial}, "")
	if err != nil {
		removeQuiet(partial)
		return err
	}
	return renameInto(partial, path)
}

func (f *Flashrom) Write(ctx context.Context, path string) error {
	_, err := RunTool(ctx, f.Path, []string{"--programmer", f.Programmer, "-w", path}, "")
	return err
}

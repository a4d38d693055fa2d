package bioslogo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
)

const (
	// EFI logo section GUID used by most AMI boards
	DefaultLogoGuid   = "7BB28B99-61BB-11D5-9A5D-0090273FC14D"
	DefaultTolerance  = 0.1
	DefaultMinQuality = 1
	DefaultMaxQuality = 95
	DefaultIterations = 10
)

// Where the pipeline writes things
type OutputPaths struct {
	Backup   string `toml:"backup"`   // Firmware as read from the chip
	Modified string `toml:"modified"` // Patched firmware
	Logo     string `toml:"logo"`     // Encoded replacement payload
	Workdir  string `toml:"workdir"`  // Scratch space for encoder trials (default: system temp)
}

// Paths to the external collaborators
type ToolPaths struct {
	UEFIExtract string `toml:"uefiextract"`
	Convert     string `toml:"convert"`
	Flashrom    string `toml:"flashrom"`
	Programmer  string `toml:"programmer"` // flashrom --programmer value
}

type EncoderConfig struct {
	Backend    string `toml:"backend"`    // native, jpegli or magick
	Format     string `toml:"format"`     // Force output format (default: same as original)
	Filter     string `toml:"filter"`     // Resize interpolation for native backends
	Background string `toml:"background"` // Any css color; transparency is flattened onto it
	MinQuality int    `toml:"min_quality"`
	MaxQuality int    `toml:"max_quality"`
	Iterations int    `toml:"iterations"`
}

// All the knobs for a run. Nothing in this package reads globals; it's all
// passed through here
type Config struct {
	Guid        string        `toml:"guid"`
	Tolerance   float64       `toml:"tolerance"`
	HeaderSkips []int         `toml:"header_skips"`
	Output      OutputPaths   `toml:"output"`
	Tools       ToolPaths     `toml:"tools"`
	Encoder     EncoderConfig `toml:"encoder"`
}

func DefaultConfig() Config {
	return Config{
		Guid:        DefaultLogoGuid,
		Tolerance:   DefaultTolerance,
		HeaderSkips: []int{4, 8, 16, 24},
		Output: OutputPaths{
			Backup:   "original_bios.bin",
			Modified: "modified_bios.bin",
			Logo:     "new_logo",
		},
		Tools: ToolPaths{
			UEFIExtract: "UEFIExtract",
			Convert:     "convert",
			Flashrom:    "flashrom",
			Programmer:  "internal",
		},
		Encoder: EncoderConfig{
			Backend:    "native",
			Filter:     "lanczos",
			Background: "#000000",
			MinQuality: DefaultMinQuality,
			MaxQuality: DefaultMaxQuality,
			Iterations: DefaultIterations,
		},
	}
}

// Load a toml config on top of the defaults. Fields not present in the file
// keep their default values
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("Couldn't read config %s: %w", path, err)
	}
	if err = toml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("Couldn't parse config %s: %w", path, err)
	}
	return config, config.Validate()
}

// Environment variables that override the config, for machines where the
// tools live somewhere odd
const (
	EnvGuid        = "BIOSGOTOOLS_GUID"
	EnvUEFIExtract = "BIOSGOTOOLS_UEFIEXTRACT"
	EnvConvert     = "BIOSGOTOOLS_CONVERT"
	EnvFlashrom    = "BIOSGOTOOLS_FLASHROM"
	EnvProgrammer  = "BIOSGOTOOLS_PROGRAMMER"
)

// Apply any of the override variables that are set (and not blank)
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&c.Guid, EnvGuid)
	set(&c.Tools.UEFIExtract, EnvUEFIExtract)
	set(&c.Tools.Convert, EnvConvert)
	set(&c.Tools.Flashrom, EnvFlashrom)
	set(&c.Tools.Programmer, EnvProgrammer)
}

func (c *Config) Validate() error {
	if c.Guid == "" {
		return fmt.Errorf("Config: guid must not be empty")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("Config: tolerance must not be negative (got %f)", c.Tolerance)
	}
	for _, s := range c.HeaderSkips {
		if s <= 0 {
			return fmt.Errorf("Config: header skips must be positive (got %d)", s)
		}
	}
	e := &c.Encoder
	if e.MinQuality < DefaultMinQuality || e.MaxQuality > DefaultMaxQuality || e.MinQuality > e.MaxQuality {
		return fmt.Errorf("Config: bad quality range [%d, %d]", e.MinQuality, e.MaxQuality)
	}
	if e.Iterations < 1 || e.Iterations > DefaultIterations {
		return fmt.Errorf("Config: encoder iterations must be between 1 and %d (got %d)", DefaultIterations, e.Iterations)
	}
	if _, err := ParseFormat(e.Format); err != nil {
		return err
	}
	if _, err := parseFilter(e.Filter); err != nil {
		return err
	}
	return nil
}

// Where the encoded logo ends up: the configured path plus the format's extension
// if the path doesn't already have one
func (o *OutputPaths) LogoPath(format Format) string {
	if filepath.Ext(o.Logo) != "" {
		return o.Logo
	}
	return o.Logo + format.Extension()
}

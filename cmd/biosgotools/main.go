package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/randomouscrap98/biosgotools/bioslogo"
)

const (
	AppVersion = "0.3.0"
)

// Cancelled on ctrl-c, so external tools get killed with us
var appctx = context.Background()

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		log.Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

// Defaults, then the config file (if any), then the environment (a .env file
// counts), then command line overrides
func loadConfig() *bioslogo.Config {
	config := bioslogo.DefaultConfig()
	if cli.Config != "" {
		var err error
		config, err = bioslogo.LoadConfig(cli.Config)
		fatalIfErr(cli.Config, "load config", err)
	}
	_ = godotenv.Load()
	config.ApplyEnv(os.Getenv)
	if cli.Guid != "" {
		config.Guid = cli.Guid
	}
	fatalIfErr("config", "validate", config.Validate())
	return &config
}

// Every command reports its result as json on stdout
func PrintJson(obj interface{}) {
	rawjson, err := json.MarshalIndent(obj, "", "  ")
	fatalIfErr("result", "serialize json", err)
	fmt.Println(string(rawjson))
}

// Default output names get a condensed local timestamp
func fileSafeDateTime() string {
	return time.Now().Format("20060102-150405")
}

func mustHaveTools(names ...string) {
	for _, n := range names {
		_, err := bioslogo.RequireTool(n)
		fatalIfErr(n, "find required tool", err)
	}
}

func mustParseFormat(name string) bioslogo.Format {
	format, err := bioslogo.ParseFormat(name)
	fatalIfErr(name, "parse format", err)
	return format
}

// **********************************
// *       FIRMWARE COMMANDS        *
// **********************************

type ExtractCmd struct {
	Firmware string `arg:"" type:"existingfile" help:"Firmware image to unpack (.bin/.rom, or .hex)"`
}

func (c *ExtractCmd) Run() error {
	config := loadConfig()
	mustHaveTools(config.Tools.UEFIExtract)
	raw, err := bioslogo.RawFirmwarePath(c.Firmware)
	fatalIfErr(c.Firmware, "flatten firmware", err)
	extractor := bioslogo.UEFIExtract{Path: config.Tools.UEFIExtract}
	dump, err := extractor.Extract(appctx, raw)
	fatalIfErr(c.Firmware, "extract firmware", err)
	result := make(map[string]interface{})
	result["Firmware"] = c.Firmware
	result["Dump"] = dump
	PrintJson(result)
	return nil
}

type GuidsCmd struct {
	Dump string `arg:"" type:"existingdir" help:"Extracted tree (the .dump folder)"`
	Max  int    `default:"20" help:"Most GUIDs to list"`
}

func (c *GuidsCmd) Run() error {
	guids, err := bioslogo.SampleGuids(c.Dump, c.Max)
	fatalIfErr(c.Dump, "gather guids", err)
	log.Printf("Found %d GUIDs in %s\n", len(guids), c.Dump)
	PrintJson(guids)
	return nil
}

type LocateCmd struct {
	Dump    string `arg:"" type:"existingdir" help:"Extracted tree (the .dump folder)"`
	Outfile string `type:"path" short:"o" help:"Save the payload here (extension added for known formats)"`
}

func (c *LocateCmd) Run() error {
	config := loadConfig()
	payload, err := bioslogo.Locate(c.Dump, config.Guid, config.HeaderSkips)
	fatalIfErr(c.Dump, "locate logo", err)
	result := make(map[string]interface{})
	result["Guid"] = config.Guid
	result["Section"] = payload.Section
	result["Source"] = payload.Source
	result["Skip"] = payload.Skip
	result["Format"] = payload.Format
	result["Length"] = len(payload.Data)
	result["MD5"] = bioslogo.Md5String(payload.Data)
	result["ContainerLength"] = len(payload.Container)
	if payload.Format != bioslogo.FormatUnknown {
		w, h, err := bioslogo.ImageDimensions(payload.Data)
		if err != nil {
			log.Printf("WARN: Couldn't read logo dimensions: %s\n", err)
		} else {
			result["Width"] = w
			result["Height"] = h
		}
	} else {
		log.Printf("WARN: %s\n", bioslogo.ErrFormatUnrecognized)
	}
	if c.Outfile != "" {
		if filepath.Ext(c.Outfile) == "" {
			c.Outfile += payload.Format.Extension()
		}
		err = bioslogo.WriteFileAtomic(c.Outfile, payload.Data, 0644)
		fatalIfErr(c.Outfile, "save payload", err)
		result["Outfile"] = c.Outfile
	}
	PrintJson(result)
	return nil
}

type SniffCmd struct {
	Infile string `arg:"" type:"existingfile" help:"Any file that might have an image in it"`
}

func (c *SniffCmd) Run() error {
	config := loadConfig()
	raw, err := os.ReadFile(c.Infile)
	fatalIfErr(c.Infile, "read file", err)
	data, format, skip := bioslogo.SniffWithSkips(c.Infile, raw, config.HeaderSkips)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Format"] = format
	result["Skip"] = skip
	result["Length"] = len(data)
	if format != bioslogo.FormatUnknown {
		w, h, err := bioslogo.ImageDimensions(data)
		if err == nil {
			result["Width"] = w
			result["Height"] = h
		}
	}
	PrintJson(result)
	return nil
}

type EncodeCmd struct {
	Source  string `arg:"" type:"existingfile" help:"New logo image"`
	Size    int    `required:"" help:"Target size in bytes (the original logo's length)"`
	Width   int    `required:"" help:"Output width"`
	Height  int    `required:"" help:"Output height"`
	Format  string `default:"jpeg" help:"Output format (jpeg, bmp, png)"`
	Outfile string `type:"path" short:"o"`
}

func (c *EncodeCmd) Run() error {
	config := loadConfig()
	format := mustParseFormat(c.Format)
	if c.Outfile == "" {
		c.Outfile = config.Output.LogoPath(format)
	}
	if strings.ToLower(config.Encoder.Backend) == bioslogo.BackendMagick {
		mustHaveTools(config.Tools.Convert)
	}
	enc, err := bioslogo.NewEncoder(&config.Encoder, &config.Tools)
	fatalIfErr("encode", "create encoder", err)
	result, err := bioslogo.MatchSize(appctx, enc, bioslogo.EncodeRequest{
		Source:     c.Source,
		Output:     c.Outfile,
		Width:      c.Width,
		Height:     c.Height,
		Format:     format,
		MinQuality: config.Encoder.MinQuality,
		MaxQuality: config.Encoder.MaxQuality,
		Iterations: config.Encoder.Iterations,
		Workdir:    config.Output.Workdir,
	}, bioslogo.Budget{Target: c.Size, Tolerance: config.Tolerance})
	fatalIfErr(c.Source, "encode to size", err)
	PrintJson(result)
	return nil
}

type PatchCmd struct {
	Firmware    string `arg:"" type:"existingfile" help:"Firmware image to patch"`
	Original    string `type:"existingfile" required:"" help:"Original logo payload (as saved by locate)"`
	Container   string `type:"existingfile" help:"Section body to replace if the payload itself isn't found"`
	Replacement string `type:"existingfile" required:"" help:"New logo payload"`
	AllowResize bool   `help:"Zero pad or truncate the replacement to fit (NOT RECOMMENDED)"`
	Outfile     string `type:"path" short:"o"`
}

func (c *PatchCmd) Run() error {
	config := loadConfig()
	if c.Outfile == "" {
		c.Outfile = config.Output.Modified
	}
	firmware, err := bioslogo.ReadFirmware(c.Firmware)
	fatalIfErr(c.Firmware, "read firmware", err)
	original, err := os.ReadFile(c.Original)
	fatalIfErr(c.Original, "read original payload", err)
	var container []byte
	if c.Container != "" {
		container, err = os.ReadFile(c.Container)
		fatalIfErr(c.Container, "read container", err)
	}
	replacement, err := os.ReadFile(c.Replacement)
	fatalIfErr(c.Replacement, "read replacement", err)
	patch, err := bioslogo.Patch(firmware, original, container, replacement, c.AllowResize)
	fatalIfErr(c.Firmware, "patch logo", err)
	err = bioslogo.WriteFirmware(c.Outfile, patch.Data)
	fatalIfErr(c.Outfile, "write modified firmware", err)
	result := make(map[string]interface{})
	result["Firmware"] = c.Firmware
	result["Outfile"] = c.Outfile
	result["Offset"] = patch.Offset
	result["Replaced"] = patch.Replaced
	result["UsedContainer"] = patch.UsedContainer
	result["Padded"] = patch.Padded
	result["Truncated"] = patch.Truncated
	result["Length"] = len(patch.Data)
	result["MD5"] = bioslogo.Md5String(patch.Data)
	PrintJson(result)
	return nil
}

type ReplaceCmd struct {
	Logo        string `arg:"" type:"existingfile" help:"New logo image"`
	Firmware    string `type:"existingfile" short:"f" help:"Use this firmware image instead of reading the chip"`
	Width       int    `help:"Manual logo width (skips detection; needs --height)"`
	Height      int    `help:"Manual logo height (skips detection; needs --width)"`
	AllowResize bool   `help:"Zero pad or truncate the new logo to fit (NOT RECOMMENDED)"`
	Flash       bool   `help:"Write the modified firmware to the chip afterwards"`
	Yes         bool   `help:"Confirm flashing; without this, --flash refuses"`
	Clean       bool   `help:"Remove the extracted tree afterwards"`
	Rebackup    bool   `help:"Read the chip again even if the backup file already exists"`
}

func (c *ReplaceCmd) Run() error {
	config := loadConfig()
	tools := []string{config.Tools.UEFIExtract}
	_, err := os.Stat(config.Output.Backup)
	needRead := c.Firmware == "" && (err != nil || c.Rebackup)
	if needRead || c.Flash {
		tools = append(tools, config.Tools.Flashrom)
	}
	if strings.ToLower(config.Encoder.Backend) == bioslogo.BackendMagick {
		tools = append(tools, config.Tools.Convert)
	}
	mustHaveTools(tools...)
	collab, err := bioslogo.DefaultCollaborators(config)
	fatalIfErr("replace", "set up tools", err)
	log.Printf("WARNING: modifying firmware is risky; keep the backup somewhere safe\n")
	result, err := bioslogo.Replace(appctx, &bioslogo.ReplaceOptions{
		Config:      *config,
		Logo:        c.Logo,
		Firmware:    c.Firmware,
		Width:       c.Width,
		Height:      c.Height,
		AllowResize: c.AllowResize,
		Rebackup:    c.Rebackup,
		Flash:       c.Flash,
		Confirmed:   c.Yes,
	}, collab)
	if result != nil {
		PrintJson(result)
	}
	fatalIfErr(c.Logo, "replace logo", err)
	if c.Clean {
		_, err = bioslogo.Cleanup(bioslogo.ScratchPaths(result.Firmware))
		fatalIfErr(result.Firmware, "clean up", err)
	}
	if !result.Flashed {
		log.Printf("Not flashed. To flash manually: %s --programmer %s -w %s\n",
			config.Tools.Flashrom, config.Tools.Programmer, result.Modified)
	}
	return nil
}

type CleanCmd struct {
	Firmware string `arg:"" type:"path" help:"Firmware image a previous run extracted"`
}

func (c *CleanCmd) Run() error {
	removed, err := bioslogo.Cleanup(bioslogo.ScratchPaths(c.Firmware))
	fatalIfErr(c.Firmware, "clean up", err)
	PrintJson(removed)
	return nil
}

// **********************************
// *         CHIP COMMANDS          *
// **********************************

func flashrom(config *bioslogo.Config) *bioslogo.Flashrom {
	mustHaveTools(config.Tools.Flashrom)
	return &bioslogo.Flashrom{Path: config.Tools.Flashrom, Programmer: config.Tools.Programmer}
}

type ChipReadCmd struct {
	Outfile string `type:"path" short:"o"`
}

func (c *ChipReadCmd) Run() error {
	config := loadConfig()
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("bios_%s.bin", fileSafeDateTime())
	}
	err := flashrom(config).Read(appctx, c.Outfile)
	fatalIfErr(config.Tools.Programmer, "read chip", err)
	data, err := os.ReadFile(c.Outfile)
	fatalIfErr(c.Outfile, "read back firmware", err)
	result := make(map[string]interface{})
	result["Outfile"] = c.Outfile
	result["Length"] = len(data)
	result["MD5"] = bioslogo.Md5String(data)
	PrintJson(result)
	return nil
}

type ChipWriteCmd struct {
	Infile string `arg:"" type:"existingfile" help:"Firmware image to flash (.hex is flattened first)"`
	Yes    bool   `help:"Actually do it"`
}

func (c *ChipWriteCmd) Run() error {
	config := loadConfig()
	if !c.Yes {
		log.Fatalf("Refusing to flash %s without --yes\n", c.Infile)
	}
	raw, err := bioslogo.RawFirmwarePath(c.Infile)
	fatalIfErr(c.Infile, "flatten firmware", err)
	data, err := os.ReadFile(raw)
	fatalIfErr(raw, "read firmware", err)
	err = flashrom(config).Write(appctx, raw)
	fatalIfErr(config.Tools.Programmer, "write chip", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Length"] = len(data)
	result["MD5"] = bioslogo.Md5String(data)
	PrintJson(result)
	return nil
}

type ToolsCmd struct {
}

func (c *ToolsCmd) Run() error {
	config := loadConfig()
	result := make(map[string]interface{})
	for _, t := range []string{config.Tools.UEFIExtract, config.Tools.Convert, config.Tools.Flashrom} {
		path, err := bioslogo.RequireTool(t)
		if err != nil {
			result[t] = err.Error()
		} else {
			result[t] = path
		}
	}
	PrintJson(result)
	return nil
}

// **********************************
// *         HEX COMMANDS           *
// **********************************

type Hex2BinCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"bios.hex" short:"i"`
}

func (c *Hex2BinCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("bios_hex2bin_%s.bin", fileSafeDateTime())
	}
	bin, err := bioslogo.ReadFirmware(c.Infile)
	fatalIfErr("hex2bin", "convert hex", err)
	log.Printf("Hex real data length is %d\n", len(bin))
	err = bioslogo.WriteFirmware(c.Outfile, bin)
	fatalIfErr("hex2bin", "write bin file", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Length"] = len(bin)
	result["MD5"] = bioslogo.Md5String(bin)
	PrintJson(result)
	return nil
}

type Bin2HexCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"bios.bin" short:"i"`
}

func (c *Bin2HexCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("bios_bin2hex_%s.hex", fileSafeDateTime())
	}
	bin, err := os.ReadFile(c.Infile)
	fatalIfErr("bin2hex", "read bin file", err)
	err = bioslogo.WriteFirmware(c.Outfile, bin)
	fatalIfErr("bin2hex", "convert bin", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Length"] = len(bin)
	result["MD5"] = bioslogo.Md5String(bin)
	PrintJson(result)
	return nil
}

// **********************************
// *    ALL TOGETHER COMMANDS       *
// **********************************

var cli struct {
	Replace ReplaceCmd `cmd:"" help:"Back up, extract, locate, re-encode, patch and (optionally) flash in one go"`
	Logo    struct {
		Extract ExtractCmd `cmd:"" help:"Unpack firmware with UEFIExtract"`
		Guids   GuidsCmd   `cmd:"" help:"List GUIDs found in an extracted tree"`
		Locate  LocateCmd  `cmd:"" help:"Find the logo payload in an extracted tree"`
		Sniff   SniffCmd   `cmd:"" help:"Check a file for image magic, trying each header skip"`
		Encode  EncodeCmd  `cmd:"" help:"Re-encode an image as close to a byte size as possible"`
		Patch   PatchCmd   `cmd:"" help:"Swap a payload inside a firmware image"`
		Clean   CleanCmd   `cmd:"" help:"Remove extraction leftovers for a firmware image"`
	} `cmd:"" help:"Individual steps of the logo replacement, for doing it by hand"`
	Chip struct {
		Read  ChipReadCmd  `cmd:"" help:"Read the firmware chip to a file with flashrom"`
		Write ChipWriteCmd `cmd:"" help:"Write a firmware image to the chip with flashrom"`
		Tools ToolsCmd     `cmd:"" help:"Check that the external tools can be found"`
	} `cmd:"" help:"Commands which talk to the firmware chip"`
	Hex struct {
		Hex2Bin Hex2BinCmd `cmd:"" help:"Convert firmware hex to bin" name:"hex2bin"`
		Bin2Hex Bin2HexCmd `cmd:"" help:"Convert firmware bin to hex" name:"bin2hex"`
	} `cmd:"" help:"Intel hex conversion"`
	Config  string           `type:"existingfile" short:"c" help:"TOML config file (defaults fill anything missing)"`
	Guid    string           `help:"GUID of the logo section (overrides config)"`
	Verbose bool             `short:"v" help:"Log every step, including each header skip tried"`
	Version kong.VersionFlag `help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("biosgotools"),
		kong.ShortUsageOnError(),
		kong.Description("A set of tools for replacing the boot logo in UEFI firmware"),
		kong.Vars{
			"version": AppVersion,
		},
	)
	logger := bioslogo.NewLogger(cli.Verbose)
	defer logger.Sync()
	bioslogo.SetLogger(logger)
	var stop context.CancelFunc
	appctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

package bioslogo

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mazznoer/csscolorparser"
	"github.com/nfnt/resize"
)

const (
	BackendNative = "native"
	BackendJpegli = "jpegli"
	BackendMagick = "magick"
)

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos":  resize.Lanczos3,
}

func parseFilter(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return resize.Lanczos3, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("Unknown resize filter '%s'", name)
	}
	return f, nil
}

func parseBackground(css string) (color.Color, error) {
	if css == "" {
		return color.Black, nil
	}
	c, err := csscolorparser.Parse(css)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse background color '%s': %w", css, err)
	}
	r, g, b, a := c.RGBA255()
	return color.NRGBA{R: r, G: g, B: b, A: a}, nil
}

// Build the encoder named in the config
func NewEncoder(config *EncoderConfig, tools *ToolPaths) (Encoder, error) {
	switch strings.ToLower(config.Backend) {
	case BackendMagick:
		return &MagickEncoder{Path: tools.Convert}, nil
	case BackendNative, BackendJpegli, "":
		filter, err := parseFilter(config.Filter)
		if err != nil {
			return nil, err
		}
		bg, err := parseBackground(config.Background)
		if err != nil {
			return nil, err
		}
		prep := imagePreparer{Filter: filter, Background: bg}
		if strings.ToLower(config.Backend) == BackendJpegli {
			return &JpegliEncoder{imagePreparer: prep}, nil
		}
		return &NativeEncoder{imagePreparer: prep}, nil
	}
	return nil, fmt.Errorf("Unknown encoder backend '%s' (use native, jpegli or magick)", config.Backend)
}

// Loads, resizes and flattens the source image. The search re-encodes the
// same image over and over, so recent results are kept around
type imagePreparer struct {
	Filter     resize.InterpolationFunction
	Background color.Color

	cache *lru.Cache[string, image.Image]
}

const preparedCacheSize = 4

func (p *imagePreparer) prepare(src string, width int, height int) (image.Image, error) {
	if p.cache == nil {
		cache, err := lru.New[string, image.Image](preparedCacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	key := fmt.Sprintf("%s|%dx%d", src, width, height)
	if img, ok := p.cache.Get(key); ok {
		return img, nil
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("Couldn't open source image %s: %w", src, err)
	}
	// Firmware logos are a fixed size; aspect ratio is NOT preserved
	resized := resize.Resize(uint(width), uint(height), img, p.Filter)
	bg := p.Background
	if bg == nil {
		bg = color.Black
	}
	flat := imaging.Overlay(imaging.New(width, height, bg), resized, image.Pt(0, 0), 1.0)
	p.cache.Add(key, flat)
	return flat, nil
}

// Pure go encoder using the standard library codecs (through imaging)
type NativeEncoder struct {
	imagePreparer
}

func (e *NativeEncoder) Encode(ctx context.Context, src string, dst string, width int, height int,
	quality int, format Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	iformat, err := format.imagingFormat()
	if err != nil {
		return err
	}
	img, err := e.prepare(src, width, height)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = imaging.Encode(&buf, img, iformat, imaging.JPEGQuality(quality)); err != nil {
		return err
	}
	return WriteFileAtomic(dst, buf.Bytes(), 0644)
}

// JPEG only, but usually smaller output for the same quality than the native one
type JpegliEncoder struct {
	imagePreparer
}

func (e *JpegliEncoder) Encode(ctx context.Context, src string, dst string, width int, height int,
	quality int, format Format) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if format != FormatJPEG {
		return fmt.Errorf("Jpegli can only produce jpeg, not %s", format)
	}
	img, err := e.prepare(src, width, height)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	err = jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
		Quality:           quality,
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	})
	if err != nil {
		return err
	}
	return WriteFileAtomic(dst, buf.Bytes(), 0644)
}

// Shells out to ImageMagick's convert
type MagickEncoder struct {
	Path string
}

func (e *MagickEncoder) Encode(ctx context.Context, src string, dst string, width int, height int,
	quality int, format Format) error {
	if format == FormatUnknown {
		return fmt.Errorf("Can't ask convert for an unknown format")
	}
	// convert picks the format from the extension, so keep it on the partial file
	partial := filepath.Join(filepath.Dir(dst), ".partial-"+filepath.Base(dst))
	_, err := RunTool(ctx, e.Path, []string{
		src,
		"-resize", fmt.Sprintf("%dx%d!", width, height),
		"-quality", strconv.Itoa(quality),
		format.String() + ":" + partial,
	}, "")
	if err != nil {
		removeQuiet(partial)
		return err
	}
	return renameInto(partial, dst)
}

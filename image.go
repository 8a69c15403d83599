package stegfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path"
	"strings"

	"github.com/absfs/absfs"
	"golang.org/x/image/bmp"
)

// Format identifies a supported cover image format.
type Format uint8

const (
	// FormatPNG is a PNG cover image, written without compression or row
	// filtering so rewrites are deterministic and cheap.
	FormatPNG Format = iota
	// FormatBMP is an uncompressed Windows bitmap cover image.
	FormatBMP
	// FormatTGA is a Truevision TGA cover image.
	FormatTGA
)

// String returns the conventional upper-case name of the format.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "PNG"
	case FormatBMP:
		return "BMP"
	case FormatTGA:
		return "TGA"
	default:
		return "unknown"
	}
}

// formatForPath classifies a cover file by its extension, case-insensitive.
func formatForPath(name string) (Format, error) {
	switch strings.ToUpper(strings.TrimPrefix(path.Ext(name), ".")) {
	case "PNG":
		return FormatPNG, nil
	case "BMP":
		return FormatBMP, nil
	case "TGA":
		return FormatTGA, nil
	default:
		return 0, ErrUnsupportedFormat
	}
}

// geometry is a cover image's shape: pixel dimensions and interleaved
// sample channels per pixel. Two covers with equal geometry hold the same
// number of hidden bytes; a geometry change is how external modification of
// a cover is detected.
type geometry struct {
	width    int
	height   int
	channels int
}

func (g geometry) samples() int64 {
	return int64(g.width) * int64(g.height) * int64(g.channels)
}

// hiddenCapacity is the number of whole bytes the image can hide: one bit
// per sample, eight samples per byte. Up to seven trailing samples go
// unused.
func (g geometry) hiddenCapacity() int64 {
	return g.samples() / 8
}

func (g geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.width, g.height, g.channels)
}

// ImageCodec hides a region's bytes in the least significant bits of a
// cover image's samples. Capacity is fixed by the image's geometry at
// construction; any later geometry change is reported as the file having
// changed, because decoding hidden data out of a reshaped image would
// return garbage and re-embedding into it would destroy the cover.
//
// Bit ordering is fixed for cover-file interchange: byte i of the hidden
// data lives in samples 8i..8i+7 in row-major, channel-interleaved order,
// least significant bit first.
type ImageCodec struct {
	fsys   absfs.FileSystem
	path   string
	format Format
	geom   geometry
}

// NewImageCodec creates a codec over the cover image at path. The format
// is classified by extension; the geometry is read from the image header.
//
// Two shapes are rejected outright because the encoders cannot write them
// back with the same channel count, which would trip the change guard on
// the second sync: 4-channel BMPs (written back as 3-channel) and
// 2-channel gray+alpha PNGs (written back as 4-channel).
func NewImageCodec(fsys absfs.FileSystem, name string) (*ImageCodec, error) {
	if fsys == nil {
		return nil, &ArgumentError{Field: "fsys", Message: "filesystem cannot be nil", Err: ErrNilFileSystem}
	}

	format, err := formatForPath(name)
	if err != nil {
		return nil, NewBackingStoreError("probe", name, err)
	}

	c := &ImageCodec{fsys: fsys, path: name, format: format}

	geom, err := c.readGeometry()
	if err != nil {
		return nil, err
	}

	if format == FormatBMP && geom.channels == 4 {
		return nil, NewBackingStoreError("probe", name, ErrFourChannelBMP)
	}
	if format == FormatPNG && geom.channels == 2 {
		return nil, NewBackingStoreError("probe", name, ErrGrayAlphaPNG)
	}

	c.geom = geom
	return c, nil
}

// Format returns the codec's cover image format.
func (c *ImageCodec) Format() Format {
	return c.format
}

// Probe re-reads the cover's header and reports the hidden-byte capacity.
// A geometry change since construction fails with ErrFileChanged.
func (c *ImageCodec) Probe() (int64, error) {
	geom, err := c.readGeometry()
	if err != nil {
		return 0, err
	}
	if geom != c.geom {
		return 0, NewBackingStoreError("probe", c.path,
			fmt.Errorf("%w: image is now %s, was %s", ErrFileChanged, geom, c.geom))
	}
	return c.geom.hiddenCapacity(), nil
}

// Decode extracts the hidden bytes from the cover image into buf.
func (c *ImageCodec) Decode(buf []byte) error {
	samples, err := c.readSamples("decode")
	if err != nil {
		return err
	}

	extractLSB(samples, buf)
	return nil
}

// Encode embeds buf into the cover image's sample LSBs and rewrites the
// file, preserving every other bit of every sample. The rewrite goes
// through a temporary file and a rename, so a failed encode leaves the
// original cover intact.
func (c *ImageCodec) Encode(buf []byte) error {
	samples, err := c.readSamples("encode")
	if err != nil {
		return err
	}

	embedLSB(samples, buf)

	if err := atomicWrite(c.fsys, c.path, func(f absfs.File) error {
		return encodeImage(f, c.format, c.geom, samples)
	}); err != nil {
		return NewBackingStoreError("encode", c.path, err)
	}
	return nil
}

// readGeometry parses the image header without decoding pixel data.
func (c *ImageCodec) readGeometry() (geometry, error) {
	f, err := c.fsys.OpenFile(c.path, os.O_RDONLY, 0)
	if err != nil {
		return geometry{}, NewBackingStoreError("probe", c.path, err)
	}
	defer f.Close()

	header := make([]byte, 64)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return geometry{}, NewBackingStoreError("probe", c.path, err)
	}

	geom, err := parseHeader(c.format, header[:n])
	if err != nil {
		return geometry{}, NewBackingStoreError("probe", c.path, err)
	}
	return geom, nil
}

// readSamples fully decodes the cover into interleaved samples, verifying
// the geometry against what was recorded at construction.
func (c *ImageCodec) readSamples(operation string) ([]byte, error) {
	f, err := c.fsys.OpenFile(c.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewBackingStoreError(operation, c.path, err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, NewBackingStoreError(operation, c.path, err)
	}

	geom, err := parseHeader(c.format, data)
	if err != nil {
		return nil, NewBackingStoreError(operation, c.path, err)
	}
	if geom != c.geom {
		return nil, NewBackingStoreError(operation, c.path,
			fmt.Errorf("%w: image is now %s, was %s", ErrFileChanged, geom, c.geom))
	}

	samples, err := decodeSamples(c.format, c.geom, data)
	if err != nil {
		return nil, NewBackingStoreError(operation, c.path, err)
	}
	return samples, nil
}

// extractLSB assembles hidden bytes from sample LSBs: byte i is built from
// the least significant bits of samples 8i..8i+7, bit 0 first.
func extractLSB(samples, buf []byte) {
	for i := range buf {
		loc := i * 8
		var b byte
		for bit := 0; bit < 8; bit++ {
			b |= (samples[loc+bit] & 1) << bit
		}
		buf[i] = b
	}
}

// embedLSB writes each byte of buf into the LSBs of eight consecutive
// samples, leaving the upper seven bits of every sample alone.
func embedLSB(samples, buf []byte) {
	for i := range buf {
		loc := i * 8
		for bit := 0; bit < 8; bit++ {
			samples[loc+bit] = samples[loc+bit]&^1 | (buf[i]>>bit)&1
		}
	}
}

// parseHeader reads (width, height, channels) from an image file's leading
// bytes.
func parseHeader(format Format, data []byte) (geometry, error) {
	switch format {
	case FormatPNG:
		return parsePNGHeader(data)
	case FormatBMP:
		return parseBMPHeader(data)
	case FormatTGA:
		return parseTGAHeader(data)
	default:
		return geometry{}, ErrUnsupportedFormat
	}
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// parsePNGHeader reads the IHDR chunk. Only 8-bit samples are supported;
// the color type maps to the channel count, with paletted images counted
// as 3-channel because their palette is expanded to RGB on decode.
func parsePNGHeader(data []byte) (geometry, error) {
	// Signature, IHDR length+type, then 13 bytes of IHDR payload.
	if len(data) < 8+8+13 || !bytes.Equal(data[:8], pngSignature) {
		return geometry{}, fmt.Errorf("not a PNG file")
	}
	if string(data[12:16]) != "IHDR" {
		return geometry{}, fmt.Errorf("malformed PNG: first chunk is not IHDR")
	}

	width := int(binary.BigEndian.Uint32(data[16:20]))
	height := int(binary.BigEndian.Uint32(data[20:24]))
	bitDepth := data[24]
	colorType := data[25]

	if bitDepth != 8 {
		return geometry{}, fmt.Errorf("%w: %d-bit PNG", ErrUnsupportedFormat, bitDepth)
	}

	var channels int
	switch colorType {
	case 0: // grayscale
		channels = 1
	case 2, 3: // truecolor, paletted (expanded to RGB)
		channels = 3
	case 4: // gray+alpha
		channels = 2
	case 6: // truecolor+alpha
		channels = 4
	default:
		return geometry{}, fmt.Errorf("%w: PNG color type %d", ErrUnsupportedFormat, colorType)
	}

	return geometry{width: width, height: height, channels: channels}, nil
}

// parseBMPHeader reads the BITMAPINFOHEADER. Only uncompressed 8-, 24- and
// 32-bit images are supported.
func parseBMPHeader(data []byte) (geometry, error) {
	if len(data) < 34 || data[0] != 'B' || data[1] != 'M' {
		return geometry{}, fmt.Errorf("not a BMP file")
	}

	width := int(int32(binary.LittleEndian.Uint32(data[18:22])))
	height := int(int32(binary.LittleEndian.Uint32(data[22:26])))
	if height < 0 { // top-down rows
		height = -height
	}
	bitCount := binary.LittleEndian.Uint16(data[28:30])
	compression := binary.LittleEndian.Uint32(data[30:34])

	if compression != 0 {
		return geometry{}, fmt.Errorf("%w: compressed BMP", ErrUnsupportedFormat)
	}

	var channels int
	switch bitCount {
	case 8:
		channels = 1
	case 24:
		channels = 3
	case 32:
		channels = 4
	default:
		return geometry{}, fmt.Errorf("%w: %d-bit BMP", ErrUnsupportedFormat, bitCount)
	}

	return geometry{width: width, height: height, channels: channels}, nil
}

// decodeSamples fully decodes an image into row-major, channel-interleaved
// 8-bit samples matching the probed geometry.
func decodeSamples(format Format, geom geometry, data []byte) ([]byte, error) {
	switch format {
	case FormatPNG:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return flatten(img, geom)
	case FormatBMP:
		img, err := bmp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return flatten(img, geom)
	case FormatTGA:
		return decodeTGA(data, geom)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// encodeImage writes samples back out in the cover's original format.
func encodeImage(w io.Writer, format Format, geom geometry, samples []byte) error {
	switch format {
	case FormatPNG:
		encoder := &png.Encoder{CompressionLevel: png.NoCompression}
		return encoder.Encode(w, buildImage(geom, samples))
	case FormatBMP:
		return bmp.Encode(w, buildImage(geom, samples))
	case FormatTGA:
		return encodeTGA(w, geom, samples)
	default:
		return ErrUnsupportedFormat
	}
}

// flatten converts a decoded image into interleaved samples. The common
// decoder output types are copied row by row; anything else goes through
// the color model, which is exact for opaque pixels.
func flatten(img image.Image, geom geometry) ([]byte, error) {
	bounds := img.Bounds()
	if bounds.Dx() != geom.width || bounds.Dy() != geom.height {
		return nil, fmt.Errorf("%w: decoded %dx%d, header says %dx%d",
			ErrFileChanged, bounds.Dx(), bounds.Dy(), geom.width, geom.height)
	}

	samples := make([]byte, geom.samples())

	switch geom.channels {
	case 1:
		flattenGray(img, geom, samples)
	case 3:
		flattenRGB(img, geom, samples)
	case 4:
		flattenRGBA(img, geom, samples)
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, geom.channels)
	}
	return samples, nil
}

func flattenGray(img image.Image, geom geometry, samples []byte) {
	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < geom.height; y++ {
			copy(samples[y*geom.width:], g.Pix[y*g.Stride:y*g.Stride+geom.width])
		}
		return
	}
	bounds := img.Bounds()
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			samples[i] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			i++
		}
	}
}

func flattenRGB(img image.Image, geom geometry, samples []byte) {
	switch m := img.(type) {
	case *image.RGBA:
		flattenInterleaved(m.Pix, m.Stride, geom, samples, 4, 3)
	case *image.NRGBA:
		flattenInterleaved(m.Pix, m.Stride, geom, samples, 4, 3)
	default:
		// Paletted images and anything exotic: opaque pixels round-trip
		// exactly through RGBA().
		bounds := img.Bounds()
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				samples[i+0] = byte(r >> 8)
				samples[i+1] = byte(g >> 8)
				samples[i+2] = byte(b >> 8)
				i += 3
			}
		}
	}
}

func flattenRGBA(img image.Image, geom geometry, samples []byte) {
	switch m := img.(type) {
	case *image.NRGBA:
		flattenInterleaved(m.Pix, m.Stride, geom, samples, 4, 4)
	default:
		// Straight (non-premultiplied) alpha is required so the alpha
		// samples carry their original bits.
		bounds := img.Bounds()
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				samples[i+0] = c.R
				samples[i+1] = c.G
				samples[i+2] = c.B
				samples[i+3] = c.A
				i += 4
			}
		}
	}
}

// flattenInterleaved copies the first outCh of inCh interleaved channels
// from pix into samples, row by row.
func flattenInterleaved(pix []byte, stride int, geom geometry, samples []byte, inCh, outCh int) {
	for y := 0; y < geom.height; y++ {
		row := pix[y*stride:]
		out := samples[y*geom.width*outCh:]
		for x := 0; x < geom.width; x++ {
			copy(out[x*outCh:x*outCh+outCh], row[x*inCh:x*inCh+outCh])
		}
	}
}

// buildImage wraps interleaved samples in an image for the PNG and BMP
// encoders, choosing the representation that makes the encoder keep the
// cover's channel count.
func buildImage(geom geometry, samples []byte) image.Image {
	rect := image.Rect(0, 0, geom.width, geom.height)

	switch geom.channels {
	case 1:
		img := image.NewGray(rect)
		for y := 0; y < geom.height; y++ {
			copy(img.Pix[y*img.Stride:], samples[y*geom.width:(y+1)*geom.width])
		}
		return img
	case 3:
		// Opaque NRGBA: the PNG encoder writes it as 8-bit truecolor and
		// the BMP encoder as 24-bit, so a 3-channel cover stays 3-channel.
		img := image.NewNRGBA(rect)
		for y := 0; y < geom.height; y++ {
			row := img.Pix[y*img.Stride:]
			in := samples[y*geom.width*3:]
			for x := 0; x < geom.width; x++ {
				copy(row[x*4:x*4+3], in[x*3:x*3+3])
				row[x*4+3] = 0xff
			}
		}
		return img
	case 4:
		img := image.NewNRGBA(rect)
		for y := 0; y < geom.height; y++ {
			copy(img.Pix[y*img.Stride:], samples[y*geom.width*4:(y+1)*geom.width*4])
		}
		// Force the alpha channel to survive encoding even if every alpha
		// sample happens to be 0xff: an opaque NRGBA would otherwise be
		// written as truecolor and come back 3-channel.
		return neverOpaque{img}
	default:
		return nil
	}
}

// neverOpaque defeats the PNG encoder's opacity probe so 4-channel covers
// are always written with their alpha channel.
type neverOpaque struct {
	*image.NRGBA
}

func (neverOpaque) Opaque() bool {
	return false
}

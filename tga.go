package stegfs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TGA support. Neither the example pack nor golang.org/x/image carries a
// TGA codec, and the change guard demands an encoder that preserves the
// sample-channel count exactly, so the format is handled here directly.
// The on-disk pixel order is BGR(A), usually bottom-up; samples are
// exposed to the rest of the package as top-down RGB(A) like every other
// format. Grayscale (type 3), truecolor (type 2) and their RLE variants
// (11, 10) are read; files are always written uncompressed with a
// top-left origin.

const tgaHeaderSize = 18

const (
	tgaTypeTruecolor    = 2
	tgaTypeGrayscale    = 3
	tgaTypeTruecolorRLE = 10
	tgaTypeGrayscaleRLE = 11
)

// parseTGAHeader reads (width, height, channels) from a TGA header.
func parseTGAHeader(data []byte) (geometry, error) {
	if len(data) < tgaHeaderSize {
		return geometry{}, fmt.Errorf("not a TGA file: truncated header")
	}

	colorMapType := data[1]
	imageType := data[2]
	width := int(binary.LittleEndian.Uint16(data[12:14]))
	height := int(binary.LittleEndian.Uint16(data[14:16]))
	depth := data[16]

	if colorMapType != 0 {
		return geometry{}, fmt.Errorf("%w: color-mapped TGA", ErrUnsupportedFormat)
	}

	var channels int
	switch imageType {
	case tgaTypeGrayscale, tgaTypeGrayscaleRLE:
		if depth != 8 {
			return geometry{}, fmt.Errorf("%w: %d-bit grayscale TGA", ErrUnsupportedFormat, depth)
		}
		channels = 1
	case tgaTypeTruecolor, tgaTypeTruecolorRLE:
		switch depth {
		case 24:
			channels = 3
		case 32:
			channels = 4
		default:
			return geometry{}, fmt.Errorf("%w: %d-bit truecolor TGA", ErrUnsupportedFormat, depth)
		}
	default:
		return geometry{}, fmt.Errorf("%w: TGA image type %d", ErrUnsupportedFormat, imageType)
	}

	return geometry{width: width, height: height, channels: channels}, nil
}

// decodeTGA decodes the pixel data into top-down RGB(A) samples.
func decodeTGA(data []byte, geom geometry) ([]byte, error) {
	if len(data) < tgaHeaderSize {
		return nil, fmt.Errorf("not a TGA file: truncated header")
	}

	idLength := int(data[0])
	imageType := data[2]
	descriptor := data[17]
	topDown := descriptor&0x20 != 0

	if len(data) < tgaHeaderSize+idLength {
		return nil, fmt.Errorf("truncated TGA id field")
	}

	bpp := geom.channels
	pixelData := data[tgaHeaderSize+idLength:]

	raw := make([]byte, geom.samples())
	switch imageType {
	case tgaTypeTruecolor, tgaTypeGrayscale:
		if len(pixelData) < len(raw) {
			return nil, fmt.Errorf("truncated TGA pixel data: have %d bytes, need %d", len(pixelData), len(raw))
		}
		copy(raw, pixelData)
	case tgaTypeTruecolorRLE, tgaTypeGrayscaleRLE:
		if err := decodeTGARLE(pixelData, raw, bpp); err != nil {
			return nil, err
		}
	}

	samples := make([]byte, len(raw))
	rowSize := geom.width * bpp
	for y := 0; y < geom.height; y++ {
		srcY := y
		if !topDown {
			srcY = geom.height - 1 - y
		}
		row := raw[srcY*rowSize : srcY*rowSize+rowSize]
		out := samples[y*rowSize:]
		for x := 0; x < geom.width; x++ {
			px := row[x*bpp : x*bpp+bpp]
			switch bpp {
			case 1:
				out[x] = px[0]
			case 3:
				out[x*3+0] = px[2] // stored BGR
				out[x*3+1] = px[1]
				out[x*3+2] = px[0]
			case 4:
				out[x*4+0] = px[2] // stored BGRA
				out[x*4+1] = px[1]
				out[x*4+2] = px[0]
				out[x*4+3] = px[3]
			}
		}
	}
	return samples, nil
}

// decodeTGARLE expands run-length packets into dst. Each packet header
// byte carries a 7-bit count; the high bit selects a run (one pixel
// repeated) over a literal block.
func decodeTGARLE(src, dst []byte, bpp int) error {
	s, d := 0, 0
	for d < len(dst) {
		if s >= len(src) {
			return fmt.Errorf("truncated TGA RLE stream")
		}
		header := src[s]
		s++
		count := int(header&0x7f) + 1

		if header&0x80 != 0 {
			if s+bpp > len(src) {
				return fmt.Errorf("truncated TGA RLE stream")
			}
			for i := 0; i < count; i++ {
				if d+bpp > len(dst) {
					return fmt.Errorf("TGA RLE stream overruns image")
				}
				copy(dst[d:], src[s:s+bpp])
				d += bpp
			}
			s += bpp
		} else {
			n := count * bpp
			if s+n > len(src) {
				return fmt.Errorf("truncated TGA RLE stream")
			}
			if d+n > len(dst) {
				return fmt.Errorf("TGA RLE stream overruns image")
			}
			copy(dst[d:], src[s:s+n])
			s += n
			d += n
		}
	}
	return nil
}

// encodeTGA writes samples as an uncompressed, top-down TGA.
func encodeTGA(w io.Writer, geom geometry, samples []byte) error {
	var header [tgaHeaderSize]byte
	switch geom.channels {
	case 1:
		header[2] = tgaTypeGrayscale
		header[16] = 8
	case 3:
		header[2] = tgaTypeTruecolor
		header[16] = 24
	case 4:
		header[2] = tgaTypeTruecolor
		header[16] = 32
		header[17] = 8 // alpha channel depth
	default:
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, geom.channels)
	}
	binary.LittleEndian.PutUint16(header[12:14], uint16(geom.width))
	binary.LittleEndian.PutUint16(header[14:16], uint16(geom.height))
	header[17] |= 0x20 // top-left origin

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	row := make([]byte, geom.width*geom.channels)
	for y := 0; y < geom.height; y++ {
		in := samples[y*len(row):]
		for x := 0; x < geom.width; x++ {
			switch geom.channels {
			case 1:
				row[x] = in[x]
			case 3:
				row[x*3+0] = in[x*3+2] // write BGR
				row[x*3+1] = in[x*3+1]
				row[x*3+2] = in[x*3+0]
			case 4:
				row[x*4+0] = in[x*4+2] // write BGRA
				row[x*4+1] = in[x*4+1]
				row[x*4+2] = in[x*4+0]
				row[x*4+3] = in[x*4+3]
			}
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

package stegfs

import (
	"bytes"
	"errors"
	"testing"
)

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path   string
		format Format
		ok     bool
	}{
		{"/covers/a.png", FormatPNG, true},
		{"/covers/a.PNG", FormatPNG, true},
		{"/covers/a.bMp", FormatBMP, true},
		{"/covers/a.tga", FormatTGA, true},
		{"/covers/a.jpeg", 0, false},
		{"/covers/noext", 0, false},
		{"/covers/trailingdot.", 0, false},
	}

	for _, tt := range tests {
		format, err := formatForPath(tt.path)
		if tt.ok {
			if err != nil {
				t.Errorf("formatForPath(%q) failed: %v", tt.path, err)
			} else if format != tt.format {
				t.Errorf("formatForPath(%q) = %v, want %v", tt.path, format, tt.format)
			}
		} else if err == nil {
			t.Errorf("formatForPath(%q) accepted an unsupported extension", tt.path)
		}
	}
}

func TestHiddenCapacity(t *testing.T) {
	tests := []struct {
		geom geometry
		want int64
	}{
		{geometry{10, 10, 3}, 37},  // 300 samples
		{geometry{10, 10, 1}, 12},  // 100 samples
		{geometry{8, 1, 1}, 1},     // exactly one byte
		{geometry{7, 1, 1}, 0},     // too small to hide anything
		{geometry{640, 480, 4}, 153600},
	}

	for _, tt := range tests {
		if got := tt.geom.hiddenCapacity(); got != tt.want {
			t.Errorf("%v.hiddenCapacity() = %d, want %d", tt.geom, got, tt.want)
		}
	}
}

func TestParsePNGHeader(t *testing.T) {
	fsys := newTestFS(t)

	tests := []struct {
		name      string
		bitDepth  byte
		colorType byte
		channels  int
		ok        bool
	}{
		{"gray", 8, 0, 1, true},
		{"truecolor", 8, 2, 3, true},
		{"paletted", 8, 3, 3, true},
		{"gray-alpha", 8, 4, 2, true},
		{"rgba", 8, 6, 4, true},
		{"16-bit", 16, 2, 0, false},
		{"bogus color type", 8, 7, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/" + tt.name + ".png"
			writeRawPNGHeader(t, fsys, path, 12, 9, tt.bitDepth, tt.colorType)
			geom, err := parsePNGHeader(readFile(t, fsys, path))
			if !tt.ok {
				if err == nil {
					t.Fatal("header accepted, want rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			want := geometry{12, 9, tt.channels}
			if geom != want {
				t.Errorf("geometry = %v, want %v", geom, want)
			}
		})
	}

	if _, err := parsePNGHeader([]byte("not a png at all, far too short")); err == nil {
		t.Error("garbage accepted as PNG")
	}
}

func TestParseBMPHeader(t *testing.T) {
	fsys := newTestFS(t)

	tests := []struct {
		name        string
		bitCount    uint16
		compression uint32
		channels    int
		ok          bool
	}{
		{"gray", 8, 0, 1, true},
		{"truecolor", 24, 0, 3, true},
		{"rgba", 32, 0, 4, true},
		{"1-bit", 1, 0, 0, false},
		{"rle", 8, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/" + tt.name + ".bmp"
			writeRawBMPHeader(t, fsys, path, 12, 9, tt.bitCount, tt.compression)
			geom, err := parseBMPHeader(readFile(t, fsys, path))
			if !tt.ok {
				if err == nil {
					t.Fatal("header accepted, want rejection")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			want := geometry{12, 9, tt.channels}
			if geom != want {
				t.Errorf("geometry = %v, want %v", geom, want)
			}
		})
	}
}

func TestParseBMPHeader_TopDown(t *testing.T) {
	fsys := newTestFS(t)
	writeRawBMPHeader(t, fsys, "/td.bmp", 12, -9, 24, 0)
	geom, err := parseBMPHeader(readFile(t, fsys, "/td.bmp"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if geom.height != 9 {
		t.Errorf("top-down height = %d, want 9", geom.height)
	}
}

func TestLSBExtractEmbed(t *testing.T) {
	samples := buildSamples(geometry{4, 4, 3}) // 48 samples, 6 bytes
	payload := []byte{0x00, 0xff, 0xa5, 0x5a, 0x01, 0x80}

	embedLSB(samples, payload)

	// Upper bits untouched.
	original := buildSamples(geometry{4, 4, 3})
	if !bytes.Equal(upperBits(samples), upperBits(original)) {
		t.Error("embedLSB modified bits above the LSB")
	}

	// Extraction inverts embedding.
	got := make([]byte, len(payload))
	extractLSB(samples, got)
	if !bytes.Equal(got, payload) {
		t.Errorf("extract(embed(p)) = %x, want %x", got, payload)
	}

	// Bit ordering: byte 0 bit 0 is the LSB of sample 0, bit 7 of sample 7.
	probe := make([]byte, len(samples))
	copy(probe, original)
	embedLSB(probe, []byte{0x81, 0, 0, 0, 0, 0})
	if probe[0]&1 != 1 || probe[7]&1 != 1 {
		t.Error("bit 0 and bit 7 of byte 0 must land in samples 0 and 7")
	}
	for _, i := range []int{1, 2, 3, 4, 5, 6} {
		if probe[i]&1 != 0 {
			t.Errorf("sample %d carries a bit it should not", i)
		}
	}
}

func TestNewImageCodec_Rejections(t *testing.T) {
	fsys := newTestFS(t)

	// Unsupported extension.
	writeFile(t, fsys, "/cover.jpeg", []byte("whatever"))
	if _, err := NewImageCodec(fsys, "/cover.jpeg"); !IsBackingStoreError(err) {
		t.Errorf("jpeg accepted: %v", err)
	}

	// 4-channel BMP: the encoder would write it back 3-channel.
	writeRawBMPHeader(t, fsys, "/four.bmp", 10, 10, 32, 0)
	_, err := NewImageCodec(fsys, "/four.bmp")
	if !errors.Is(err, ErrFourChannelBMP) {
		t.Errorf("4-channel BMP: got %v, want ErrFourChannelBMP", err)
	}

	// Gray+alpha PNG: the encoder would write it back 4-channel.
	writeRawPNGHeader(t, fsys, "/ga.png", 10, 10, 8, 4)
	_, err = NewImageCodec(fsys, "/ga.png")
	if !errors.Is(err, ErrGrayAlphaPNG) {
		t.Errorf("gray+alpha PNG: got %v, want ErrGrayAlphaPNG", err)
	}

	// Missing file.
	if _, err := NewImageCodec(fsys, "/missing.png"); !IsBackingStoreError(err) {
		t.Errorf("missing file: got %v, want BackingStoreError", err)
	}
}

func TestImageRegion_RoundTripAllFormats(t *testing.T) {
	geoms := map[string]geometry{
		"gray":      {10, 10, 1},
		"truecolor": {10, 10, 3},
		"alpha":     {10, 10, 4},
	}
	paths := map[string][]string{
		"gray":      {"/g.png", "/g.bmp", "/g.tga"},
		"truecolor": {"/c.png", "/c.bmp", "/c.tga"},
		"alpha":     {"/a.png", "/a.tga"}, // 4-channel BMP is rejected
	}

	for kind, geom := range geoms {
		for _, path := range paths[kind] {
			t.Run(path, func(t *testing.T) {
				fsys := newTestFS(t)
				writeCover(t, fsys, path, geom)

				region, err := NewImageRegion(fsys, path)
				if err != nil {
					t.Fatalf("NewImageRegion failed: %v", err)
				}
				if region.Capacity() != geom.hiddenCapacity() {
					t.Fatalf("Capacity() = %d, want %d", region.Capacity(), geom.hiddenCapacity())
				}

				payload := pattern(int(region.Capacity()))
				if _, err := region.WriteAt(payload, 0); err != nil {
					t.Fatalf("WriteAt failed: %v", err)
				}
				if err := region.Sync(); err != nil {
					t.Fatalf("Sync failed: %v", err)
				}

				// A brand-new region over the rewritten cover must see the
				// same bytes.
				reopened, err := NewImageRegion(fsys, path)
				if err != nil {
					t.Fatalf("reopen failed: %v", err)
				}
				got := make([]byte, len(payload))
				if _, err := reopened.ReadAt(got, 0); err != nil {
					t.Fatalf("ReadAt failed: %v", err)
				}
				if !bytes.Equal(got, payload) {
					t.Error("payload did not survive the cover rewrite")
				}
			})
		}
	}
}

func TestImageRegion_PreservesUpperBits(t *testing.T) {
	for _, path := range []string{"/c.png", "/c.bmp", "/c.tga"} {
		t.Run(path, func(t *testing.T) {
			fsys := newTestFS(t)
			geom := geometry{10, 10, 3}
			original := writeCover(t, fsys, path, geom)

			region, err := NewImageRegion(fsys, path)
			if err != nil {
				t.Fatalf("NewImageRegion failed: %v", err)
			}

			// Two full write/sync cycles; no bit above the LSB may move.
			for cycle := 0; cycle < 2; cycle++ {
				payload := pattern(int(region.Capacity()))
				for i := range payload {
					payload[i] ^= byte(cycle * 0x55)
				}
				if _, err := region.WriteAt(payload, 0); err != nil {
					t.Fatalf("cycle %d WriteAt failed: %v", cycle, err)
				}
				if err := region.Sync(); err != nil {
					t.Fatalf("cycle %d Sync failed: %v", cycle, err)
				}

				samples := coverSamples(t, fsys, path)
				if !bytes.Equal(upperBits(samples), upperBits(original)) {
					t.Fatalf("cycle %d modified bits above the LSB", cycle)
				}
			}

			// Samples past the last whole hidden byte are untouched
			// entirely (300 samples, 296 used).
			samples := coverSamples(t, fsys, path)
			used := int(region.Capacity()) * 8
			if !bytes.Equal(samples[used:], original[used:]) {
				t.Error("trailing samples beyond the hidden capacity changed")
			}
		})
	}
}

func TestImageRegion_ChangeGuard(t *testing.T) {
	fsys := newTestFS(t)
	writeCover(t, fsys, "/cover.png", geometry{10, 10, 3})

	region, err := NewImageRegion(fsys, "/cover.png")
	if err != nil {
		t.Fatalf("NewImageRegion failed: %v", err)
	}

	// Replace with a same-format image of different dimensions.
	writeCover(t, fsys, "/cover.png", geometry{9, 9, 3})

	_, err = region.ReadAt(make([]byte, 1), 0)
	if !IsBackingStoreError(err) || !errors.Is(err, ErrFileChanged) {
		t.Fatalf("read after dimension change: got %v, want BackingStoreError wrapping ErrFileChanged", err)
	}
}

func TestImageRegion_ChangeGuardOnSync(t *testing.T) {
	fsys := newTestFS(t)
	writeCover(t, fsys, "/cover.png", geometry{10, 10, 3})

	region, err := NewImageRegion(fsys, "/cover.png")
	if err != nil {
		t.Fatalf("NewImageRegion failed: %v", err)
	}
	if _, err := region.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	// The cover is swapped between the write and the flush.
	writeCover(t, fsys, "/cover.png", geometry{9, 9, 3})

	err = region.Sync()
	if !IsBackingStoreError(err) || !errors.Is(err, ErrFileChanged) {
		t.Fatalf("Sync after dimension change: got %v, want BackingStoreError wrapping ErrFileChanged", err)
	}
	if region.Synced() {
		t.Error("region claims synced after a failed Sync")
	}

	// The swapped-in cover must not have been clobbered.
	data := readFile(t, fsys, "/cover.png")
	geom, err := parseHeader(FormatPNG, data)
	if err != nil {
		t.Fatalf("parse replacement cover: %v", err)
	}
	if (geom != geometry{9, 9, 3}) {
		t.Errorf("replacement cover was rewritten: now %v", geom)
	}
}

func TestImageRegion_ZeroWritesStillDecode(t *testing.T) {
	// A region read without any write must return the bits already in the
	// cover's LSBs, whatever they are.
	fsys := newTestFS(t)
	geom := geometry{10, 10, 3}
	samples := writeCover(t, fsys, "/cover.png", geom)

	region, err := NewImageRegion(fsys, "/cover.png")
	if err != nil {
		t.Fatalf("NewImageRegion failed: %v", err)
	}

	want := make([]byte, geom.hiddenCapacity())
	extractLSB(samples, want)

	got := make([]byte, len(want))
	if _, err := region.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("fresh region does not reflect the cover's existing LSBs")
	}
}

// Package tiledecode implements the gzip inflate and SRTM sanity-check
// logic described in spec §4.2. It uses klauspost/compress instead of the
// standard library's compress/gzip for the same reason quay/claircore's
// layer fetcher does: a faster, allocation-lighter gzip reader on the hot
// decode path.
package tiledecode

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/srtm-tiles/srtmpack/internal/errs"
)

// UncompressedSRTM1Size is the exact byte length of an uncompressed SRTM1
// tile: 3601 x 3601 big-endian int16 samples.
const UncompressedSRTM1Size = 3601 * 3601 * 2

const (
	sampleMin    = -1000
	sampleMax    = 10000
	voidSample   = -32768
	outOfRangeOK = 0.01 // tolerance fraction, spec §4.2
)

var gzipMagic = [2]byte{0x1F, 0x8B}

// Decompressor performs synchronous and streaming gzip inflate plus the
// SRTM-specific sanity checks from spec §4.2. It carries no state and is
// safe for concurrent use.
type Decompressor struct{}

// New returns a ready-to-use Decompressor.
func New() *Decompressor { return &Decompressor{} }

// Decompress inflates a complete in-memory gzip payload.
func (d *Decompressor) Decompress(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errs.Decompress("empty input", nil)
	}
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errs.Decompress("failed to decompress: not a valid gzip stream", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Decompress("failed to decompress: truncated or corrupt stream", err)
	}
	return out, nil
}

// DecompressStream inflates a pull-based byte stream, concatenating
// whatever chunking the underlying reader delivers.
func (d *Decompressor) DecompressStream(r io.Reader) ([]byte, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errs.Decompress("failed to decompress: not a valid gzip stream", err)
	}
	defer gr.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gr); err != nil {
		return nil, errs.Decompress("failed to decompress: truncated or corrupt stream", err)
	}
	return buf.Bytes(), nil
}

// IsCompressed reports whether b begins with the gzip magic number.
func (d *Decompressor) IsCompressed(b []byte) bool {
	return len(b) >= 2 && b[0] == gzipMagic[0] && b[1] == gzipMagic[1]
}

// EstimateDecompressedSize reads the little-endian ISIZE trailer field (the
// last 4 bytes of a gzip stream), giving the original size modulo 2^32.
func (d *Decompressor) EstimateDecompressedSize(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, errs.Decompress("input too short to contain a gzip ISIZE trailer", nil)
	}
	tail := b[len(b)-4:]
	return binary.LittleEndian.Uint32(tail), nil
}

// ValidateSRTMData reports whether b is a plausible decompressed SRTM1
// tile: the exact expected length, and no more than a small tolerance of
// big-endian int16 samples outside the generous elevation range.
func (d *Decompressor) ValidateSRTMData(b []byte) bool {
	if len(b) != UncompressedSRTM1Size {
		return false
	}

	samples := len(b) / 2
	var outOfRange int
	for i := 0; i < samples; i++ {
		v := int16(binary.BigEndian.Uint16(b[i*2 : i*2+2]))
		if v == voidSample {
			continue
		}
		if int(v) < sampleMin || int(v) > sampleMax {
			outOfRange++
		}
	}

	return float64(outOfRange)/float64(samples) <= outOfRangeOK
}

package tiledecode

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func validSRTMPayload() []byte {
	out := make([]byte, UncompressedSRTM1Size)
	// Fill with a plausible elevation (100m) everywhere.
	for i := 0; i < len(out); i += 2 {
		binary.BigEndian.PutUint16(out[i:i+2], uint16(int16(100)))
	}
	return out
}

func TestDecompress_RoundTrips(t *testing.T) {
	d := New()
	payload := validSRTMPayload()
	compressed := gzipBytes(t, payload)

	out, err := d.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecompress_EmptyInput(t *testing.T) {
	d := New()
	_, err := d.Decompress(nil)
	assert.Error(t, err)
}

func TestDecompress_NotGzip(t *testing.T) {
	d := New()
	_, err := d.Decompress([]byte("not a gzip stream at all"))
	assert.Error(t, err)
}

func TestDecompressStream(t *testing.T) {
	d := New()
	payload := validSRTMPayload()
	compressed := gzipBytes(t, payload)

	out, err := d.DecompressStream(bytes.NewReader(compressed))
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestIsCompressed(t *testing.T) {
	d := New()
	assert.True(t, d.IsCompressed(gzipBytes(t, []byte("x"))))
	assert.False(t, d.IsCompressed([]byte("not gzip")))
	assert.False(t, d.IsCompressed(nil))
}

func TestValidateSRTMData_Valid(t *testing.T) {
	d := New()
	assert.True(t, d.ValidateSRTMData(validSRTMPayload()))
}

func TestValidateSRTMData_WrongSize(t *testing.T) {
	d := New()
	assert.False(t, d.ValidateSRTMData(make([]byte, 10)))
}

func TestValidateSRTMData_TooManyOutliers(t *testing.T) {
	d := New()
	out := validSRTMPayload()
	// Push more than 1% of samples out of range.
	samples := len(out) / 2
	for i := 0; i < samples/2; i++ {
		binary.BigEndian.PutUint16(out[i*2:i*2+2], uint16(int16(20000)))
	}
	assert.False(t, d.ValidateSRTMData(out))
}

func TestValidateSRTMData_VoidSamplesIgnored(t *testing.T) {
	d := New()
	out := validSRTMPayload()
	samples := len(out) / 2
	for i := 0; i < samples; i++ {
		binary.BigEndian.PutUint16(out[i*2:i*2+2], uint16(int16(-32768)))
	}
	assert.True(t, d.ValidateSRTMData(out))
}

func TestEstimateDecompressedSize(t *testing.T) {
	d := New()
	payload := make([]byte, 1234)
	compressed := gzipBytes(t, payload)
	size, err := d.EstimateDecompressedSize(compressed)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), size)
}

package tileid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	id, err := Parse("N36W112")
	require.NoError(t, err)
	assert.Equal(t, "N36W112", id.String())
	assert.Equal(t, 36, id.Latitude())
	assert.Equal(t, -112, id.Longitude())
	assert.False(t, id.IsZero())
}

func TestParse_SouthernAndEastern(t *testing.T) {
	id, err := Parse("S08E135")
	require.NoError(t, err)
	assert.Equal(t, -8, id.Latitude())
	assert.Equal(t, 135, id.Longitude())
}

func TestParse_Rejects(t *testing.T) {
	cases := []string{
		"",
		"X36W112",
		"N36W1120",
		"N90W112", // out of range: max is 89
		"N36W180", // out of range: max is 179
		"n36w112", // lowercase not accepted
	}
	for _, s := range cases {
		s := s
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			assert.Error(t, err)
		})
	}
}

func TestFromLatLng_RoundTrips(t *testing.T) {
	id, err := FromLatLng(-8, 135)
	require.NoError(t, err)
	assert.Equal(t, "S08E135", id.String())

	id2, err := FromLatLng(36, -112)
	require.NoError(t, err)
	assert.Equal(t, "N36W112", id2.String())
}

func TestS3Key(t *testing.T) {
	id := MustParse("N36W112")
	assert.Equal(t, "skadi/N36/N36W112.hgt.gz", id.S3Key("skadi"))
}

func TestArchiveName(t *testing.T) {
	id := MustParse("N36W112")
	assert.Equal(t, "N36W112.hgt", id.ArchiveName())
}

func TestMustParse_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustParse("not-a-tile")
	})
}

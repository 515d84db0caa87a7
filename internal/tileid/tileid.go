// Package tileid implements the canonical SRTM tile identifier described in
// spec §3: a string of the form [NS]dd[EW]ddd naming the south-west corner
// of a 1x1 degree cell, e.g. "N36W112".
package tileid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/srtm-tiles/srtmpack/internal/errs"
)

var pattern = regexp.MustCompile(`^([NS])(\d{2})([EW])(\d{3})$`)

// ID is a validated, canonical tile identifier.
type ID struct {
	raw      string
	northing byte // 'N' or 'S'
	lat      int  // 0-89
	easting  byte // 'E' or 'W'
	lng      int  // 0-179
}

// Parse validates s against the canonical format and range limits in
// spec §3 (latitude 0-89, longitude 0-179).
func Parse(s string) (ID, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, errs.InvalidTile(fmt.Sprintf("tile id %q does not match [NS]dd[EW]ddd", s))
	}

	lat, err := strconv.Atoi(m[2])
	if err != nil || lat > 89 {
		return ID{}, errs.InvalidTile(fmt.Sprintf("tile id %q has out-of-range latitude", s))
	}
	lng, err := strconv.Atoi(m[4])
	if err != nil || lng > 179 {
		return ID{}, errs.InvalidTile(fmt.Sprintf("tile id %q has out-of-range longitude", s))
	}

	return ID{
		raw:      s,
		northing: m[1][0],
		lat:      lat,
		easting:  m[3][0],
		lng:      lng,
	}, nil
}

// MustParse is Parse, panicking on error. Intended for tests and literal
// constants, not for validating caller input.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical identifier, e.g. "N36W112".
func (id ID) String() string { return id.raw }

// IsZero reports whether id is the zero value (never a valid tile id).
func (id ID) IsZero() bool { return id.raw == "" }

// Latitude returns the signed south-west corner latitude in degrees.
func (id ID) Latitude() int {
	if id.northing == 'S' {
		return -id.lat
	}
	return id.lat
}

// Longitude returns the signed south-west corner longitude in degrees.
func (id ID) Longitude() int {
	if id.easting == 'W' {
		return -id.lng
	}
	return id.lng
}

// FromLatLng builds the canonical id for the 1x1 degree cell whose
// south-west corner contains (lat, lng), given as integer degrees (use
// math.Floor on the caller's side for fractional coordinates). Used by the
// CLI's bounding-box enumeration, a feature absent from the original
// spec's tile-list-only API.
func FromLatLng(lat, lng int) (ID, error) {
	var northing byte = 'N'
	if lat < 0 {
		northing = 'S'
		lat = -lat
	}
	var easting byte = 'E'
	if lng < 0 {
		easting = 'W'
		lng = -lng
	}
	raw := fmt.Sprintf("%c%02d%c%03d", northing, lat, easting, lng)
	return Parse(raw)
}

// latBand returns the directory name used on the skadi S3 layout, e.g.
// "N36" or "S08".
func (id ID) latBand() string {
	return fmt.Sprintf("%c%02d", id.northing, id.lat)
}

// S3Key returns the object key under the given base prefix, per spec §3:
// "{base}/{N/S}{lat}/{id}.hgt.gz".
func (id ID) S3Key(base string) string {
	return fmt.Sprintf("%s/%s/%s.hgt.gz", base, id.latBand(), id.raw)
}

// ArchiveName returns the name this tile's decompressed payload is stored
// under inside the output ZIP, per spec §6: "{id}.hgt".
func (id ID) ArchiveName() string {
	return id.raw + ".hgt"
}

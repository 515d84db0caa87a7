// Package overlay implements the viewport-to-GeoJSON helper from spec §6:
// given a set of cached tile ids and a map viewport, it returns one Polygon
// feature per cached tile whose 1x1 degree square intersects the viewport.
// The interactive map UI that consumes this is out of scope (spec §1); this
// package is the pure data boundary the UI would call across.
package overlay

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

// Viewport is the visible map bounds, spec §6.
type Viewport struct {
	North, South, East, West float64
}

// intersects reports whether the tile's 1x1 degree square overlaps v.
// Antimeridian-crossing viewports (West > East) are not supported, per
// spec §6's explicit carve-out.
func (v Viewport) intersects(minLng, minLat, maxLng, maxLat float64) bool {
	if v.West > v.East {
		return false
	}
	return minLng < v.East && maxLng > v.West && minLat < v.North && maxLat > v.South
}

// BuildCachedGeoJSON returns a FeatureCollection with one Polygon feature
// per id in cachedIDs whose square intersects viewport. Each feature's
// properties carry {"tileId": id}.
func BuildCachedGeoJSON(cachedIDs []tileid.ID, viewport Viewport) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, id := range cachedIDs {
		minLng := float64(id.Longitude())
		minLat := float64(id.Latitude())
		maxLng := minLng + 1
		maxLat := minLat + 1

		if !viewport.intersects(minLng, minLat, maxLng, maxLat) {
			continue
		}

		ring := orb.Ring{
			{minLng, minLat},
			{maxLng, minLat},
			{maxLng, maxLat},
			{minLng, maxLat},
			{minLng, minLat},
		}
		poly := orb.Polygon{ring}

		f := geojson.NewFeature(poly)
		f.Properties = geojson.Properties{"tileId": id.String()}
		fc.Append(f)
	}

	return fc
}

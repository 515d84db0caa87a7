package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

func TestBuildCachedGeoJSON_IncludesIntersectingTile(t *testing.T) {
	ids := []tileid.ID{tileid.MustParse("N36W112")}
	v := Viewport{North: 37, South: 35, East: -111, West: -113}

	fc := BuildCachedGeoJSON(ids, v)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "N36W112", fc.Features[0].Properties["tileId"])
}

func TestBuildCachedGeoJSON_ExcludesNonIntersecting(t *testing.T) {
	ids := []tileid.ID{tileid.MustParse("N36W112")}
	v := Viewport{North: -10, South: -20, East: 50, West: 40}

	fc := BuildCachedGeoJSON(ids, v)
	assert.Empty(t, fc.Features)
}

func TestBuildCachedGeoJSON_AntimeridianViewportExcludesEverything(t *testing.T) {
	ids := []tileid.ID{tileid.MustParse("N36W112")}
	v := Viewport{North: 37, South: 35, East: -170, West: 170} // West > East

	fc := BuildCachedGeoJSON(ids, v)
	assert.Empty(t, fc.Features)
}

func TestBuildCachedGeoJSON_Empty(t *testing.T) {
	fc := BuildCachedGeoJSON(nil, Viewport{North: 1, South: -1, East: 1, West: -1})
	assert.Empty(t, fc.Features)
}

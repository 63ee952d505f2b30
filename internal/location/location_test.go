package location_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iggydv12/waypoint/internal/location"
)

func TestRealmDimensionID(t *testing.T) {
	assert.Equal(t, "minecraft:overworld", location.Overworld.DimensionID())
	assert.Equal(t, "minecraft:the_nether", location.Nether.DimensionID())
	assert.Equal(t, "minecraft:the_end", location.End.DimensionID())

	custom, err := location.CustomRealm("twilightforest:twilight_forest")
	require.NoError(t, err)
	assert.Equal(t, "twilightforest:twilight_forest", custom.DimensionID())
}

func TestRealmRejectsUnknownNumber(t *testing.T) {
	_, err := location.NumberedRealm(2)
	assert.ErrorIs(t, err, location.ErrInvalidRealm)

	var r location.Realm
	assert.ErrorIs(t, json.Unmarshal([]byte(`7`), &r), location.ErrInvalidRealm)
	assert.ErrorIs(t, json.Unmarshal([]byte(`""`), &r), location.ErrInvalidRealm)
}

func TestParseRealm(t *testing.T) {
	r, err := location.ParseRealm("-1")
	require.NoError(t, err)
	assert.Equal(t, location.Nether, r)

	r, err = location.ParseRealm("minecraft:the_end")
	require.NoError(t, err)
	assert.True(t, r.IsCustom())
}

func TestLocationJSON(t *testing.T) {
	loc := location.Location{X: 1.5, Y: 64, Z: -3, Realm: location.Nether}
	data, err := json.Marshal(loc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1.5,"y":64,"z":-3,"realm":-1}`, string(data))

	var got location.Location
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, loc, got)
}

func TestLocationLegacyDimKey(t *testing.T) {
	var got location.Location
	require.NoError(t, json.Unmarshal([]byte(`{"x":0,"y":70,"z":0,"dim":"minecraft:the_end"}`), &got))
	assert.Equal(t, "minecraft:the_end", got.Realm.DimensionID())
}

func TestLocationMissingFields(t *testing.T) {
	var got location.Location
	assert.Error(t, json.Unmarshal([]byte(`{"x":0,"y":70,"realm":0}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`{"x":0,"y":70,"z":1}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &got))
}

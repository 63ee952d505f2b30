// Package location describes positions in the game world.
package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidRealm is returned when a realm value cannot be decoded.
var ErrInvalidRealm = errors.New("invalid realm")

// Realm is a logical partition of the world. The three vanilla dimensions
// are numbered; anything else is carried as a namespaced id.
type Realm struct {
	id  string
	num int
}

var (
	Overworld = Realm{num: 0}
	Nether    = Realm{num: -1}
	End       = Realm{num: 1}
)

var dimensionIDs = map[int]string{
	0:  "minecraft:overworld",
	-1: "minecraft:the_nether",
	1:  "minecraft:the_end",
}

// NumberedRealm returns the vanilla realm for n, which must be -1, 0 or 1.
func NumberedRealm(n int) (Realm, error) {
	if _, ok := dimensionIDs[n]; !ok {
		return Realm{}, fmt.Errorf("%w: %d", ErrInvalidRealm, n)
	}
	return Realm{num: n}, nil
}

// CustomRealm returns a realm identified by a dimension id string.
func CustomRealm(id string) (Realm, error) {
	if id == "" {
		return Realm{}, fmt.Errorf("%w: empty id", ErrInvalidRealm)
	}
	return Realm{id: id}, nil
}

// ParseRealm accepts either a realm number or a dimension id.
func ParseRealm(s string) (Realm, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return NumberedRealm(n)
	}
	return CustomRealm(s)
}

// IsCustom reports whether the realm is identified by a string id.
func (r Realm) IsCustom() bool { return r.id != "" }

// DimensionID returns the namespaced dimension id used by teleport commands.
func (r Realm) DimensionID() string {
	if r.IsCustom() {
		return r.id
	}
	return dimensionIDs[r.num]
}

func (r Realm) String() string {
	if r.IsCustom() {
		return r.id
	}
	return strconv.Itoa(r.num)
}

// MarshalJSON writes numbered realms as integers and custom ones as strings.
func (r Realm) MarshalJSON() ([]byte, error) {
	if r.IsCustom() {
		return json.Marshal(r.id)
	}
	return []byte(strconv.Itoa(r.num)), nil
}

// UnmarshalJSON accepts an integer in [-1, 1] or a non-empty string.
func (r *Realm) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return fmt.Errorf("%w: null", ErrInvalidRealm)
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		realm, err := NumberedRealm(n)
		if err != nil {
			return err
		}
		*r = realm
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRealm, string(data))
	}
	realm, err := CustomRealm(id)
	if err != nil {
		return err
	}
	*r = realm
	return nil
}

// Location is a point in a realm.
type Location struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Realm Realm   `json:"realm"`
}

// UnmarshalJSON requires all coordinates and a realm. The realm may be
// stored under the legacy "dim" key.
func (l *Location) UnmarshalJSON(data []byte) error {
	var wire struct {
		X     *float64 `json:"x"`
		Y     *float64 `json:"y"`
		Z     *float64 `json:"z"`
		Realm *Realm   `json:"realm"`
		Dim   *Realm   `json:"dim"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.X == nil || wire.Y == nil || wire.Z == nil {
		return errors.New("location: missing coordinate")
	}
	realm := wire.Realm
	if realm == nil {
		realm = wire.Dim
	}
	if realm == nil {
		return fmt.Errorf("location: %w: missing", ErrInvalidRealm)
	}
	*l = Location{X: *wire.X, Y: *wire.Y, Z: *wire.Z, Realm: *realm}
	return nil
}

func (l Location) String() string {
	return fmt.Sprintf("(%g, %g, %g) in %s", l.X, l.Y, l.Z, l.Realm.DimensionID())
}

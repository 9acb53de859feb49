package nav

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TagID identifies a BLE beacon. It is decoded from the 4-byte manufacturer
// payload of the beacon's advertisement.
type TagID int32

// RSSI is a received signal strength in dBm (more negative is weaker)
type RSSI int

// Measurement is one (tag, signal strength) reading
type Measurement struct {
	TagID TagID `json:"tag_id"`
	RSSI  RSSI  `json:"rssi"`
}

// Observation is a raw timestamped reading taken from the scan stream
type Observation struct {
	TagID     TagID     `json:"tagId"`
	RSSI      RSSI      `json:"rssi"`
	Timestamp time.Time `json:"timestamp"`
}

// Fingerprint is the radio environment at a place or moment. After aggregation
// it holds at most one measurement per tag.
type Fingerprint struct {
	Measurements []Measurement `json:"measurements"`
}

// NewFingerprint builds a fingerprint holding the given measurements in order
func NewFingerprint(pairs ...Measurement) Fingerprint {
	ms := make([]Measurement, len(pairs))
	copy(ms, pairs)
	return Fingerprint{Measurements: ms}
}

// IsEmpty reports whether the fingerprint has no measurements
func (f Fingerprint) IsEmpty() bool {
	return len(f.Measurements) == 0
}

// Lookup returns the RSSI recorded for tag, if any
func (f Fingerprint) Lookup(tag TagID) (RSSI, bool) {
	for _, m := range f.Measurements {
		if m.TagID == tag {
			return m.RSSI, true
		}
	}
	return 0, false
}

// Clone returns a deep copy
func (f Fingerprint) Clone() Fingerprint {
	if f.Measurements == nil {
		return Fingerprint{}
	}
	ms := make([]Measurement, len(f.Measurements))
	copy(ms, f.Measurements)
	return Fingerprint{Measurements: ms}
}

// Node is a 2D coordinate owned by a floor. Walls and zone boundaries refer to
// nodes by ID so a node shared by several of them stays a single point.
type Node struct {
	ID uuid.UUID `json:"id"`
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
}

// Wall is a segment between two nodes of the same floor
type Wall struct {
	ID    uuid.UUID `json:"id"`
	Start uuid.UUID `json:"start_node_id"`
	End   uuid.UUID `json:"end_node_id"`
}

// ZoneType is the semantic kind of a zone
type ZoneType int

const (
	ZoneGeneric ZoneType = iota
	ZoneStairs
	ZoneElevator
)

var zoneTypeNames = map[ZoneType]string{
	ZoneGeneric:  "GENERIC",
	ZoneStairs:   "STAIRS",
	ZoneElevator: "ELEVATOR",
}

func (t ZoneType) String() string {
	if s, ok := zoneTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ZoneType(%d)", int(t))
}

// ParseZoneType maps the exported name back to a ZoneType. Matching is case-insensitive.
func ParseZoneType(s string) (ZoneType, error) {
	for t, name := range zoneTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return ZoneGeneric, fmt.Errorf("unknown zone type %q", s)
}

// MarshalText encodes the type by name
func (t ZoneType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name
func (t *ZoneType) UnmarshalText(b []byte) error {
	v, err := ParseZoneType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsVertical reports whether the zone links floors (stairs or elevator)
func (t ZoneType) IsVertical() bool {
	return t == ZoneStairs || t == ZoneElevator
}

// Zone is a polygonal region of a floor and the unit of location granularity
type Zone struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Type         ZoneType      `json:"type"`
	FloorID      uuid.UUID     `json:"floorId"`
	Boundary     []uuid.UUID   `json:"boundary"`
	Fingerprints []Fingerprint `json:"fingerprints,omitempty"`

	// center is resolved from the boundary nodes when the building is assembled
	center Point
}

// Center returns the midpoint of the boundary's bounding box. This is not the
// polygon centroid.
func (z *Zone) Center() Point {
	return z.center
}

// PointOfInterestType is the kind of a point of interest
type PointOfInterestType int

const (
	POIGeneric PointOfInterestType = iota
	POIToilet
	POIShop
	POIRestaurant
	POIExit
)

var poiTypeNames = map[PointOfInterestType]string{
	POIGeneric:    "GENERIC",
	POIToilet:     "TOILET",
	POIShop:       "SHOP",
	POIRestaurant: "RESTAURANT",
	POIExit:       "EXIT",
}

func (t PointOfInterestType) String() string {
	if s, ok := poiTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PointOfInterestType(%d)", int(t))
}

// ParsePointOfInterestType maps the exported name back to a type
func ParsePointOfInterestType(s string) (PointOfInterestType, error) {
	for t, name := range poiTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return POIGeneric, fmt.Errorf("unknown point of interest type %q", s)
}

func (t PointOfInterestType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *PointOfInterestType) UnmarshalText(b []byte) error {
	v, err := ParsePointOfInterestType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PointOfInterest is a labelled spot on a floor
type PointOfInterest struct {
	ID   uuid.UUID           `json:"id"`
	Name string              `json:"name"`
	X    float64             `json:"x"`
	Y    float64             `json:"y"`
	Type PointOfInterestType `json:"type"`
}

// ZoneConnection says a person can walk directly between A and B. It is
// symmetric: {A,B} and {B,A} describe the same link.
type ZoneConnection struct {
	A uuid.UUID `json:"zone1_id"`
	B uuid.UUID `json:"zone2_id"`
}

// Floor is one building level
type Floor struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	Index            int               `json:"index"`
	Nodes            []Node            `json:"nodes"`
	Walls            []Wall            `json:"walls"`
	Zones            []*Zone           `json:"zones"`
	PointsOfInterest []PointOfInterest `json:"points_of_interest"`
}

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ZoneEstimate is the debounced location published to consumers
type ZoneEstimate struct {
	ZoneID    uuid.UUID `json:"zoneId"`
	ZoneName  string    `json:"zoneName"`
	FloorID   uuid.UUID `json:"floorId"`
	FloorName string    `json:"floorName"`
	Timestamp time.Time `json:"timestamp"`
}

package nav

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// buildingFile is the on-disk JSON layout shared with the map editor
type buildingFile struct {
	ID              uuid.UUID        `json:"id"`
	Floors          []floorFile      `json:"floors"`
	ZoneConnections []ZoneConnection `json:"zone_connections"`
}

type floorFile struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Nodes            []Node     `json:"nodes"`
	Walls            []Wall     `json:"walls"`
	Zones            []zoneFile `json:"zones"`
	PointsOfInterest []poiFile  `json:"points_of_interest"`
}

type zoneFile struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	CornerNodeIDs []uuid.UUID   `json:"corner_node_ids"`
	Fingerprints  []Fingerprint `json:"fingerprints,omitempty"`
}

type poiFile struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Type string    `json:"type"`
}

// ParseBuildingFile reads and parses a building JSON file
func ParseBuildingFile(path string) (*Building, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading building file: %w", err)
	}
	return ParseBuildingJSON(data)
}

// ParseBuildingJSON parses building JSON. A floor's index is its position in
// the floors array. Unknown zone or POI types fall back to generic.
func ParseBuildingJSON(data []byte) (*Building, error) {
	var bf buildingFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	floors := make([]*Floor, 0, len(bf.Floors))
	for i, ff := range bf.Floors {
		f := &Floor{
			ID:    ff.ID,
			Name:  ff.Name,
			Index: i,
			Nodes: ff.Nodes,
			Walls: ff.Walls,
		}
		for _, zf := range ff.Zones {
			zt, err := ParseZoneType(zf.Type)
			if err != nil {
				zap.L().Warn("unknown zone type, using GENERIC",
					zap.String("zone", zf.Name), zap.String("type", zf.Type))
			}
			f.Zones = append(f.Zones, &Zone{
				ID:           zf.ID,
				Name:         zf.Name,
				Type:         zt,
				Boundary:     zf.CornerNodeIDs,
				Fingerprints: zf.Fingerprints,
			})
		}
		for _, pf := range ff.PointsOfInterest {
			pt, err := ParsePointOfInterestType(pf.Type)
			if err != nil {
				zap.L().Warn("unknown point of interest type, using GENERIC",
					zap.String("poi", pf.Name), zap.String("type", pf.Type))
			}
			f.PointsOfInterest = append(f.PointsOfInterest, PointOfInterest{
				ID: pf.ID, Name: pf.Name, X: pf.X, Y: pf.Y, Type: pt,
			})
		}
		floors = append(floors, f)
	}

	b, err := NewBuilding(bf.ID, floors, bf.ZoneConnections)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", bf.ID, err)
	}
	return b, nil
}

// EncodeBuilding serializes a building, calibration fingerprints included, in
// the file layout ParseBuildingJSON reads
func EncodeBuilding(b *Building) ([]byte, error) {
	bf := buildingFile{
		ID:              b.ID,
		Floors:          make([]floorFile, 0, len(b.Floors)),
		ZoneConnections: b.Connections,
	}
	if bf.ZoneConnections == nil {
		bf.ZoneConnections = []ZoneConnection{}
	}

	for _, f := range b.Floors {
		ff := floorFile{
			ID:               f.ID,
			Name:             f.Name,
			Nodes:            nonNil(f.Nodes),
			Walls:            nonNil(f.Walls),
			Zones:            make([]zoneFile, 0, len(f.Zones)),
			PointsOfInterest: make([]poiFile, 0, len(f.PointsOfInterest)),
		}
		for _, z := range f.Zones {
			ff.Zones = append(ff.Zones, zoneFile{
				ID:            z.ID,
				Name:          z.Name,
				Type:          z.Type.String(),
				CornerNodeIDs: nonNil(z.Boundary),
				Fingerprints:  z.Fingerprints,
			})
		}
		for _, p := range f.PointsOfInterest {
			ff.PointsOfInterest = append(ff.PointsOfInterest, poiFile{
				ID: p.ID, Name: p.Name, X: p.X, Y: p.Y, Type: p.Type.String(),
			})
		}
		bf.Floors = append(bf.Floors, ff)
	}

	data, err := json.MarshalIndent(bf, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshaling building: %w", err)
	}
	return data, nil
}

// SaveBuildingFile writes a building to path
func SaveBuildingFile(path string, b *Building) error {
	data, err := EncodeBuilding(b)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing building file: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// FloorSummary describes one floor of a building
type FloorSummary struct {
	Name             string
	Index            int
	ZoneNames        []string
	VerticalZones    int // stairs and elevators
	Walls            int
	PointsOfInterest int
}

// BuildingSummary provides a summary of building contents
type BuildingSummary struct {
	ID                  uuid.UUID
	Floors              []FloorSummary
	ZoneCount           int
	Connections         int
	InterFloorLinks     int
	CalibrationSamples  int
	UncalibratedZoneIDs []uuid.UUID
}

// Summarize extracts key information from a building
func Summarize(b *Building) BuildingSummary {
	s := BuildingSummary{ID: b.ID, Connections: len(b.Connections)}
	for _, f := range b.Floors {
		fs := FloorSummary{
			Name:             f.Name,
			Index:            f.Index,
			Walls:            len(f.Walls),
			PointsOfInterest: len(f.PointsOfInterest),
		}
		for _, z := range f.Zones {
			fs.ZoneNames = append(fs.ZoneNames, z.Name)
			if z.Type.IsVertical() {
				fs.VerticalZones++
			}
			s.CalibrationSamples += len(z.Fingerprints)
			if len(z.Fingerprints) == 0 {
				s.UncalibratedZoneIDs = append(s.UncalibratedZoneIDs, z.ID)
			}
		}
		s.ZoneCount += len(f.Zones)
		s.Floors = append(s.Floors, fs)
	}
	for _, c := range b.Connections {
		if b.Zone(c.A).FloorID != b.Zone(c.B).FloorID {
			s.InterFloorLinks++
		}
	}
	return s
}

package nav

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newFloor(name string, index int) *Floor {
	return &Floor{ID: uuid.New(), Name: name, Index: index}
}

// addRectZone appends an axis-aligned rectangular zone with its own four corner nodes
func addRectZone(f *Floor, name string, x0, y0, x1, y1 float64) *Zone {
	corners := []Node{
		{ID: uuid.New(), X: x0, Y: y0},
		{ID: uuid.New(), X: x1, Y: y0},
		{ID: uuid.New(), X: x1, Y: y1},
		{ID: uuid.New(), X: x0, Y: y1},
	}
	f.Nodes = append(f.Nodes, corners...)
	z := &Zone{ID: uuid.New(), Name: name}
	for _, n := range corners {
		z.Boundary = append(z.Boundary, n.ID)
	}
	f.Zones = append(f.Zones, z)
	return z
}

func connect(pairs ...*Zone) []ZoneConnection {
	var out []ZoneConnection
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ZoneConnection{A: pairs[i].ID, B: pairs[i+1].ID})
	}
	return out
}

func mustBuilding(t *testing.T, floors []*Floor, conns []ZoneConnection) *Building {
	t.Helper()
	b, err := NewBuilding(uuid.New(), floors, conns)
	require.NoError(t, err)
	return b
}

func fp(pairs ...int) Fingerprint {
	ms := make([]Measurement, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ms = append(ms, Measurement{TagID: TagID(pairs[i]), RSSI: RSSI(pairs[i+1])})
	}
	return Fingerprint{Measurements: ms}
}

package nav

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"
)

// Building is the aggregate root: ordered floors plus the zone connections
// between them. Nodes and zones are indexed by ID so walls, boundaries and
// connections share a single copy of each entity.
//
// A Building is read-only once NewBuilding returns it. Classification and
// routing read it concurrently without locking; calibration changes produce a
// new snapshot through WithFingerprints.
type Building struct {
	ID          uuid.UUID        `json:"id"`
	Floors      []*Floor         `json:"floors"`
	Connections []ZoneConnection `json:"zone_connections"`

	floors    map[uuid.UUID]*Floor
	nodes     map[uuid.UUID]*Node
	nodeFloor map[uuid.UUID]uuid.UUID
	zones     map[uuid.UUID]*Zone
	zoneOrder []*Zone
	adjacency map[uuid.UUID][]uuid.UUID
	pois      map[uuid.UUID]poiRef
}

type poiRef struct {
	poi     PointOfInterest
	floorID uuid.UUID
}

// NewBuilding assembles and validates a building. Floors are ordered by Index
// (stable for equal indexes). Every wall and zone boundary must reference nodes
// of its own floor. Connections naming an unknown zone are dropped.
func NewBuilding(id uuid.UUID, floors []*Floor, connections []ZoneConnection) (*Building, error) {
	ordered := make([]*Floor, len(floors))
	copy(ordered, floors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	b := &Building{
		ID:          id,
		Floors:      ordered,
		Connections: connections,
	}
	if err := b.index(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Building) index() error {
	b.floors = make(map[uuid.UUID]*Floor, len(b.Floors))
	b.nodes = make(map[uuid.UUID]*Node)
	b.nodeFloor = make(map[uuid.UUID]uuid.UUID)
	b.zones = make(map[uuid.UUID]*Zone)
	b.zoneOrder = b.zoneOrder[:0]
	b.adjacency = make(map[uuid.UUID][]uuid.UUID)
	b.pois = make(map[uuid.UUID]poiRef)

	for _, f := range b.Floors {
		if f == nil {
			return fmt.Errorf("building %s has a nil floor", b.ID)
		}
		if _, dup := b.floors[f.ID]; dup {
			return fmt.Errorf("duplicate floor id %s", f.ID)
		}
		b.floors[f.ID] = f

		for i := range f.Nodes {
			n := &f.Nodes[i]
			if _, dup := b.nodes[n.ID]; dup {
				return fmt.Errorf("duplicate node id %s", n.ID)
			}
			b.nodes[n.ID] = n
			b.nodeFloor[n.ID] = f.ID
		}

		for _, w := range f.Walls {
			if !b.nodeOnFloor(w.Start, f.ID) || !b.nodeOnFloor(w.End, f.ID) {
				return fmt.Errorf("wall %s references a node not on floor %s", w.ID, f.ID)
			}
		}

		for _, z := range f.Zones {
			if z == nil {
				return fmt.Errorf("floor %s has a nil zone", f.ID)
			}
			if _, dup := b.zones[z.ID]; dup {
				return fmt.Errorf("duplicate zone id %s", z.ID)
			}
			pts := make([]orb.Point, 0, len(z.Boundary))
			for _, nid := range z.Boundary {
				if !b.nodeOnFloor(nid, f.ID) {
					return fmt.Errorf("zone %s boundary node %s not found on floor %s", z.ID, nid, f.ID)
				}
				n := b.nodes[nid]
				pts = append(pts, orb.Point{n.X, n.Y})
			}
			z.FloorID = f.ID
			z.center = boundsCenter(pts)
			b.zones[z.ID] = z
			b.zoneOrder = append(b.zoneOrder, z)
		}

		for _, p := range f.PointsOfInterest {
			b.pois[p.ID] = poiRef{poi: p, floorID: f.ID}
		}
	}

	kept := make([]ZoneConnection, 0, len(b.Connections))
	for _, c := range b.Connections {
		if b.zones[c.A] == nil || b.zones[c.B] == nil {
			zap.L().Warn("dropping zone connection with unknown zone",
				zap.Stringer("zone1", c.A), zap.Stringer("zone2", c.B))
			continue
		}
		kept = append(kept, c)
		b.adjacency[c.A] = append(b.adjacency[c.A], c.B)
		b.adjacency[c.B] = append(b.adjacency[c.B], c.A)
	}
	b.Connections = kept

	return nil
}

func (b *Building) nodeOnFloor(nodeID, floorID uuid.UUID) bool {
	fid, ok := b.nodeFloor[nodeID]
	return ok && fid == floorID
}

// boundsCenter is the midpoint of the axis-aligned bounding box. An empty
// boundary yields the origin.
func boundsCenter(pts []orb.Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	c := orb.MultiPoint(pts).Bound().Center()
	return Point{X: c.X(), Y: c.Y()}
}

// Zone returns the zone with the given ID or nil
func (b *Building) Zone(id uuid.UUID) *Zone {
	if b == nil {
		return nil
	}
	return b.zones[id]
}

// Contains reports whether the zone belongs to this building
func (b *Building) Contains(zoneID uuid.UUID) bool {
	return b.Zone(zoneID) != nil
}

// Zones returns every zone in enumeration order: floors by index, then zones
// in the order their floor lists them.
func (b *Building) Zones() []*Zone {
	if b == nil {
		return nil
	}
	out := make([]*Zone, len(b.zoneOrder))
	copy(out, b.zoneOrder)
	return out
}

// Floor returns the floor with the given ID or nil
func (b *Building) Floor(id uuid.UUID) *Floor {
	if b == nil {
		return nil
	}
	return b.floors[id]
}

// FloorOf returns the floor a zone belongs to
func (b *Building) FloorOf(zoneID uuid.UUID) *Floor {
	z := b.Zone(zoneID)
	if z == nil {
		return nil
	}
	return b.floors[z.FloorID]
}

// Node returns the node with the given ID
func (b *Building) Node(id uuid.UUID) (Node, bool) {
	n, ok := b.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Neighbors returns the zones directly connected to zoneID, in connection order
func (b *Building) Neighbors(zoneID uuid.UUID) []*Zone {
	if b == nil {
		return nil
	}
	ids := b.adjacency[zoneID]
	out := make([]*Zone, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.zones[id])
	}
	return out
}

// BoundaryPoints resolves a zone's boundary node IDs to coordinates
func (b *Building) BoundaryPoints(zoneID uuid.UUID) []Point {
	z := b.Zone(zoneID)
	if z == nil {
		return nil
	}
	pts := make([]Point, 0, len(z.Boundary))
	for _, nid := range z.Boundary {
		if n, ok := b.nodes[nid]; ok {
			pts = append(pts, Point{X: n.X, Y: n.Y})
		}
	}
	return pts
}

// ZoneAt returns the first zone on the floor whose polygon contains p. Zones
// with fewer than three boundary nodes never match.
func (b *Building) ZoneAt(floorID uuid.UUID, p Point) *Zone {
	f := b.Floor(floorID)
	if f == nil {
		return nil
	}
	target := orb.Point{p.X, p.Y}
	for _, z := range f.Zones {
		pts := b.BoundaryPoints(z.ID)
		if len(pts) < 3 {
			continue
		}
		ring := make(orb.Ring, 0, len(pts)+1)
		for _, bp := range pts {
			ring = append(ring, orb.Point{bp.X, bp.Y})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		if planar.PolygonContains(orb.Polygon{ring}, target) {
			return z
		}
	}
	return nil
}

// PointOfInterest looks up a POI and the floor it sits on
func (b *Building) PointOfInterest(id uuid.UUID) (PointOfInterest, uuid.UUID, bool) {
	if b == nil {
		return PointOfInterest{}, uuid.Nil, false
	}
	ref, ok := b.pois[id]
	return ref.poi, ref.floorID, ok
}

// ZoneForPointOfInterest returns the zone containing the POI, or nil
func (b *Building) ZoneForPointOfInterest(id uuid.UUID) *Zone {
	poi, floorID, ok := b.PointOfInterest(id)
	if !ok {
		return nil
	}
	return b.ZoneAt(floorID, Point{X: poi.X, Y: poi.Y})
}

// FloorAbove returns the next floor up, or nil on the top level
func (b *Building) FloorAbove(floorID uuid.UUID) *Floor {
	return b.floorStep(floorID, 1)
}

// FloorBelow returns the next floor down, or nil on the bottom level
func (b *Building) FloorBelow(floorID uuid.UUID) *Floor {
	return b.floorStep(floorID, -1)
}

func (b *Building) floorStep(floorID uuid.UUID, delta int) *Floor {
	if b == nil {
		return nil
	}
	for i, f := range b.Floors {
		if f.ID != floorID {
			continue
		}
		j := i + delta
		if j < 0 || j >= len(b.Floors) {
			return nil
		}
		return b.Floors[j]
	}
	return nil
}

// CalibrationCount returns the number of calibration fingerprints across all zones
func (b *Building) CalibrationCount() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, z := range b.zoneOrder {
		n += len(z.Fingerprints)
	}
	return n
}

// Calibration returns a copy of every zone's calibration fingerprints keyed by zone
func (b *Building) Calibration() map[uuid.UUID][]Fingerprint {
	out := make(map[uuid.UUID][]Fingerprint)
	if b == nil {
		return out
	}
	for _, z := range b.zoneOrder {
		if len(z.Fingerprints) == 0 {
			continue
		}
		fps := make([]Fingerprint, len(z.Fingerprints))
		for i, fp := range z.Fingerprints {
			fps[i] = fp.Clone()
		}
		out[z.ID] = fps
	}
	return out
}

// WithFingerprints returns a new snapshot in which every zone's calibration
// list is replaced by fps[zone.ID] (empty when absent). The receiver is not
// modified.
func (b *Building) WithFingerprints(fps map[uuid.UUID][]Fingerprint) *Building {
	floors := make([]*Floor, len(b.Floors))
	for i, f := range b.Floors {
		fc := *f
		fc.Nodes = append([]Node(nil), f.Nodes...)
		fc.Walls = append([]Wall(nil), f.Walls...)
		fc.PointsOfInterest = append([]PointOfInterest(nil), f.PointsOfInterest...)
		fc.Zones = make([]*Zone, len(f.Zones))
		for j, z := range f.Zones {
			zc := *z
			zc.Boundary = append([]uuid.UUID(nil), z.Boundary...)
			zc.Fingerprints = nil
			for _, fp := range fps[z.ID] {
				zc.Fingerprints = append(zc.Fingerprints, fp.Clone())
			}
			fc.Zones[j] = &zc
		}
		floors[i] = &fc
	}

	nb := &Building{
		ID:          b.ID,
		Floors:      floors,
		Connections: append([]ZoneConnection(nil), b.Connections...),
	}
	// Same structure as an already validated building, so indexing cannot fail.
	_ = nb.index()
	return nb
}

// ZoneCenter returns the center of a zone and whether the zone exists
func (b *Building) ZoneCenter(zoneID uuid.UUID) (Point, bool) {
	z := b.Zone(zoneID)
	if z == nil {
		return Point{}, false
	}
	return z.Center(), true
}

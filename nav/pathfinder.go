package nav

import (
	"container/heap"
	"math"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// FloorChangeFactor scales distances between zones on different floors. It is
// applied to both edge costs and the heuristic, which makes the heuristic
// inadmissible across floors and biases routes toward staying on one level.
const FloorChangeFactor = 10

// Route is a walking path through connected zones, both endpoints included
type Route struct {
	Zones []*Zone
	Cost  float64
}

// ZoneIDs returns the IDs along the route
func (r *Route) ZoneIDs() []uuid.UUID {
	if r == nil {
		return nil
	}
	ids := make([]uuid.UUID, len(r.Zones))
	for i, z := range r.Zones {
		ids[i] = z.ID
	}
	return ids
}

// RouteSegment is a maximal run of consecutive route zones on one floor
type RouteSegment struct {
	FloorID uuid.UUID
	Zones   []*Zone
}

// Segments splits the route into per-floor runs in travel order
func (r *Route) Segments() []RouteSegment {
	if r == nil || len(r.Zones) == 0 {
		return nil
	}
	var segs []RouteSegment
	for _, z := range r.Zones {
		if n := len(segs); n > 0 && segs[n-1].FloorID == z.FloorID {
			segs[n-1].Zones = append(segs[n-1].Zones, z)
			continue
		}
		segs = append(segs, RouteSegment{FloorID: z.FloorID, Zones: []*Zone{z}})
	}
	return segs
}

// FloorChanges counts how many times the route moves between floors
func (r *Route) FloorChanges() int {
	segs := r.Segments()
	if len(segs) == 0 {
		return 0
	}
	return len(segs) - 1
}

// zoneCost is the straight-line distance between zone centers, scaled by
// FloorChangeFactor when the zones sit on different floors. It serves as both
// the edge cost and the heuristic.
func zoneCost(a, b *Zone) float64 {
	ca, cb := a.Center(), b.Center()
	d := planar.Distance(orb.Point{ca.X, ca.Y}, orb.Point{cb.X, cb.Y})
	if a.FloorID != b.FloorID {
		d *= FloorChangeFactor
	}
	return d
}

type frontierItem struct {
	zone *Zone
	f    float64
	g    float64
	seq  int
}

// frontier is a min-heap on f; equal f values pop in insertion order
type frontier []*frontierItem

func (q frontier) Len() int { return len(q) }

func (q frontier) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}

func (q frontier) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontier) Push(x any) { *q = append(*q, x.(*frontierItem)) }

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// FindPath runs A* over the zone connection graph. It returns nil when either
// zone is not part of the building or no path connects them.
func FindPath(b *Building, start, end uuid.UUID) *Route {
	from, to := b.Zone(start), b.Zone(end)
	if from == nil || to == nil {
		return nil
	}
	if from == to {
		return &Route{Zones: []*Zone{from}}
	}

	g := map[uuid.UUID]float64{from.ID: 0}
	prev := make(map[uuid.UUID]*Zone)
	closed := make(map[uuid.UUID]bool)

	q := &frontier{}
	seq := 0
	heap.Push(q, &frontierItem{zone: from, g: 0, f: zoneCost(from, to), seq: seq})

	for q.Len() > 0 {
		item := heap.Pop(q).(*frontierItem)
		cur := item.zone
		// Entries superseded by a cheaper path are skipped.
		if item.g > gOrInf(g, cur.ID) || closed[cur.ID] {
			continue
		}
		if cur == to {
			return &Route{Zones: reconstruct(prev, from, to), Cost: item.g}
		}
		closed[cur.ID] = true

		for _, next := range b.Neighbors(cur.ID) {
			tentative := item.g + zoneCost(cur, next)
			if tentative >= gOrInf(g, next.ID) {
				continue
			}
			g[next.ID] = tentative
			prev[next.ID] = cur
			delete(closed, next.ID)
			seq++
			heap.Push(q, &frontierItem{
				zone: next,
				g:    tentative,
				f:    tentative + zoneCost(next, to),
				seq:  seq,
			})
		}
	}
	return nil
}

func gOrInf(g map[uuid.UUID]float64, id uuid.UUID) float64 {
	if v, ok := g[id]; ok {
		return v
	}
	return math.Inf(1)
}

func reconstruct(prev map[uuid.UUID]*Zone, from, to *Zone) []*Zone {
	var path []*Zone
	for z := to; z != nil; z = prev[z.ID] {
		path = append(path, z)
		if z == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

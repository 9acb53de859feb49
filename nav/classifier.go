package nav

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MinRSSI stands in for a tag that one side of a comparison did not observe
const MinRSSI RSSI = -100

// DefaultK is the neighbour count used when no other value is configured
const DefaultK = 3

// Classifier maps a live fingerprint to a zone of the building
type Classifier interface {
	Classify(live Fingerprint, b *Building) *Zone
}

// KNNClassifier votes among the K calibration fingerprints nearest to the
// live signal
type KNNClassifier struct {
	K int
}

// Classify implements Classifier
func (c KNNClassifier) Classify(live Fingerprint, b *Building) *Zone {
	return Classify(live, b, c.K)
}

// Neighbor is one calibration fingerprint ranked by its distance to a live signal
type Neighbor struct {
	Zone     *Zone   `json:"-"`
	ZoneID   string  `json:"zoneId"`
	ZoneName string  `json:"zoneName"`
	Distance float64 `json:"distance"`
}

// Classify returns the zone winning a majority vote among the k nearest
// calibration fingerprints, or nil when there is nothing to compare.
//
// A zone with several fingerprints in the top k votes once per fingerprint.
// When two zones tie on votes, the one whose first vote ranks nearer to the
// live signal wins.
func Classify(live Fingerprint, b *Building, k int) *Zone {
	if k < 1 {
		k = 1
	}
	ranked := Neighbors(live, b, k)
	if len(ranked) == 0 {
		return nil
	}

	// ranked is in distance order, so the first time a zone is counted is
	// also its best rank.
	votes := make(map[*Zone]int, len(ranked))
	var order []*Zone
	for _, n := range ranked {
		if votes[n.Zone] == 0 {
			order = append(order, n.Zone)
		}
		votes[n.Zone]++
	}

	var winner *Zone
	best := 0
	for _, z := range order {
		if votes[z] > best {
			winner = z
			best = votes[z]
		}
	}
	return winner
}

// Neighbors ranks the building's calibration fingerprints by distance to the
// live signal and returns the first k. Equal distances keep enumeration order
// (floors, then zones, then fingerprints). A k below 1 returns every pair.
func Neighbors(live Fingerprint, b *Building, k int) []Neighbor {
	if b == nil || len(b.Floors) == 0 || live.IsEmpty() {
		return nil
	}

	var ranked []Neighbor
	for _, z := range b.zoneOrder {
		for _, fp := range z.Fingerprints {
			ranked = append(ranked, Neighbor{
				Zone:     z,
				ZoneID:   z.ID.String(),
				ZoneName: z.Name,
				Distance: Distance(live, fp),
			})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Distance < ranked[j].Distance
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Distance is the Euclidean distance between two fingerprints over the union
// of their tags. A tag missing on either side counts as MinRSSI.
func Distance(a, b Fingerprint) float64 {
	tags := make([]TagID, 0, len(a.Measurements)+len(b.Measurements))
	seen := make(map[TagID]bool, cap(tags))
	for _, fp := range [2]Fingerprint{a, b} {
		for _, m := range fp.Measurements {
			if !seen[m.TagID] {
				seen[m.TagID] = true
				tags = append(tags, m.TagID)
			}
		}
	}

	va := make([]float64, len(tags))
	vb := make([]float64, len(tags))
	for i, tag := range tags {
		va[i] = float64(rssiOrMin(a, tag))
		vb[i] = float64(rssiOrMin(b, tag))
	}
	return floats.Distance(va, vb, 2)
}

func rssiOrMin(fp Fingerprint, tag TagID) RSSI {
	if v, ok := fp.Lookup(tag); ok {
		return v
	}
	return MinRSSI
}

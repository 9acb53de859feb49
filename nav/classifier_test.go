package nav

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calibratedBuilding(t *testing.T) (*Building, *Zone, *Zone) {
	t.Helper()
	f := newFloor("G", 0)
	a := addRectZone(f, "A", 0, 0, 10, 10)
	b := addRectZone(f, "B", 10, 0, 20, 10)
	a.Fingerprints = []Fingerprint{fp(1, -50), fp(1, -70)}
	b.Fingerprints = []Fingerprint{fp(1, -60), fp(1, -90), fp(1, -40)}
	return mustBuilding(t, []*Floor{f}, connect(a, b)), a, b
}

func TestClassify_MajorityOfNearest(t *testing.T) {
	bld, a, _ := calibratedBuilding(t)

	// nearest three: B(0), A(10), A(10)
	got := Classify(fp(1, -60), bld, 3)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
}

func TestClassify_KOneTakesNearest(t *testing.T) {
	bld, _, b := calibratedBuilding(t)

	got := KNNClassifier{K: 1}.Classify(fp(1, -60), bld)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)

	// k below one behaves like one
	got = Classify(fp(1, -60), bld, 0)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
}

func TestClassify_NoData(t *testing.T) {
	bld, _, _ := calibratedBuilding(t)

	assert.Nil(t, Classify(Fingerprint{}, bld, 3), "empty live fingerprint")
	assert.Nil(t, Classify(fp(1, -60), nil, 3), "nil building")

	empty, err := NewBuilding(uuid.New(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, Classify(fp(1, -60), empty, 3), "no floors")

	uncalibrated := bld.WithFingerprints(nil)
	assert.Nil(t, Classify(fp(1, -60), uncalibrated, 3), "no calibration")
}

func TestClassify_VoteTiePrefersEarliestRank(t *testing.T) {
	f := newFloor("G", 0)
	a := addRectZone(f, "A", 0, 0, 10, 10)
	b := addRectZone(f, "B", 10, 0, 20, 10)
	a.Fingerprints = []Fingerprint{fp(1, -80), fp(1, -75)}
	b.Fingerprints = []Fingerprint{fp(1, -62), fp(1, -90)}
	bld := mustBuilding(t, []*Floor{f}, nil)

	// ranked: B(2), A(15), A(20), B(30); top four tie 2:2 and B ranks first
	got := Classify(fp(1, -60), bld, 4)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
}

func TestClassify_EqualDistanceKeepsEnumerationOrder(t *testing.T) {
	g := newFloor("G", 0)
	u := newFloor("U", 1)
	lower := addRectZone(g, "lower", 0, 0, 1, 1)
	upper := addRectZone(u, "upper", 0, 0, 1, 1)
	lower.Fingerprints = []Fingerprint{fp(1, -50)}
	upper.Fingerprints = []Fingerprint{fp(1, -70)}

	// floors passed out of order; enumeration follows floor index
	bld := mustBuilding(t, []*Floor{u, g}, nil)

	got := Classify(fp(1, -60), bld, 1)
	require.NotNil(t, got)
	assert.Equal(t, lower.ID, got.ID)
}

func TestDistance_UnionWithSentinel(t *testing.T) {
	tests := []struct {
		name string
		a, b Fingerprint
		want float64
	}{
		{"identical", fp(1, -50, 2, -60), fp(2, -60, 1, -50), 0},
		{"single tag", fp(1, -50), fp(1, -53), 3},
		{"missing tag on one side", fp(1, -50, 2, -64), fp(1, -50), 36},
		{"disjoint tags", fp(1, -97), fp(2, -96), 5},
		{"both empty", Fingerprint{}, Fingerprint{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Distance(tt.b, tt.a), 1e-9)
		})
	}
}

func TestNeighbors_Ranked(t *testing.T) {
	bld, a, b := calibratedBuilding(t)

	ns := Neighbors(fp(1, -60), bld, 0)
	require.Len(t, ns, 5)
	assert.Equal(t, b.ID, ns[0].Zone.ID)
	assert.Equal(t, a.ID, ns[1].Zone.ID)
	assert.Equal(t, a.ID, ns[2].Zone.ID)
	for i := 1; i < len(ns); i++ {
		assert.LessOrEqual(t, ns[i-1].Distance, ns[i].Distance)
	}

	assert.Len(t, Neighbors(fp(1, -60), bld, 2), 2)
}

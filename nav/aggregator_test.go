package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsAt(base time.Time, ms int, tag TagID, rssi RSSI) Observation {
	return Observation{TagID: tag, RSSI: rssi, Timestamp: base.Add(time.Duration(ms) * time.Millisecond)}
}

func TestAggregate(t *testing.T) {
	base := time.Unix(1700000000, 0)

	tests := []struct {
		name string
		in   []Observation
		want Fingerprint
	}{
		{
			name: "empty window",
			in:   nil,
			want: Fingerprint{},
		},
		{
			name: "single reading",
			in:   []Observation{obsAt(base, 0, 7, -61)},
			want: fp(7, -61),
		},
		{
			name: "mean per tag in first-seen order",
			in: []Observation{
				obsAt(base, 0, 2, -70),
				obsAt(base, 10, 1, -50),
				obsAt(base, 20, 2, -80),
				obsAt(base, 30, 1, -60),
			},
			want: fp(2, -75, 1, -55),
		},
		{
			name: "rounds halves away from zero",
			in: []Observation{
				obsAt(base, 0, 1, -60),
				obsAt(base, 1, 1, -61),
			},
			want: fp(1, -61),
		},
		{
			name: "rounds to nearest",
			in: []Observation{
				obsAt(base, 0, 1, -60),
				obsAt(base, 1, 1, -60),
				obsAt(base, 2, 1, -61),
			},
			want: fp(1, -60),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.in)
			assert.Equal(t, len(tt.want.Measurements), len(got.Measurements))
			for i, m := range tt.want.Measurements {
				assert.Equal(t, m, got.Measurements[i])
			}
		})
	}
}

func TestAggregate_OneMeasurementPerTag(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var obs []Observation
	for i := 0; i < 50; i++ {
		obs = append(obs, obsAt(base, i, TagID(i%4), RSSI(-40-i)))
	}
	got := Aggregate(obs)

	seen := map[TagID]bool{}
	for _, m := range got.Measurements {
		assert.False(t, seen[m.TagID], "tag %d appears twice", m.TagID)
		seen[m.TagID] = true
	}
	assert.Len(t, seen, 4)
}

func TestAggregateWindow_HalfOpen(t *testing.T) {
	base := time.Unix(1700000000, 0)
	obs := []Observation{
		obsAt(base, -1, 1, -10),
		obsAt(base, 0, 1, -50),
		obsAt(base, 999, 1, -70),
		obsAt(base, 1000, 1, -90),
	}
	got := AggregateWindow(obs, base, base.Add(time.Second))
	require.Len(t, got.Measurements, 1)
	assert.Equal(t, RSSI(-60), got.Measurements[0].RSSI)
}

// ---------------------------------------------------------------------------
// ObservationBuffer
// ---------------------------------------------------------------------------

func TestObservationBuffer_WindowAndPrune(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := NewObservationBuffer(0)

	buf.Add(obsAt(base, 0, 1, -50), obsAt(base, 500, 1, -60))
	buf.Add(obsAt(base, 1500, 2, -70))
	assert.Equal(t, 3, buf.Len())

	win := buf.Window(base, base.Add(time.Second))
	assert.Len(t, win, 2)

	removed := buf.Prune(base.Add(time.Second))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, buf.Len())

	// the earlier snapshot is unaffected by later writes
	assert.Len(t, win, 2)
	assert.Equal(t, TagID(1), win[0].TagID)

	buf.Clear()
	assert.Equal(t, 0, buf.Len())
}

func TestObservationBuffer_CapacityDropsOldest(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := NewObservationBuffer(2)
	buf.Add(obsAt(base, 0, 1, -50), obsAt(base, 1, 2, -50), obsAt(base, 2, 3, -50))

	win := buf.Window(base, base.Add(time.Second))
	require.Len(t, win, 2)
	assert.Equal(t, TagID(2), win[0].TagID)
	assert.Equal(t, TagID(3), win[1].TagID)
}

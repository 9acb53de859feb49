package nav

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Aggregate collapses a window of raw observations into a fingerprint: one
// measurement per tag holding the mean RSSI rounded to the nearest integer
// (halves away from zero). Tags appear in the order they were first observed.
// An empty window yields an empty fingerprint.
func Aggregate(observations []Observation) Fingerprint {
	if len(observations) == 0 {
		return Fingerprint{}
	}

	order := make([]TagID, 0, 8)
	samples := make(map[TagID][]float64)
	for _, o := range observations {
		if _, seen := samples[o.TagID]; !seen {
			order = append(order, o.TagID)
		}
		samples[o.TagID] = append(samples[o.TagID], float64(o.RSSI))
	}

	ms := make([]Measurement, 0, len(order))
	for _, tag := range order {
		mean := stat.Mean(samples[tag], nil)
		ms = append(ms, Measurement{TagID: tag, RSSI: RSSI(math.Round(mean))})
	}
	return Fingerprint{Measurements: ms}
}

// AggregateWindow aggregates only the observations with from <= ts < to
func AggregateWindow(observations []Observation, from, to time.Time) Fingerprint {
	return Aggregate(filterWindow(observations, from, to))
}

func filterWindow(observations []Observation, from, to time.Time) []Observation {
	var out []Observation
	for _, o := range observations {
		if o.Timestamp.Before(from) || !o.Timestamp.Before(to) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ObservationBuffer is the rolling store fed by the scan stream. Writers
// replace the backing slice under the lock, so a slice handed out by Window is
// never modified afterwards.
type ObservationBuffer struct {
	mu       sync.Mutex
	items    []Observation
	capacity int
}

// NewObservationBuffer creates a buffer. A capacity above zero bounds the
// buffer; the oldest observations are dropped first.
func NewObservationBuffer(capacity int) *ObservationBuffer {
	return &ObservationBuffer{capacity: capacity}
}

// Add appends observations in arrival order
func (b *ObservationBuffer) Add(obs ...Observation) {
	if len(obs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]Observation, 0, len(b.items)+len(obs))
	next = append(next, b.items...)
	next = append(next, obs...)
	if b.capacity > 0 && len(next) > b.capacity {
		next = next[len(next)-b.capacity:]
	}
	b.items = next
}

// Window returns a copy of the observations with from <= ts < to
func (b *ObservationBuffer) Window(from, to time.Time) []Observation {
	b.mu.Lock()
	items := b.items
	b.mu.Unlock()
	return filterWindow(items, from, to)
}

// Prune drops observations older than cutoff and returns how many were removed
func (b *ObservationBuffer) Prune(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make([]Observation, 0, len(b.items))
	for _, o := range b.items {
		if !o.Timestamp.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	removed := len(b.items) - len(kept)
	if removed > 0 {
		b.items = kept
	}
	return removed
}

// Len returns the number of buffered observations
func (b *ObservationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Clear empties the buffer
func (b *ObservationBuffer) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}

package nav

// OccurrenceFilter debounces a stream of raw readings. A value becomes stable
// only after it was seen threshold times in a row. The zero value of T stands
// for "no reading".
type OccurrenceFilter[T comparable] struct {
	threshold int
	stable    T
	lastSeen  T
	count     int
}

// NewOccurrenceFilter creates a filter. Thresholds below 1 are treated as 1.
func NewOccurrenceFilter[T comparable](threshold int) *OccurrenceFilter[T] {
	if threshold < 1 {
		threshold = 1
	}
	return &OccurrenceFilter[T]{threshold: threshold, count: 1}
}

// Next feeds one raw reading and returns the current stable value
func (f *OccurrenceFilter[T]) Next(v T) T {
	if v == f.lastSeen {
		f.count++
	} else {
		f.lastSeen = v
		f.count = 1
	}
	if f.count >= f.threshold {
		f.stable = f.lastSeen
	}
	return f.stable
}

// Stable returns the current stable value without feeding a reading
func (f *OccurrenceFilter[T]) Stable() T {
	return f.stable
}

// Reset returns the filter to its initial state
func (f *OccurrenceFilter[T]) Reset() {
	var zero T
	f.stable = zero
	f.lastSeen = zero
	f.count = 1
}

package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOccurrenceFilter(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		in        []string
		want      []string
	}{
		{"confirms on third occurrence", 3, []string{"X", "X", "Y", "Y", "Y"}, []string{"", "", "", "", "Y"}},
		{"threshold one follows input", 1, []string{"X", "Y", "", "Y"}, []string{"X", "Y", "", "Y"}},
		{"non-positive threshold acts as one", 0, []string{"X", "Y"}, []string{"X", "Y"}},
		{"flapping never confirms", 2, []string{"X", "Y", "X", "Y"}, []string{"", "", "", ""}},
		{"stable holds through noise", 2, []string{"X", "X", "Y", "X", "X"}, []string{"", "X", "X", "X", "X"}},
		{"none readings can clear stable", 2, []string{"X", "X", "", ""}, []string{"", "X", "X", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewOccurrenceFilter[string](tt.threshold)
			got := make([]string, 0, len(tt.in))
			for _, v := range tt.in {
				got = append(got, f.Next(v))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOccurrenceFilter_InitialNoneCountsTowardNone(t *testing.T) {
	// last seen starts as none with a count of one, so a single none reading
	// reaches a threshold of two
	f := NewOccurrenceFilter[int](2)
	assert.Equal(t, 0, f.Next(0))
	assert.Equal(t, 0, f.Next(5))
	assert.Equal(t, 5, f.Next(5))
}

func TestOccurrenceFilter_Reset(t *testing.T) {
	f := NewOccurrenceFilter[string](2)
	f.Next("A")
	f.Next("A")
	assert.Equal(t, "A", f.Stable())

	f.Reset()
	assert.Equal(t, "", f.Stable())
	assert.Equal(t, "", f.Next("A"))
	assert.Equal(t, "A", f.Next("A"))
}

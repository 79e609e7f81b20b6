package chunk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPlan_FiveHoursInTwoHourChunks(t *testing.T) {
	chunks, err := Plan(Range{Start: t0, End: t0.Add(5 * time.Hour)}, 2*time.Hour)
	require.NoError(t, err)

	want := []Range{
		{Start: t0, End: t0.Add(2 * time.Hour)},
		{Start: t0.Add(2 * time.Hour), End: t0.Add(4 * time.Hour)},
		{Start: t0.Add(4 * time.Hour), End: t0.Add(5 * time.Hour)},
	}
	assert.Equal(t, want, chunks)
}

func TestPlan_SingleChunk(t *testing.T) {
	for _, span := range []time.Duration{time.Hour, 2 * time.Hour} {
		r := Range{Start: t0, End: t0.Add(span)}
		chunks, err := Plan(r, 2*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []Range{r}, chunks)
	}
}

func TestPlan_Properties(t *testing.T) {
	spans := []time.Duration{time.Minute, 37 * time.Minute, time.Hour, 2 * time.Hour, 3 * time.Hour}
	lengths := []time.Duration{time.Second, 59 * time.Minute, 2 * time.Hour, 5*time.Hour + 13*time.Second, 49 * time.Hour}

	for _, span := range spans {
		for _, length := range lengths {
			r := Range{Start: t0.Add(17 * time.Second), End: t0.Add(17*time.Second + length)}

			chunks, err := Plan(r, span)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			assert.Equal(t, r.Start, chunks[0].Start)
			assert.Equal(t, r.End, chunks[len(chunks)-1].End)

			var total time.Duration
			for i, c := range chunks {
				assert.True(t, c.Start.Before(c.End), "chunk %d is empty", i)
				assert.LessOrEqual(t, c.Duration(), span)
				if i > 0 {
					assert.Equal(t, chunks[i-1].End, c.Start, "chunk %d is not contiguous", i)
				}
				total += c.Duration()
			}
			assert.Equal(t, length, total)

			again, err := Plan(r, span)
			require.NoError(t, err)
			assert.Equal(t, chunks, again)
		}
	}
}

func TestPlan_Errors(t *testing.T) {
	_, err := Plan(Range{Start: t0, End: t0}, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyRange)

	_, err = Plan(Range{Start: t0.Add(time.Hour), End: t0}, time.Hour)
	assert.ErrorIs(t, err, ErrEmptyRange)

	_, err = Plan(Range{Start: t0, End: t0.Add(time.Hour)}, 0)
	assert.ErrorIs(t, err, ErrInvalidSpan)
}

func TestCount_MatchesPlan(t *testing.T) {
	for _, length := range []time.Duration{time.Second, 2 * time.Hour, 2*time.Hour + 1, 49 * time.Hour} {
		r := Range{Start: t0, End: t0.Add(length)}

		n, err := Count(r, 2*time.Hour)
		require.NoError(t, err)

		chunks, err := Plan(r, 2*time.Hour)
		require.NoError(t, err)
		assert.Len(t, chunks, n)
	}
}

func TestPlan_WideRanges(t *testing.T) {
	// wider than a time.Duration, Sub saturates
	r := Range{
		Start: time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := Count(r, 2*time.Hour)
	assert.ErrorIs(t, err, ErrTooWide)

	assert.NotPanics(t, func() {
		_, err = Plan(r, 2*time.Hour)
	})
	assert.ErrorIs(t, err, ErrTooWide)

	// just under the limit still counts without overflowing
	r = Range{Start: t0, End: t0.Add(math.MaxInt64)}
	n, err := Count(r, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int(math.MaxInt64/int64(2*time.Hour))+1, n)
}

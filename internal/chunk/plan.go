package chunk

import (
	"errors"
	"fmt"
	"time"
)

const DefaultMaxSpan = 2 * time.Hour

var (
	ErrEmptyRange  = errors.New("range start must be before its end")
	ErrInvalidSpan = errors.New("chunk span must be positive")
	ErrTooWide     = errors.New("range is too wide to plan")
)

// Range is the half-open interval [Start, End)
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// Count is the number of chunks Plan would return for r, without building
// them. Ranges longer than a time.Duration can hold are rejected.
func Count(r Range, maxSpan time.Duration) (int, error) {
	if maxSpan <= 0 {
		return 0, ErrInvalidSpan
	}
	if !r.Start.Before(r.End) {
		return 0, fmt.Errorf("%w: %s", ErrEmptyRange, r)
	}

	d := r.Duration()
	if !r.Start.Add(d).Equal(r.End) {
		// Sub saturated
		return 0, fmt.Errorf("%w: %s", ErrTooWide, r)
	}

	n := d / maxSpan
	if d%maxSpan != 0 {
		n++
	}
	return int(n), nil
}

// Plan splits r into consecutive, non-overlapping chunks no longer than
// maxSpan. Chunks are contiguous, cover r exactly and the last one ends at
// r.End. A range that already fits yields a single chunk.
func Plan(r Range, maxSpan time.Duration) ([]Range, error) {
	n, err := Count(r, maxSpan)
	if err != nil {
		return nil, err
	}

	chunks := make([]Range, 0, n)

	for start := r.Start; start.Before(r.End); {
		end := start.Add(maxSpan)
		if end.After(r.End) {
			end = r.End
		}
		chunks = append(chunks, Range{Start: start, End: end})
		start = end
	}

	return chunks, nil
}

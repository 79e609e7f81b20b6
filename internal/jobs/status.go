package jobs

import (
	"fmt"
	"strconv"
	"strings"
)

type State int

const (
	StatePending State = iota
	StateProcessing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Status is a job's progress. Chunk and Total are only meaningful while
// processing; Reason only when failed.
type Status struct {
	State  State
	Chunk  int
	Total  int
	Reason string
}

func Pending() Status {
	return Status{State: StatePending}
}

func Processing(chunk, total int) Status {
	return Status{State: StateProcessing, Chunk: chunk, Total: total}
}

func Completed() Status {
	return Status{State: StateCompleted}
}

func Failed(reason string) Status {
	return Status{State: StateFailed, Reason: reason}
}

// Terminal reports whether the status can no longer change
func (s Status) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// String is the wire form: pending, processing_chunk_i/N, completed or failed
func (s Status) String() string {
	if s.State == StateProcessing {
		return fmt.Sprintf("processing_chunk_%d/%d", s.Chunk, s.Total)
	}
	return s.State.String()
}

// ParseStatus is the inverse of Status.String. The failure reason is not
// part of the wire form.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return Pending(), nil
	case "completed":
		return Completed(), nil
	case "failed":
		return Status{State: StateFailed}, nil
	}

	progress, ok := strings.CutPrefix(s, "processing_chunk_")
	if !ok {
		return Status{}, fmt.Errorf("unknown job status %q", s)
	}
	i, n, ok := strings.Cut(progress, "/")
	if !ok {
		return Status{}, fmt.Errorf("unknown job status %q", s)
	}
	chunk, err := strconv.Atoi(i)
	if err != nil {
		return Status{}, fmt.Errorf("unknown job status %q", s)
	}
	total, err := strconv.Atoi(n)
	if err != nil {
		return Status{}, fmt.Errorf("unknown job status %q", s)
	}

	return Processing(chunk, total), nil
}

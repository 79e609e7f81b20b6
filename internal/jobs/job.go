package jobs

import (
	"encoding/json"
	"time"

	"github.com/streamfold/ris-relay/internal/chunk"
)

// ChunkResult is the fetched payload of one completed chunk
type ChunkResult struct {
	Range chunk.Range
	Data  json.RawMessage
}

// Job is one historical fetch request and its progress
type Job struct {
	ID       string
	Resource string
	Range    chunk.Range
	Status   Status

	// TotalChunks is zero until the job is planned
	TotalChunks  int
	ChunkResults []ChunkResult

	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

// clone copies the job so callers never share the results slice with the store
func (j *Job) clone() Job {
	c := *j
	c.ChunkResults = append([]ChunkResult(nil), j.ChunkResults...)
	return c
}

package control

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/streamfold/ris-relay/internal/jobs"
)

// SubmitRequest asks for the historical updates of a resource. Times accept
// RFC 3339, a zone-less date-time (UTC) or a bare date.
type SubmitRequest struct {
	Resource  string `json:"resource"`
	StartTime string `json:"starttime"`
	EndTime   string `json:"endtime"`
}

type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse is the status view of one job
type JobResponse struct {
	JobID        string        `json:"job_id"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Resource     string        `json:"resource"`
	StartTime    time.Time     `json:"starttime"`
	EndTime      time.Time     `json:"endtime"`
	TotalChunks  int           `json:"total_chunks"`
	ChunkResults []ChunkResult `json:"chunk_results"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

type ChunkResult struct {
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
	Data  json.RawMessage `json:"data"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status            string `json:"status"`
	UpstreamConnected bool   `json:"upstream_connected"`
	Subscribers       int    `json:"subscribers"`
	ActiveJobs        int    `json:"active_jobs"`
}

func newJobResponse(j jobs.Job) JobResponse {
	resp := JobResponse{
		JobID:        j.ID,
		Status:       j.Status.String(),
		Error:        j.Status.Reason,
		Resource:     j.Resource,
		StartTime:    j.Range.Start,
		EndTime:      j.Range.End,
		TotalChunks:  j.TotalChunks,
		ChunkResults: make([]ChunkResult, 0, len(j.ChunkResults)),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	for _, cr := range j.ChunkResults {
		resp.ChunkResults = append(resp.ChunkResults, ChunkResult{
			Start: cr.Range.Start,
			End:   cr.Range.End,
			Data:  cr.Data,
		})
	}
	if !j.FinishedAt.IsZero() {
		finished := j.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

// Terminal reports whether the job reached completed or failed
func (r JobResponse) Terminal() bool {
	st, err := jobs.ParseStatus(r.Status)
	return err == nil && st.Terminal()
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a request timestamp, zone-less values are UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

package update

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// TimeFormat is the wire format of record timestamps (ISO-8601, UTC, second precision)
const TimeFormat = "2006-01-02T15:04:05Z"

// Record is the canonical form of one routing update event
type Record struct {
	// Prefix is the announced CIDR prefix
	Prefix string

	// OriginAS is the origin autonomous system, absent when the AS path
	// is empty or ends in an AS set
	OriginAS mo.Option[uint32]

	// Timestamp is when the route collector saw the update
	Timestamp time.Time
}

type wireRecord struct {
	Prefix    string  `json:"prefix"`
	OriginAS  *uint32 `json:"origin_as"`
	Timestamp string  `json:"timestamp"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		Prefix:    r.Prefix,
		Timestamp: r.Timestamp.UTC().Format(TimeFormat),
	}
	if asn, ok := r.OriginAS.Get(); ok {
		w.OriginAS = &asn
	}

	return json.Marshal(w)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(TimeFormat, w.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", w.Timestamp, err)
	}

	r.Prefix = w.Prefix
	r.Timestamp = ts
	r.OriginAS = mo.None[uint32]()
	if w.OriginAS != nil {
		r.OriginAS = mo.Some(*w.OriginAS)
	}

	return nil
}

func (r Record) String() string {
	origin := "-"
	if asn, ok := r.OriginAS.Get(); ok {
		origin = fmt.Sprintf("AS%d", asn)
	}
	return fmt.Sprintf("%s %s %s", r.Timestamp.UTC().Format(TimeFormat), r.Prefix, origin)
}

package filter

import (
	"encoding/json"
	"time"

	"github.com/samber/mo"
)

const (
	TypeAnnouncement = "announcement"
	TypeWithdrawal   = "withdrawal"
)

// Entry is one flattened historical update
type Entry struct {
	Timestamp time.Time
	Type      string
	Prefix    string
	OriginAS  mo.Option[uint32]
	PeerAS    mo.Option[uint32]
	Info      string
}

type wireEntry struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Prefix    string  `json:"prefix"`
	OriginAS  *uint32 `json:"origin_as"`
	PeerAS    *uint32 `json:"peer_as"`
	Info      string  `json:"info,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Type:      e.Type,
		Prefix:    e.Prefix,
		OriginAS:  optionPtr(e.OriginAS),
		PeerAS:    optionPtr(e.PeerAS),
		Info:      e.Info,
	}
	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return err
	}

	*e = Entry{
		Timestamp: ts,
		Type:      w.Type,
		Prefix:    w.Prefix,
		OriginAS:  ptrOption(w.OriginAS),
		PeerAS:    ptrOption(w.PeerAS),
		Info:      w.Info,
	}
	return nil
}

func optionPtr(o mo.Option[uint32]) *uint32 {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}

func ptrOption(p *uint32) mo.Option[uint32] {
	if p == nil {
		return mo.None[uint32]()
	}
	return mo.Some(*p)
}

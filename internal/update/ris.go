package update

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/samber/mo"
	"github.com/sugawarayuuta/sonnet"
)

// Kind classifies a RIS Live frame
type Kind int

const (
	KindIgnored Kind = iota
	KindUpdate
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindError:
		return "error"
	default:
		return "ignored"
	}
}

// Message is the result of decoding one RIS Live frame
type Message struct {
	Kind Kind

	// Type is the envelope type as sent by the upstream
	Type string

	// Records holds one record per announced prefix, only set for KindUpdate
	Records []Record

	// Dropped counts announcements that could not be translated
	Dropped int

	// Error is the upstream error text, only set for KindError
	Error string
}

type risMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type risData struct {
	Type          string            `json:"type"`
	Timestamp     *float64          `json:"timestamp"`
	Peer          string            `json:"peer"`
	Host          string            `json:"host"`
	Path          []any             `json:"path"`
	Announcements []risAnnouncement `json:"announcements"`
	Message       string            `json:"message"`
}

type risAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
	Prefix   string   `json:"prefix"`
}

// ParseRIS decodes a RIS Live frame. Only UPDATE messages produce records,
// either wrapped in a ris_message envelope or sent as a bare UPDATE envelope.
// An error is returned only when the frame is not a JSON object at all.
func ParseRIS(frame []byte) (Message, error) {
	var raw risMessage
	if err := sonnet.Unmarshal(frame, &raw); err != nil {
		return Message{}, fmt.Errorf("malformed RIS frame: %w", err)
	}

	msg := Message{Type: raw.Type}
	if raw.Type != "ris_message" && raw.Type != "ris_error" && raw.Type != "UPDATE" {
		return msg, nil
	}

	// a data payload that is not an object drops the message, not the connection
	var data risData
	if err := sonnet.Unmarshal(raw.Data, &data); err != nil {
		msg.Dropped = 1
		return msg, nil
	}

	switch {
	case raw.Type == "ris_message" && data.Type == "UPDATE", raw.Type == "UPDATE":
		msg.Kind = KindUpdate
	case raw.Type == "ris_error":
		msg.Kind = KindError
		msg.Error = data.Message
		return msg, nil
	default:
		return msg, nil
	}

	if data.Timestamp == nil {
		msg.Dropped = countPrefixes(data.Announcements)
		return msg, nil
	}
	ts := unixFloat(*data.Timestamp)
	origin := originAS(data.Path)

	for _, ann := range data.Announcements {
		prefixes := ann.Prefixes
		if len(prefixes) == 0 && ann.Prefix != "" {
			prefixes = []string{ann.Prefix}
		}
		if len(prefixes) == 0 {
			msg.Dropped++
			continue
		}

		for _, p := range prefixes {
			if p == "" {
				msg.Dropped++
				continue
			}
			msg.Records = append(msg.Records, Record{
				Prefix:    p,
				OriginAS:  origin,
				Timestamp: ts,
			})
		}
	}

	return msg, nil
}

func countPrefixes(anns []risAnnouncement) int {
	n := 0
	for _, ann := range anns {
		if len(ann.Prefixes) == 0 {
			n++
			continue
		}
		n += len(ann.Prefixes)
	}
	return n
}

func unixFloat(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// originAS is the last hop of the AS path. A trailing AS set ([]any) has no
// single origin.
func originAS(path []any) mo.Option[uint32] {
	if len(path) == 0 {
		return mo.None[uint32]()
	}

	switch v := path[len(path)-1].(type) {
	case float64:
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return mo.None[uint32]()
		}
		return mo.Some(uint32(v))
	default:
		return mo.None[uint32]()
	}
}

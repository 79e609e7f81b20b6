package ripestat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/streamfold/ris-relay/internal/filter"
)

type updatesPayload struct {
	Data struct {
		Updates []rawUpdate `json:"updates"`
	} `json:"data"`
}

type rawUpdate struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Attrs     struct {
		TargetPrefix string            `json:"target_prefix"`
		Path         []json.RawMessage `json:"path"`
		SourceID     string            `json:"source_id"`
	} `json:"attrs"`
}

// timestamps come without a zone and are UTC
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Updates flattens a bgp-updates payload into entries, in payload order.
// Rows with an unknown type or an unparseable timestamp are skipped.
func Updates(payload json.RawMessage) ([]filter.Entry, error) {
	var p updatesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}

	entries := make([]filter.Entry, 0, len(p.Data.Updates))
	for _, u := range p.Data.Updates {
		ts, ok := parseTime(u.Timestamp)
		if !ok {
			continue
		}

		e := filter.Entry{
			Timestamp: ts,
			Prefix:    u.Attrs.TargetPrefix,
			OriginAS:  mo.None[uint32](),
			PeerAS:    mo.None[uint32](),
		}

		switch u.Type {
		case "A":
			e.Type = filter.TypeAnnouncement
			path := parsePath(u.Attrs.Path)
			if len(path) > 0 {
				e.PeerAS = path[0]
				e.OriginAS = path[len(path)-1]
			}
			e.Info = pathString(u.Attrs.Path)
		case "W":
			e.Type = filter.TypeWithdrawal
			e.Info = u.Attrs.SourceID
		default:
			continue
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// parsePath maps each hop to an ASN. AS sets and other hops that are not
// plain ASNs are absent.
func parsePath(path []json.RawMessage) []mo.Option[uint32] {
	out := make([]mo.Option[uint32], 0, len(path))
	for _, hop := range path {
		asn, err := strconv.ParseUint(string(hop), 10, 32)
		if err != nil {
			out = append(out, mo.None[uint32]())
			continue
		}
		out = append(out, mo.Some(uint32(asn)))
	}
	return out
}

func pathString(path []json.RawMessage) string {
	hops := make([]string, 0, len(path))
	for _, hop := range path {
		hops = append(hops, string(hop))
	}
	return strings.Join(hops, " ")
}

package filter

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/samber/mo"
)

var ErrInvalidQuery = errors.New("query must be an AS number or an IP prefix")

// Query selects entries either by AS number or by prefix, never both
type Query struct {
	ASN    mo.Option[uint32]
	Prefix mo.Option[netip.Prefix]
}

// ParseQuery accepts "64500", "AS64500", a CIDR prefix or a bare address.
// A bare address becomes its host prefix.
func ParseQuery(s string) (Query, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{}, ErrInvalidQuery
	}

	digits := s
	if len(s) > 2 && strings.EqualFold(s[:2], "as") {
		digits = s[2:]
	}
	if asn, err := strconv.ParseUint(digits, 10, 32); err == nil {
		return Query{ASN: mo.Some(uint32(asn))}, nil
	}

	if p, err := netip.ParsePrefix(s); err == nil {
		return Query{Prefix: mo.Some(p.Masked())}, nil
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return Query{Prefix: mo.Some(netip.PrefixFrom(addr, addr.BitLen()))}, nil
	}

	return Query{}, fmt.Errorf("%w: %q", ErrInvalidQuery, s)
}

func (q Query) String() string {
	if asn, ok := q.ASN.Get(); ok {
		return fmt.Sprintf("AS%d", asn)
	}
	if p, ok := q.Prefix.Get(); ok {
		return p.String()
	}
	return ""
}

// Matches reports whether e is selected by q. ASN queries match the origin
// or the peer, prefix queries match any overlapping prefix of the same
// family, i.e. every subnet and supernet.
func (q Query) Matches(e Entry) bool {
	if asn, ok := q.ASN.Get(); ok {
		return hasASN(e.OriginAS, asn) || hasASN(e.PeerAS, asn)
	}

	want, ok := q.Prefix.Get()
	if !ok {
		return false
	}
	got, err := netip.ParsePrefix(e.Prefix)
	if err != nil {
		return false
	}
	if got.Addr().Is4() != want.Addr().Is4() {
		return false
	}
	return want.Overlaps(got)
}

// Match parses query and returns the entries it selects, in input order
func Match(query string, entries []Entry) ([]Entry, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0)
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func hasASN(o mo.Option[uint32], asn uint32) bool {
	v, ok := o.Get()
	return ok && v == asn
}

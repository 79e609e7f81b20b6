package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(prefix string, origin, peer uint32) Entry {
	return Entry{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:      TypeAnnouncement,
		Prefix:    prefix,
		OriginAS:  mo.Some(origin),
		PeerAS:    mo.Some(peer),
	}
}

func prefixes(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Prefix)
	}
	return out
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "15169", want: "AS15169"},
		{in: "AS15169", want: "AS15169"},
		{in: "as64500", want: "AS64500"},
		{in: " 10.1.0.0/16 ", want: "10.1.0.0/16"},
		{in: "10.1.2.3/16", want: "10.1.0.0/16"},
		{in: "192.0.2.1", want: "192.0.2.1/32"},
		{in: "2001:db8::/32", want: "2001:db8::/32"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, err := ParseQuery(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParseQuery_Invalid(t *testing.T) {
	for _, in := range []string{"", "AS", "ASabc", "google.com", "10.0.0.0/33", "99999999999"} {
		_, err := ParseQuery(in)
		assert.ErrorIs(t, err, ErrInvalidQuery, in)
	}
}

func TestMatch_Prefix(t *testing.T) {
	entries := []Entry{
		entry("10.1.2.0/24", 1, 2),
		entry("10.0.0.0/8", 1, 2),
		entry("10.2.0.0/16", 1, 2),
		entry("2001:db8::/32", 1, 2),
		entry("not-a-prefix", 1, 2),
	}

	got, err := Match("10.1.0.0/16", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.2.0/24", "10.0.0.0/8"}, prefixes(got))

	got, err = Match("2001:db8:1::/48", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"2001:db8::/32"}, prefixes(got))

	got, err = Match("10.2.3.4", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "10.2.0.0/16"}, prefixes(got))
}

func TestMatch_ASN(t *testing.T) {
	entries := []Entry{
		entry("192.0.2.0/24", 64500, 3333),
		entry("198.51.100.0/24", 64501, 64500),
		entry("203.0.113.0/24", 64502, 3333),
		{Prefix: "203.0.113.128/25", Type: TypeWithdrawal, PeerAS: mo.Some[uint32](3333)},
	}

	got, err := Match("AS64500", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.0/24", "198.51.100.0/24"}, prefixes(got))

	got, err = Match("3333", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.0/24", "203.0.113.0/24", "203.0.113.128/25"}, prefixes(got))

	got, err = Match("65000", entries)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatch_InvalidQuery(t *testing.T) {
	_, err := Match("nonsense", []Entry{entry("10.0.0.0/8", 1, 2)})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestEntry_JSON(t *testing.T) {
	e := Entry{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC),
		Type:      TypeWithdrawal,
		Prefix:    "192.0.2.0/24",
		PeerAS:    mo.Some[uint32](3333),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"timestamp":"2024-01-01T00:00:05Z","type":"withdrawal","prefix":"192.0.2.0/24","origin_as":null,"peer_as":3333}`,
		string(data))

	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, e.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, e.PeerAS, back.PeerAS)
	assert.True(t, back.OriginAS.IsAbsent())
}

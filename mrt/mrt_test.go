package mrt

import (
	"encoding/binary"
	"testing"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

func u16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

func buildMrtRecord(typ, subtype uint16, body []byte) []byte {
	hdr := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], 1700000000)
	binary.BigEndian.PutUint16(hdr[4:6], typ)
	binary.BigEndian.PutUint16(hdr[6:8], subtype)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	return append(hdr, body...)
}

func TestReadHeaderAndSplit(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	rec := buildMrtRecord(TABLE_DUMP_V2, TD2_PEER_INDEX_TABLE, body)

	h, rest, err := ReadHeader(rec)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != TABLE_DUMP_V2 || h.Subtype != TD2_PEER_INDEX_TABLE || int(h.Length) != len(body) {
		t.Fatalf("header mismatch: %+v", h)
	}
	if len(rest) != len(body) {
		t.Fatalf("body length mismatch: %d", len(rest))
	}

	adv, tok, err := SplitMrt(rec, false)
	if err != nil {
		t.Fatal(err)
	}
	if adv != len(rec) || len(tok) != len(rec) {
		t.Fatalf("split mismatch: adv=%d toklen=%d", adv, len(tok))
	}
}

// S3 -- TABLE_DUMPv2 RIB_IPV6_UNICAST rebuild.
func TestS3PeerIndexAndRibV6Rebuild(t *testing.T) {
	var peerBody []byte
	peerBody = append(peerBody, u32(0xC0000201)...) // collector id
	peerBody = append(peerBody, u16(0)...)           // view name length 0
	peerBody = append(peerBody, u16(1)...)           // peer count

	peerType := byte(0x2 | 0x1) // AS4 | IPv6
	var peerEntry []byte
	peerEntry = append(peerEntry, peerType)
	peerEntry = append(peerEntry, u32(0x0A000001)...) // peer bgp id
	v6peer := netaddr.MustParse("2001:db8::1/128")
	peerEntry = append(peerEntry, v6peer.Bytes()...)
	peerEntry = append(peerEntry, u32(65000)...)
	peerBody = append(peerBody, peerEntry...)

	idx, err := ParsePeerIndexTable(peerBody)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Peers) != 1 || idx.Peers[0].PeerAS != 65000 || !idx.Peers[0].AS4 {
		t.Fatalf("unexpected peer index: %+v", idx)
	}

	prefix := netaddr.MustParse("2001:db8:cafe::/48")
	var ribBody []byte
	ribBody = append(ribBody, u32(1)...)           // sequence number
	ribBody = append(ribBody, byte(prefix.Bitlen)) // bitlen
	ribBody = append(ribBody, prefix.Bytes()...)
	ribBody = append(ribBody, u16(1)...) // entry count

	attrs := bgpattr.MakeOrigin(nil, 0)
	attrs = bgpattr.MakeLocalPref(attrs, 100)
	nextHop := netaddr.MustParse("2001:db8::ffff/128")
	truncated := append([]byte{byte(len(nextHop.Bytes()))}, nextHop.Bytes()...)
	attrs = bgpattr.Put(attrs, bgpattr.FLAG_OPTIONAL, bgpattr.MP_REACH_NLRI, truncated)
	var entry []byte
	entry = append(entry, u16(0)...)               // peer index
	entry = append(entry, u32(1700000000)...)      // timestamp
	entry = append(entry, u16(uint16(len(attrs)))...)
	entry = append(entry, attrs...)
	ribBody = append(ribBody, entry...)

	rib, err := ParseRIBUnicast(ribBody, true)
	if err != nil {
		t.Fatal(err)
	}
	if !rib.Prefix.Equal(prefix) {
		t.Errorf("prefix mismatch: got %v want %v", rib.Prefix, prefix)
	}
	if len(rib.Entries) != 1 {
		t.Fatalf("expected 1 rib entry, got %d", len(rib.Entries))
	}

	up, err := rib.ToUpdate(0, true, idx.Peers[0].AS4, RebuildOptions{FULLMPREACH: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(up.NLRI) != 1 || !up.NLRI[0].Addr.Equal(prefix) {
		t.Errorf("rebuilt update NLRI mismatch: %+v", up.NLRI)
	}
	lp, err := up.Attr(bgpattr.LOCAL_PREF)
	if err != nil {
		t.Fatal(err)
	}
	val, err := bgpattr.GetLocalPref(lp)
	if err != nil || val != 100 {
		t.Errorf("local pref mismatch: %v %v", val, err)
	}

	mpAttr, err := up.Attr(bgpattr.MP_REACH_NLRI)
	if err != nil {
		t.Fatal(err)
	}
	r, err := bgpattr.GetMPReach(mpAttr, false)
	if err != nil {
		t.Fatalf("rebuilt MP_REACH_NLRI did not decode as a full one: %v", err)
	}
	if r.AFI != bgpattr.AFI_IPV6 || r.SAFI != bgpattr.SAFI_UNICAST {
		t.Errorf("rebuilt MP_REACH_NLRI AFI/SAFI = %d/%d, want %d/%d", r.AFI, r.SAFI, bgpattr.AFI_IPV6, bgpattr.SAFI_UNICAST)
	}
	if len(r.NextHops) != 1 || !r.NextHops[0].Equal(nextHop) {
		t.Errorf("rebuilt next hop = %+v, want %v", r.NextHops, nextHop)
	}
	if len(r.NLRI) != 1 || !r.NLRI[0].Addr.Equal(prefix) {
		t.Errorf("rebuilt MP_REACH_NLRI NLRI = %+v, want %v", r.NLRI, prefix)
	}
}

// RIB_IPV6_UNICAST rebuild with two next hops (global + link-local):
// FULLMPREACH unset must trim to the global-only next hop.
func TestRibV6RebuildTrimsLinkLocalWithoutFullMPReach(t *testing.T) {
	prefix := netaddr.MustParse("2001:db8:cafe::/48")
	global := netaddr.MustParse("2001:db8::1/128")
	linkLocal := netaddr.MustParse("fe80::1/128")
	var nh []byte
	nh = append(nh, global.Bytes()...)
	nh = append(nh, linkLocal.Bytes()...)
	truncated := append([]byte{byte(len(nh))}, nh...)

	attrs := bgpattr.Put(nil, bgpattr.FLAG_OPTIONAL, bgpattr.MP_REACH_NLRI, truncated)

	rib := &RIB{
		Prefix: prefix,
		Entries: []RIBEntry{
			{PeerIndex: 0, Attrs: []bgpattr.Attr{mustParseAttr(t, attrs)}},
		},
	}

	up, err := rib.ToUpdate(0, true, true, RebuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	mpAttr, err := up.Attr(bgpattr.MP_REACH_NLRI)
	if err != nil {
		t.Fatal(err)
	}
	r, err := bgpattr.GetMPReach(mpAttr, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.NextHops) != 1 || !r.NextHops[0].Equal(global) {
		t.Errorf("expected link-local next hop trimmed, got %+v", r.NextHops)
	}
}

func mustParseAttr(t *testing.T, wire []byte) bgpattr.Attr {
	t.Helper()
	a, _, err := bgpattr.Parse(wire)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestTruncateASN32(t *testing.T) {
	if _, ok := TruncateASN32(70000); ok {
		t.Error("expected truncation failure for out-of-range ASN")
	}
	v, ok := TruncateASN32(65000)
	if !ok || v != 65000 {
		t.Errorf("got %d %v", v, ok)
	}
}

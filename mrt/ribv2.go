package mrt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// PeerEntry is one row of a TABLE_DUMPv2 PEER_INDEX_TABLE (RFC 6396
// section 4.3.1).
type PeerEntry struct {
	BGPID  uint32
	AS4    bool
	IP     netaddr.Addr
	PeerAS uint32
}

// PeerIndexTable is the decoded PEER_INDEX_TABLE subtype. It is kept
// by the caller across subsequent RIB_IPV4_UNICAST/RIB_IPV6_UNICAST
// records in the same dump, threaded explicitly rather than stored on
// a package-level/thread-local slot, since a Go caller can just hold
// a value.
type PeerIndexTable struct {
	CollectorBGPID uint32
	ViewName       string
	Peers          []PeerEntry
}

// ParsePeerIndexTable decodes a TABLE_DUMPv2 PEER_INDEX_TABLE record
// body.
func ParsePeerIndexTable(buf []byte) (*PeerIndexTable, error) {
	if len(buf) < 6 {
		return nil, errors.New("mrt: buffer too small for PEER_INDEX_TABLE header")
	}
	t := &PeerIndexTable{CollectorBGPID: binary.BigEndian.Uint32(buf[0:4])}
	vlen := int(binary.BigEndian.Uint16(buf[4:6]))
	buf = buf[6:]
	if len(buf) < vlen {
		return nil, errors.New("mrt: truncated view name")
	}
	t.ViewName = string(buf[:vlen])
	buf = buf[vlen:]

	if len(buf) < 2 {
		return nil, errors.New("mrt: truncated peer count")
	}
	peerCount := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]

	t.Peers = make([]PeerEntry, peerCount)
	for i := 0; i < peerCount; i++ {
		p, n, err := parsePeerEntry(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "peer entry %d", i)
		}
		t.Peers[i] = p
		buf = buf[n:]
	}
	return t, nil
}

func parsePeerEntry(buf []byte) (PeerEntry, int, error) {
	if len(buf) < 1 {
		return PeerEntry{}, 0, errors.New("truncated peer type")
	}
	peerType := buf[0]
	as4 := peerType&0x2 != 0
	ipv6 := peerType&0x1 != 0
	n := 1

	if len(buf) < n+4 {
		return PeerEntry{}, 0, errors.New("truncated peer BGP id")
	}
	p := PeerEntry{AS4: as4, BGPID: binary.BigEndian.Uint32(buf[n : n+4])}
	n += 4

	fam, addrLen := netaddr.V4, 4
	if ipv6 {
		fam, addrLen = netaddr.V6, 16
	}
	if len(buf) < n+addrLen {
		return PeerEntry{}, 0, errors.New("truncated peer IP")
	}
	ip, err := netaddr.New(fam, fam.MaxBitlen(), buf[n:n+addrLen])
	if err != nil {
		return PeerEntry{}, 0, err
	}
	p.IP = ip
	n += addrLen

	asLen := 2
	if as4 {
		asLen = 4
	}
	if len(buf) < n+asLen {
		return PeerEntry{}, 0, errors.New("truncated peer AS")
	}
	if as4 {
		p.PeerAS = binary.BigEndian.Uint32(buf[n : n+asLen])
	} else {
		p.PeerAS = uint32(binary.BigEndian.Uint16(buf[n : n+asLen]))
	}
	n += asLen
	return p, n, nil
}

// RIBEntry is one route entry inside a RIB_IPV4_UNICAST/
// RIB_IPV6_UNICAST record: a peer index, an originating timestamp,
// and the path attributes as they would appear on an UPDATE.
type RIBEntry struct {
	PeerIndex uint16
	Timestamp uint32
	Attrs     []bgpattr.Attr
}

// RIB is a decoded RIB_IPV4_UNICAST/RIB_IPV6_UNICAST record: one
// prefix and the per-peer entries carrying it.
type RIB struct {
	Prefix  netaddr.Addr
	Entries []RIBEntry
}

// ParseRIBUnicast decodes a TABLE_DUMPv2 RIB_IPV4_UNICAST or
// RIB_IPV6_UNICAST record body.
func ParseRIBUnicast(buf []byte, v6 bool) (*RIB, error) {
	if len(buf) < 5 {
		return nil, errors.New("mrt: buffer too small for RIB sequence number and bitlen")
	}
	buf = buf[4:] // sequence number, unused by this module
	bitlen := buf[0]
	buf = buf[1:]

	fam := netaddr.V4
	if v6 {
		fam = netaddr.V6
	}
	nb := netaddr.Naddrsize(int(bitlen))
	if len(buf) < nb {
		return nil, fmt.Errorf("mrt: buffer too small for prefix bytes: need %d have %d", nb, len(buf))
	}
	prefix, err := netaddr.New(fam, int(bitlen), buf[:nb])
	if err != nil {
		return nil, err
	}
	buf = buf[nb:]

	if len(buf) < 2 {
		return nil, errors.New("mrt: buffer too small for entry count")
	}
	entryCount := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]

	rib := &RIB{Prefix: prefix, Entries: make([]RIBEntry, entryCount)}
	for i := 0; i < entryCount; i++ {
		e, n, err := parseRIBEntry(buf)
		if err != nil {
			return nil, errors.Wrapf(err, "rib entry %d", i)
		}
		rib.Entries[i] = e
		buf = buf[n:]
	}
	return rib, nil
}

func parseRIBEntry(buf []byte) (RIBEntry, int, error) {
	if len(buf) < 8 {
		return RIBEntry{}, 0, errors.New("truncated RIB entry header")
	}
	e := RIBEntry{
		PeerIndex: binary.BigEndian.Uint16(buf[0:2]),
		Timestamp: binary.BigEndian.Uint32(buf[2:6]),
	}
	attrLen := int(binary.BigEndian.Uint16(buf[6:8]))
	n := 8
	if len(buf) < n+attrLen {
		return RIBEntry{}, 0, errors.New("truncated RIB entry attributes")
	}
	attrBuf := buf[n : n+attrLen]
	for len(attrBuf) > 0 {
		a, an, err := bgpattr.Parse(attrBuf)
		if err != nil {
			return RIBEntry{}, 0, err
		}
		e.Attrs = append(e.Attrs, a)
		attrBuf = attrBuf[an:]
	}
	n += attrLen
	return e, n, nil
}

// ToUpdate synthesizes a bgpmsg.Update representing a single RIB
// entry as if it had arrived as a live UPDATE advertising rib.Prefix.
// TABLE_DUMPv2 records carry no withdrawn-routes/NLRI fields of their
// own -- the prefix lives in the RIB record, not the entry -- and, for
// any AFI/SAFI other than IPv4 unicast, the entry's MP_REACH_NLRI is
// itself collector-truncated (RFC 6396 section 4.3.4 strips the AFI,
// SAFI, reserved byte, and NLRI a live-session attribute would carry,
// since the collector already knows all three from context). Rebuild
// does this in order:
//  1. validate entryIdx and that rib.Prefix's family matches v6,
//  2. split the entry's attributes into pass-through and MP_REACH_NLRI,
//  3. if AS_PATH is present, decode it at the peer's negotiated AS
//     width (as4) to assert it isn't truncated/corrupt before reuse,
//  4. if MP_UNREACH_NLRI is present and STRIPUNREACH is set, drop it,
//  5. if no MP_REACH_NLRI is present (IPv4 unicast, classic NEXT_HOP),
//     nothing further to rebuild,
//  6. otherwise decode the truncated MP_REACH_NLRI's next hops,
//  7. validate next-hop length against STDMRT when set, and trim the
//     IPv6 link-local next hop when FULLMPREACH is unset,
//  8. re-encode a spec-complete MP_REACH_NLRI (AFI/SAFI/next-hop-len/
//     next-hop bytes/reserved/NLRI=rib.Prefix) and append it.
func (rib *RIB) ToUpdate(entryIdx int, v6 bool, as4 bool, opts RebuildOptions) (*bgpmsg.Update, error) {
	if entryIdx < 0 || entryIdx >= len(rib.Entries) {
		return nil, fmt.Errorf("mrt: entry index %d out of range (%d entries)", entryIdx, len(rib.Entries))
	}
	fam := netaddr.V4
	if v6 {
		fam = netaddr.V6
	}
	if rib.Prefix.Family != fam {
		return nil, fmt.Errorf("mrt: RIB prefix family %s does not match requested %s", rib.Prefix.Family, fam)
	}

	entry := rib.Entries[entryIdx]
	var pass []bgpattr.Attr
	var mpReach *bgpattr.Attr
	for i, a := range entry.Attrs {
		switch a.Code {
		case bgpattr.MP_REACH_NLRI:
			mpReach = &entry.Attrs[i]
		case bgpattr.MP_UNREACH_NLRI:
			if opts.STRIPUNREACH {
				continue
			}
			pass = append(pass, a)
		case bgpattr.AS_PATH:
			if _, err := bgpattr.GetAsPath(a, as4); err != nil {
				return nil, errors.Wrap(err, "mrt: RIB entry AS_PATH")
			}
			pass = append(pass, a)
		default:
			pass = append(pass, a)
		}
	}

	if mpReach == nil {
		return &bgpmsg.Update{
			Attrs: pass,
			NLRI:  []netaddr.AddrAp{{Addr: rib.Prefix}},
		}, nil
	}

	r, err := bgpattr.GetMPReachTableDump(*mpReach, fam)
	if err != nil {
		return nil, errors.Wrap(err, "mrt: rebuilding RIB entry MP_REACH_NLRI")
	}
	if opts.STDMRT {
		unit := netaddr.Naddrsize(fam.MaxBitlen())
		if len(r.NextHops) == 0 || len(r.NextHops) > 2 || unit == 0 {
			return nil, fmt.Errorf("mrt: RIB entry MP_REACH_NLRI carries %d next hops, STDMRT requires 1 or 2", len(r.NextHops))
		}
	}
	if !opts.FULLMPREACH && fam == netaddr.V6 && len(r.NextHops) > 1 {
		r.NextHops = r.NextHops[:1] // drop the link-local next hop
	}
	r.NLRI = []netaddr.AddrAp{{Addr: rib.Prefix}}
	encoded := bgpattr.MakeMPReach(nil, r, false)
	rebuilt, _, err := bgpattr.Parse(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "mrt: re-encoding rebuilt MP_REACH_NLRI")
	}
	pass = append(pass, rebuilt)

	return &bgpmsg.Update{
		Attrs: pass,
		NLRI:  []netaddr.AddrAp{{Addr: rib.Prefix}},
	}, nil
}

package bgpattr

import (
	"encoding/binary"
	"fmt"

	"github.com/CSUNetSec/bgpcore/netaddr"
)

// AFI/SAFI values the module understands (RFC 4760).
const (
	AFI_IPV4 uint16 = 1
	AFI_IPV6 uint16 = 2

	SAFI_UNICAST   uint8 = 1
	SAFI_MULTICAST uint8 = 2
)

// MPReach is the decoded MP_REACH_NLRI attribute value.
type MPReach struct {
	AFI      uint16
	SAFI     uint8
	NextHops []netaddr.Addr
	NLRI     []netaddr.AddrAp
}

// MakeMPReach builds an MP_REACH_NLRI attribute.
func MakeMPReach(dst []byte, r MPReach, addPath bool) []byte {
	var v []byte
	var afib [2]byte
	binary.BigEndian.PutUint16(afib[:], r.AFI)
	v = append(v, afib[:]...)
	v = append(v, r.SAFI)

	var nhlen int
	for _, nh := range r.NextHops {
		nhlen += len(nh.Bytes())
	}
	v = append(v, byte(nhlen))
	for _, nh := range r.NextHops {
		v = append(v, nh.Bytes()...)
	}
	v = append(v, 0) // reserved SNPA count

	for _, n := range r.NLRI {
		v = putPrefix(v, n, addPath)
	}
	return Put(dst, FLAG_OPTIONAL, MP_REACH_NLRI, v)
}

// GetMPReach decodes an MP_REACH_NLRI attribute.
func GetMPReach(a Attr, addPath bool) (MPReach, error) {
	if a.Code != MP_REACH_NLRI {
		return MPReach{}, fmt.Errorf("bgpattr: not an MP_REACH_NLRI attribute")
	}
	buf := a.Value
	if len(buf) < 5 {
		return MPReach{}, fmt.Errorf("bgpattr: truncated MP_REACH_NLRI")
	}
	r := MPReach{AFI: binary.BigEndian.Uint16(buf[0:2]), SAFI: buf[2]}
	nhlen := int(buf[3])
	buf = buf[4:]
	if len(buf) < nhlen {
		return MPReach{}, fmt.Errorf("bgpattr: truncated MP_REACH_NLRI next hop")
	}
	fam := afiFamily(r.AFI)
	nhBytes := buf[:nhlen]
	unit := netaddr.Naddrsize(fam.MaxBitlen())
	for len(nhBytes) >= unit {
		nh, err := netaddr.New(fam, fam.MaxBitlen(), nhBytes[:unit])
		if err != nil {
			return MPReach{}, err
		}
		r.NextHops = append(r.NextHops, nh)
		nhBytes = nhBytes[unit:]
	}
	buf = buf[nhlen:]
	if len(buf) < 1 {
		return MPReach{}, fmt.Errorf("bgpattr: truncated MP_REACH_NLRI SNPA count")
	}
	buf = buf[1:] // skip SNPA list (ignored -- deprecated per RFC 4760)

	nlri, err := getPrefixList(buf, fam, addPath)
	if err != nil {
		return MPReach{}, err
	}
	r.NLRI = nlri
	return r, nil
}

// MPUnreach is the decoded MP_UNREACH_NLRI attribute value.
type MPUnreach struct {
	AFI  uint16
	SAFI uint8
	NLRI []netaddr.AddrAp
}

func MakeMPUnreach(dst []byte, u MPUnreach, addPath bool) []byte {
	var v []byte
	var afib [2]byte
	binary.BigEndian.PutUint16(afib[:], u.AFI)
	v = append(v, afib[:]...)
	v = append(v, u.SAFI)
	for _, n := range u.NLRI {
		v = putPrefix(v, n, addPath)
	}
	return Put(dst, FLAG_OPTIONAL, MP_UNREACH_NLRI, v)
}

func GetMPUnreach(a Attr, addPath bool) (MPUnreach, error) {
	if a.Code != MP_UNREACH_NLRI {
		return MPUnreach{}, fmt.Errorf("bgpattr: not an MP_UNREACH_NLRI attribute")
	}
	buf := a.Value
	if len(buf) < 3 {
		return MPUnreach{}, fmt.Errorf("bgpattr: truncated MP_UNREACH_NLRI")
	}
	u := MPUnreach{AFI: binary.BigEndian.Uint16(buf[0:2]), SAFI: buf[2]}
	fam := afiFamily(u.AFI)
	nlri, err := getPrefixList(buf[3:], fam, addPath)
	if err != nil {
		return MPUnreach{}, err
	}
	u.NLRI = nlri
	return u, nil
}

func afiFamily(afi uint16) netaddr.Family {
	if afi == AFI_IPV6 {
		return netaddr.V6
	}
	return netaddr.V4
}

func familyAFI(fam netaddr.Family) uint16 {
	if fam == netaddr.V6 {
		return AFI_IPV6
	}
	return AFI_IPV4
}

// GetMPReachTableDump decodes the collector-truncated MP_REACH_NLRI
// form an MRT TABLE_DUMPv2 RIB entry carries (RFC 6396 section 4.3.4):
// unlike a live-session MP_REACH_NLRI, the AFI, SAFI, reserved byte,
// and NLRI fields are all omitted -- the collector already knows the
// AFI/SAFI from the record's subtype and the NLRI from the RIB
// entry's own prefix, so the attribute value is just a bare
// next-hop-length byte followed by that many next-hop bytes. fam
// supplies the AFI/SAFI this truncated form doesn't carry.
func GetMPReachTableDump(a Attr, fam netaddr.Family) (MPReach, error) {
	if a.Code != MP_REACH_NLRI {
		return MPReach{}, fmt.Errorf("bgpattr: not an MP_REACH_NLRI attribute")
	}
	buf := a.Value
	if len(buf) < 1 {
		return MPReach{}, fmt.Errorf("bgpattr: truncated collector MP_REACH_NLRI next-hop length")
	}
	nhlen := int(buf[0])
	buf = buf[1:]
	if len(buf) != nhlen {
		return MPReach{}, fmt.Errorf("bgpattr: collector MP_REACH_NLRI next-hop length %d does not match remaining %d bytes", nhlen, len(buf))
	}
	unit := netaddr.Naddrsize(fam.MaxBitlen())
	if unit == 0 || nhlen%unit != 0 {
		return MPReach{}, fmt.Errorf("bgpattr: collector MP_REACH_NLRI next-hop length %d is not a multiple of the %s address width", nhlen, fam)
	}
	r := MPReach{AFI: familyAFI(fam), SAFI: SAFI_UNICAST}
	for len(buf) >= unit {
		nh, err := netaddr.New(fam, fam.MaxBitlen(), buf[:unit])
		if err != nil {
			return MPReach{}, err
		}
		r.NextHops = append(r.NextHops, nh)
		buf = buf[unit:]
	}
	return r, nil
}

// putPrefix writes one (optional path-id, bitlen, prefix-bytes) NLRI
// entry in the compact variable-length form used by both classic NLRI
// lists and MP_REACH/MP_UNREACH.
func putPrefix(dst []byte, p netaddr.AddrAp, addPath bool) []byte {
	if addPath {
		var pid [4]byte
		binary.BigEndian.PutUint32(pid[:], p.PathID)
		dst = append(dst, pid[:]...)
	}
	dst = append(dst, p.Bitlen)
	dst = append(dst, p.Bytes()...)
	return dst
}

// getPrefixList parses a run of compact NLRI entries until buf is
// exhausted.
func getPrefixList(buf []byte, fam netaddr.Family, addPath bool) ([]netaddr.AddrAp, error) {
	var out []netaddr.AddrAp
	for len(buf) > 0 {
		var pathID uint32
		if addPath {
			if len(buf) < 4 {
				return nil, fmt.Errorf("bgpattr: truncated add-path id")
			}
			pathID = binary.BigEndian.Uint32(buf[0:4])
			buf = buf[4:]
		}
		if len(buf) < 1 {
			return nil, fmt.Errorf("bgpattr: truncated NLRI bitlen")
		}
		bitlen := int(buf[0])
		buf = buf[1:]
		nb := netaddr.Naddrsize(bitlen)
		if len(buf) < nb {
			return nil, fmt.Errorf("bgpattr: truncated NLRI prefix bytes")
		}
		addr, err := netaddr.New(fam, bitlen, buf[:nb])
		if err != nil {
			return nil, err
		}
		out = append(out, netaddr.AddrAp{Addr: addr, PathID: pathID})
		buf = buf[nb:]
	}
	return out, nil
}

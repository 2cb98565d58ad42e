// Package bgpattr implements path-attribute helpers: builders and
// getters for each well-known BGP path attribute, AS-path segment
// appenders, and community/extended/large-community encoding.
package bgpattr

import (
	"encoding/binary"
	"fmt"

	"github.com/CSUNetSec/bgpcore/netaddr"
)

// Code is a path-attribute type code (RFC 4271 / RFC 4760 et al.).
type Code uint8

const (
	ORIGIN              Code = 1
	AS_PATH             Code = 2
	NEXT_HOP            Code = 3
	MULTI_EXIT_DISC     Code = 4
	LOCAL_PREF          Code = 5
	ATOMIC_AGGREGATE    Code = 6
	AGGREGATOR          Code = 7
	COMMUNITIES         Code = 8
	ORIGINATOR_ID       Code = 9
	MP_REACH_NLRI       Code = 14
	MP_UNREACH_NLRI     Code = 15
	EXTENDED_COMMUNITIES Code = 16
	AS4_PATH            Code = 17
	AS4_AGGREGATOR      Code = 18
	LARGE_COMMUNITIES   Code = 32
)

// Flags bits, per RFC 4271 section 4.3.
type Flags uint8

const (
	FLAG_EXTENDED_LENGTH Flags = 1 << 4
	FLAG_PARTIAL         Flags = 1 << 5
	FLAG_TRANSITIVE      Flags = 1 << 6
	FLAG_OPTIONAL        Flags = 1 << 7
)

// AS_TRANS is the reserved placeholder ASN for legacy 2-byte speakers
// carrying a 4-byte AS in AS4_PATH/AS4_AGGREGATOR (RFC 6793).
const AS_TRANS = 23456

// HdrSize returns the byte size of the attribute header (flags+code+length)
// given the flags byte -- 3 bytes normally, 4 with FLAG_EXTENDED_LENGTH.
func HdrSize(flags byte) int {
	if Flags(flags)&FLAG_EXTENDED_LENGTH != 0 {
		return 4
	}
	return 3
}

// Attr is a decoded (flags, code, length, value) attribute view over a
// byte slice it does not own (a window into the message buffer).
type Attr struct {
	Flags Flags
	Code  Code
	Value []byte // just the value area, not the header
}

// Parse reads one attribute starting at buf[0], returning the attribute
// and the number of bytes consumed.
func Parse(buf []byte) (Attr, int, error) {
	if len(buf) < 3 {
		return Attr{}, 0, fmt.Errorf("bgpattr: truncated attribute header")
	}
	flags := Flags(buf[0])
	code := Code(buf[1])
	var length int
	var hdr int
	if flags&FLAG_EXTENDED_LENGTH != 0 {
		if len(buf) < 4 {
			return Attr{}, 0, fmt.Errorf("bgpattr: truncated extended length")
		}
		length = int(binary.BigEndian.Uint16(buf[2:4]))
		hdr = 4
	} else {
		length = int(buf[2])
		hdr = 3
	}
	if len(buf) < hdr+length {
		return Attr{}, 0, fmt.Errorf("bgpattr: attribute %d truncated: need %d have %d", code, length, len(buf)-hdr)
	}
	return Attr{Flags: flags, Code: code, Value: buf[hdr : hdr+length]}, hdr + length, nil
}

// Put appends flags, code, length and value to dst (growing it as
// needed) and returns the extended slice. This is
// the single write path every make* builder below funnels through: it
// always writes flags+code+length+value itself and returns the
// buffer, rather than aliasing a caller-supplied header pointer
// before populating it.
func Put(dst []byte, flags Flags, code Code, value []byte) []byte {
	extended := flags&FLAG_EXTENDED_LENGTH != 0
	if !extended && len(value) > 0xFF {
		flags |= FLAG_EXTENDED_LENGTH
		extended = true
	}
	dst = append(dst, byte(flags), byte(code))
	if extended {
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(len(value)))
		dst = append(dst, lb[:]...)
	} else {
		dst = append(dst, byte(len(value)))
	}
	dst = append(dst, value...)
	return dst
}

// MakeOrigin builds an ORIGIN attribute (0=IGP, 1=EGP, 2=INCOMPLETE).
func MakeOrigin(dst []byte, origin byte) []byte {
	return Put(dst, FLAG_TRANSITIVE, ORIGIN, []byte{origin})
}

// GetOrigin reads the ORIGIN value out of an attribute's value area.
func GetOrigin(a Attr) (byte, error) {
	if a.Code != ORIGIN || len(a.Value) != 1 {
		return 0, fmt.Errorf("bgpattr: not a valid ORIGIN attribute")
	}
	return a.Value[0], nil
}

// MakeNextHop builds a classic (IPv4) NEXT_HOP attribute.
func MakeNextHop(dst []byte, nh netaddr.Addr) []byte {
	return Put(dst, FLAG_TRANSITIVE, NEXT_HOP, nh.Bytes())
}

// GetNextHop reads the classic NEXT_HOP address (always IPv4, /32).
func GetNextHop(a Attr) (netaddr.Addr, error) {
	if a.Code != NEXT_HOP || len(a.Value) != 4 {
		return netaddr.Addr{}, fmt.Errorf("bgpattr: not a valid NEXT_HOP attribute")
	}
	return netaddr.New(netaddr.V4, 32, a.Value)
}

// MakeMED builds a MULTI_EXIT_DISC attribute.
func MakeMED(dst []byte, med uint32) []byte {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], med)
	return Put(dst, FLAG_OPTIONAL, MULTI_EXIT_DISC, v[:])
}

func GetMED(a Attr) (uint32, error) {
	if a.Code != MULTI_EXIT_DISC || len(a.Value) != 4 {
		return 0, fmt.Errorf("bgpattr: not a valid MULTI_EXIT_DISC attribute")
	}
	return binary.BigEndian.Uint32(a.Value), nil
}

// MakeLocalPref builds a LOCAL_PREF attribute.
func MakeLocalPref(dst []byte, lp uint32) []byte {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], lp)
	return Put(dst, FLAG_TRANSITIVE, LOCAL_PREF, v[:])
}

// GetLocalPref reads LOCAL_PREF from the value area; the getter never
// reads from the attribute header.
func GetLocalPref(a Attr) (uint32, error) {
	if a.Code != LOCAL_PREF || len(a.Value) != 4 {
		return 0, fmt.Errorf("bgpattr: not a valid LOCAL_PREF attribute")
	}
	return binary.BigEndian.Uint32(a.Value), nil
}

// MakeAtomicAggregate builds a zero-length ATOMIC_AGGREGATE attribute.
func MakeAtomicAggregate(dst []byte) []byte {
	return Put(dst, FLAG_TRANSITIVE, ATOMIC_AGGREGATE, nil)
}

// Aggregator is the decoded AGGREGATOR/AS4_AGGREGATOR value.
type Aggregator struct {
	AS uint32
	IP netaddr.Addr
}

// MakeAggregator builds an AGGREGATOR attribute. as32 selects whether the
// AS field is encoded in 2 or 4 bytes.
func MakeAggregator(dst []byte, agg Aggregator, as32 bool) []byte {
	var v []byte
	if as32 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], agg.AS)
		v = append(v, b[:]...)
	} else {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(agg.AS))
		v = append(v, b[:]...)
	}
	v = append(v, agg.IP.Bytes()...)
	return Put(dst, FLAG_OPTIONAL|FLAG_TRANSITIVE, AGGREGATOR, v)
}

func GetAggregator(a Attr, as32 bool) (Aggregator, error) {
	if a.Code != AGGREGATOR && a.Code != AS4_AGGREGATOR {
		return Aggregator{}, fmt.Errorf("bgpattr: not an aggregator attribute")
	}
	asLen := 2
	if as32 || a.Code == AS4_AGGREGATOR {
		asLen = 4
	}
	if len(a.Value) != asLen+4 {
		return Aggregator{}, fmt.Errorf("bgpattr: malformed aggregator attribute")
	}
	var as uint32
	if asLen == 4 {
		as = binary.BigEndian.Uint32(a.Value[:4])
	} else {
		as = uint32(binary.BigEndian.Uint16(a.Value[:2]))
	}
	ip, err := netaddr.New(netaddr.V4, 32, a.Value[asLen:asLen+4])
	if err != nil {
		return Aggregator{}, err
	}
	return Aggregator{AS: as, IP: ip}, nil
}

// MakeOriginatorID builds an ORIGINATOR_ID attribute from a 4-byte
// router ID.
func MakeOriginatorID(dst []byte, routerID [4]byte) []byte {
	return Put(dst, FLAG_OPTIONAL, ORIGINATOR_ID, routerID[:])
}

func GetOriginatorID(a Attr) ([4]byte, error) {
	var out [4]byte
	if a.Code != ORIGINATOR_ID || len(a.Value) != 4 {
		return out, fmt.Errorf("bgpattr: not a valid ORIGINATOR_ID attribute")
	}
	copy(out[:], a.Value)
	return out, nil
}

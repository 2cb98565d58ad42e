package bgpattr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/armon/go-radix"
)

// Well-known community values (RFC 1997, RFC 3765, RFC 7999).
const (
	NO_EXPORT        uint32 = 0xFFFFFF01
	NO_ADVERTISE     uint32 = 0xFFFFFF02
	NO_EXPORT_SUBCONFED uint32 = 0xFFFFFF03
	NO_PEER          uint32 = 0xFFFFFF04
	BLACKHOLE        uint32 = 0xFFFF029A
)

// MakeCommunities builds a COMMUNITIES attribute from a list of 32-bit
// community values (high 16 bits ASN, low 16 bits value, or a
// well-known value).
func MakeCommunities(dst []byte, comms []uint32) []byte {
	var v []byte
	for _, c := range comms {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], c)
		v = append(v, b[:]...)
	}
	return Put(dst, FLAG_OPTIONAL|FLAG_TRANSITIVE, COMMUNITIES, v)
}

// GetCommunities decodes a COMMUNITIES attribute.
func GetCommunities(a Attr) ([]uint32, error) {
	if a.Code != COMMUNITIES {
		return nil, fmt.Errorf("bgpattr: not a COMMUNITIES attribute")
	}
	if len(a.Value)%4 != 0 {
		return nil, fmt.Errorf("bgpattr: malformed COMMUNITIES length %d", len(a.Value))
	}
	out := make([]uint32, len(a.Value)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(a.Value[i*4 : i*4+4])
	}
	return out, nil
}

// ExtComm is a decoded 8-byte extended community (RFC 4360).
type ExtComm [8]byte

// MakeExtCommunities builds an EXTENDED_COMMUNITIES attribute.
func MakeExtCommunities(dst []byte, comms []ExtComm) []byte {
	var v []byte
	for _, c := range comms {
		v = append(v, c[:]...)
	}
	return Put(dst, FLAG_OPTIONAL|FLAG_TRANSITIVE, EXTENDED_COMMUNITIES, v)
}

func GetExtCommunities(a Attr) ([]ExtComm, error) {
	if a.Code != EXTENDED_COMMUNITIES {
		return nil, fmt.Errorf("bgpattr: not an EXTENDED_COMMUNITIES attribute")
	}
	if len(a.Value)%8 != 0 {
		return nil, fmt.Errorf("bgpattr: malformed EXTENDED_COMMUNITIES length %d", len(a.Value))
	}
	out := make([]ExtComm, len(a.Value)/8)
	for i := range out {
		copy(out[i][:], a.Value[i*8:i*8+8])
	}
	return out, nil
}

// LargeComm is a decoded large community (RFC 8092): global admin,
// local data part 1, local data part 2.
type LargeComm struct {
	GlobalAdmin uint32
	LocalData1  uint32
	LocalData2  uint32
}

func MakeLargeCommunities(dst []byte, comms []LargeComm) []byte {
	var v []byte
	for _, c := range comms {
		var b [12]byte
		binary.BigEndian.PutUint32(b[0:4], c.GlobalAdmin)
		binary.BigEndian.PutUint32(b[4:8], c.LocalData1)
		binary.BigEndian.PutUint32(b[8:12], c.LocalData2)
		v = append(v, b[:]...)
	}
	return Put(dst, FLAG_OPTIONAL|FLAG_TRANSITIVE, LARGE_COMMUNITIES, v)
}

func GetLargeCommunities(a Attr) ([]LargeComm, error) {
	if a.Code != LARGE_COMMUNITIES {
		return nil, fmt.Errorf("bgpattr: not a LARGE_COMMUNITIES attribute")
	}
	if len(a.Value)%12 != 0 {
		return nil, fmt.Errorf("bgpattr: malformed LARGE_COMMUNITIES length %d", len(a.Value))
	}
	out := make([]LargeComm, len(a.Value)/12)
	for i := range out {
		off := i * 12
		out[i] = LargeComm{
			GlobalAdmin: binary.BigEndian.Uint32(a.Value[off : off+4]),
			LocalData1:  binary.BigEndian.Uint32(a.Value[off+4 : off+8]),
			LocalData2:  binary.BigEndian.Uint32(a.Value[off+8 : off+12]),
		}
	}
	return out, nil
}

// CommunityRegistry resolves well-known community names (used by the
// filter compiler's $name literals) to their 32-bit values and back,
// backed by an armon/go-radix tree over the name strings -- a
// string-keyed name registry rather than an address trie, since the
// keys are community mnemonics, not network prefixes.
type CommunityRegistry struct {
	byName *radix.Tree
	byVal  map[uint32]string
}

// NewCommunityRegistry returns a registry pre-seeded with the
// well-known communities: the three of RFC 1997 plus no-peer and
// blackhole.
func NewCommunityRegistry() *CommunityRegistry {
	r := &CommunityRegistry{
		byName: radix.New(),
		byVal:  make(map[uint32]string),
	}
	r.register("no-export", NO_EXPORT)
	r.register("no-advertise", NO_ADVERTISE)
	r.register("no-export-subconfed", NO_EXPORT_SUBCONFED)
	r.register("no-peer", NO_PEER)
	r.register("blackhole", BLACKHOLE)
	return r
}

func (r *CommunityRegistry) register(name string, val uint32) {
	r.byName.Insert(name, val)
	r.byVal[val] = name
}

// Register adds or overrides a name -> value mapping.
func (r *CommunityRegistry) Register(name string, val uint32) {
	r.register(name, val)
}

// Name returns the registered mnemonic for val, if any.
func (r *CommunityRegistry) Name(val uint32) (string, bool) {
	name, ok := r.byVal[val]
	return name, ok
}

// Resolve turns a literal token from a filter program into a 32-bit
// community value. It accepts:
//   - a registered mnemonic ("no-export")
//   - "ASN:VALUE" decimal pair notation
//   - a bare decimal number
//
// Leading zeros are rejected (ambiguous with octal in some dialects of
// the filter grammar) except for the literal "0" itself.
func (r *CommunityRegistry) Resolve(tok string) (uint32, error) {
	if v, ok := r.byName.Get(tok); ok {
		return v.(uint32), nil
	}
	if idx := strings.IndexByte(tok, ':'); idx >= 0 {
		asStr, valStr := tok[:idx], tok[idx+1:]
		as, err := parseDecimalNoLeadingZero(asStr)
		if err != nil {
			return 0, fmt.Errorf("bgpattr: bad community ASN part %q: %w", tok, err)
		}
		val, err := parseDecimalNoLeadingZero(valStr)
		if err != nil {
			return 0, fmt.Errorf("bgpattr: bad community value part %q: %w", tok, err)
		}
		if as > 0xFFFF || val > 0xFFFF {
			return 0, fmt.Errorf("bgpattr: community part out of range in %q", tok)
		}
		return as<<16 | val, nil
	}
	v, err := parseDecimalNoLeadingZero(tok)
	if err != nil {
		return 0, fmt.Errorf("bgpattr: unresolvable community literal %q: %w", tok, err)
	}
	return v, nil
}

func parseDecimalNoLeadingZero(s string) (uint32, error) {
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("leading zero not permitted in %q", s)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

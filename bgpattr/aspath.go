package bgpattr

import (
	"encoding/binary"
	"fmt"
)

// AS path segment types (RFC 4271 section 4.3).
const (
	AS_SET      = 1
	AS_SEQUENCE = 2
	// RFC 5065 confederation segment types, carried for completeness:
	// AS-path flattening only concerns itself with AS_SET/AS_SEQUENCE
	// but the wire format must still round-trip confederation segments
	// unmolested.
	AS_CONFED_SEQUENCE = 3
	AS_CONFED_SET      = 4
)

// Segment is one decoded AS-path segment.
type Segment struct {
	Type uint8
	ASes []uint32
}

// PutAsseg16 appends a segment encoded with 2-byte AS numbers.
func PutAsseg16(dst []byte, typ uint8, ases []uint32) []byte {
	dst = append(dst, typ, byte(len(ases)))
	for _, as := range ases {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(as))
		dst = append(dst, b[:]...)
	}
	return dst
}

// PutAsseg32 appends a segment encoded with 4-byte AS numbers.
func PutAsseg32(dst []byte, typ uint8, ases []uint32) []byte {
	dst = append(dst, typ, byte(len(ases)))
	for _, as := range ases {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], as)
		dst = append(dst, b[:]...)
	}
	return dst
}

// MakeAsPath16 builds an AS_PATH attribute from segments, 2-byte ASes.
func MakeAsPath16(dst []byte, segs []Segment) []byte {
	var v []byte
	for _, s := range segs {
		v = PutAsseg16(v, s.Type, s.ASes)
	}
	return Put(dst, FLAG_TRANSITIVE, AS_PATH, v)
}

// MakeAsPath32 builds an AS_PATH or AS4_PATH attribute, 4-byte ASes.
func MakeAsPath32(dst []byte, code Code, segs []Segment) []byte {
	var v []byte
	for _, s := range segs {
		v = PutAsseg32(v, s.Type, s.ASes)
	}
	return Put(dst, FLAG_TRANSITIVE, code, v)
}

// GetAsPath decodes an AS_PATH/AS4_PATH attribute's segments. as32
// selects 2- vs 4-byte AS encoding.
func GetAsPath(a Attr, as32 bool) ([]Segment, error) {
	if a.Code != AS_PATH && a.Code != AS4_PATH {
		return nil, fmt.Errorf("bgpattr: not an AS_PATH attribute")
	}
	asLen := 2
	if as32 {
		asLen = 4
	}
	var segs []Segment
	buf := a.Value
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("bgpattr: truncated AS_PATH segment header")
		}
		typ := buf[0]
		count := int(buf[1])
		need := 2 + count*asLen
		if len(buf) < need {
			return nil, fmt.Errorf("bgpattr: truncated AS_PATH segment body")
		}
		seg := Segment{Type: typ, ASes: make([]uint32, count)}
		p := buf[2:need]
		for i := 0; i < count; i++ {
			if asLen == 4 {
				seg.ASes[i] = binary.BigEndian.Uint32(p[i*4 : i*4+4])
			} else {
				seg.ASes[i] = uint32(binary.BigEndian.Uint16(p[i*2 : i*2+2]))
			}
		}
		segs = append(segs, seg)
		buf = buf[need:]
	}
	return segs, nil
}

// RealPath reconstructs the "real" AS path a speaker should use for
// loop detection and path selection: the leading segments of AS_PATH
// that AS4_PATH didn't have room for, followed by AS4_PATH in full
// (RFC 6793 section 4.2.3). Callers are responsible for only invoking
// this once AGGREGATOR's AS has been confirmed to equal AS_TRANS --
// RealPath itself just performs the splice. When as4path is empty,
// path16 is returned unmodified (already real).
//
// The splice point is counted in ASes, not segments, and an AS_SET (or
// AS_CONFED_SET) counts as a single AS toward that count regardless of
// its member count, per the segment-counting rule in section 9.1.2.2
// of RFC 4271 as applied by RFC 6793.
func RealPath(path16 []Segment, as4path []Segment) []Segment {
	if len(as4path) == 0 {
		return path16
	}
	count16 := countASes(path16)
	count4 := countASes(as4path)
	if count4 > count16 {
		// AS4_PATH must never carry more ASes than AS_PATH; a
		// conformant peer wouldn't send this, but don't panic on
		// wire garbage.
		return path16
	}
	target := count16 - count4
	var prefix []Segment
	acc := 0
	for _, s := range path16 {
		if acc >= target {
			break
		}
		segCount := segASCount(s)
		if s.Type == AS_SET || s.Type == AS_CONFED_SET {
			if acc+segCount > target {
				// the splice point lands inside a SET segment,
				// which can't be partially included; stop short.
				break
			}
			prefix = append(prefix, s)
			acc += segCount
			continue
		}
		if acc+segCount <= target {
			prefix = append(prefix, s)
			acc += segCount
			continue
		}
		need := target - acc
		prefix = append(prefix, Segment{Type: s.Type, ASes: append([]uint32{}, s.ASes[:need]...)})
		acc = target
		break
	}
	merged := make([]Segment, 0, len(prefix)+len(as4path))
	merged = append(merged, prefix...)
	merged = append(merged, as4path...)
	return merged
}

func segASCount(s Segment) int {
	if s.Type == AS_SET || s.Type == AS_CONFED_SET {
		return 1
	}
	return len(s.ASes)
}

func countASes(segs []Segment) int {
	n := 0
	for _, s := range segs {
		n += segASCount(s)
	}
	return n
}

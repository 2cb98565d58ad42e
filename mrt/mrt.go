// Package mrt implements MRT archive envelope parsing (RFC 6396) and
// rebuilding a bgpmsg.Update out of an MRT record, built around a
// header/BGP4MP decode chain and a SplitMrt bufio.SplitFunc for
// streaming archives record by record.
package mrt

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// MRT type/subtype constants (RFC 6396 + RFC 6397).
const (
	HeaderLen = 12

	TABLE_DUMP    = 12
	TABLE_DUMP_V2 = 13
	BGP4MP        = 16
	BGP4MP_ET     = 17

	TD_AFI_IP  = 1
	TD_AFI_IP6 = 2

	TD2_PEER_INDEX_TABLE  = 1
	TD2_RIB_IPV4_UNICAST  = 2
	TD2_RIB_IPV6_UNICAST  = 4

	BGP4MP_MESSAGE           = 1
	BGP4MP_MESSAGE_AS4       = 4
	BGP4MP_MESSAGE_LOCAL     = 7
	BGP4MP_MESSAGE_AS4_LOCAL = 8
)

// Header is the fixed (or extended-timestamp) MRT record header.
type Header struct {
	Timestamp uint32
	Microsecs uint32 // only meaningful for *_ET subtypes
	Type      uint16
	Subtype   uint16
	Length    uint32
}

// Time returns the record timestamp, including the microsecond
// extension when present.
func (h Header) Time() time.Time {
	return time.Unix(int64(h.Timestamp), int64(h.Microsecs)*1000)
}

func (h Header) String() string {
	return fmt.Sprintf("Timestamp:%v Type:%d Subtype:%d Len:%d", h.Time(), h.Type, h.Subtype, h.Length)
}

func isET(typ uint16) bool { return typ == BGP4MP_ET }

// ReadHeader decodes the 12-byte MRT header (plus the 4-byte
// microsecond extension for *_ET records) from the start of buf,
// returning the header and the slice positioned at the record body.
func ReadHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, errors.New("mrt: buffer shorter than MRT header")
	}
	var h Header
	h.Timestamp = binary.BigEndian.Uint32(buf[0:4])
	h.Type = binary.BigEndian.Uint16(buf[4:6])
	h.Subtype = binary.BigEndian.Uint16(buf[6:8])
	h.Length = binary.BigEndian.Uint32(buf[8:12])
	rest := buf[HeaderLen:]
	if uint32(len(rest)) < h.Length {
		return Header{}, nil, errors.Errorf("mrt: declared length %d exceeds remaining %d bytes", h.Length, len(rest))
	}
	body := rest[:h.Length]
	if isET(h.Type) {
		// the microsecond field is counted in Length, as in SplitMrt
		if len(body) < 4 {
			return Header{}, nil, errors.New("mrt: truncated extended-timestamp field")
		}
		h.Microsecs = binary.BigEndian.Uint32(body[0:4])
		body = body[4:]
	}
	return h, body, nil
}

// SplitMrt is a bufio.SplitFunc that frames a byte stream into
// individual MRT records: it peeks the 12-byte header to learn the
// record's total length and waits for that many bytes before
// returning a token.
func SplitMrt(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if len(data) < HeaderLen {
		if atEOF {
			return 0, nil, errors.New("mrt: trailing bytes shorter than MRT header")
		}
		return 0, nil, nil
	}
	bodyLen := int(binary.BigEndian.Uint32(data[8:12]))
	total := HeaderLen + bodyLen
	if isET(binary.BigEndian.Uint16(data[4:6])) {
		total += 0 // microsecond field is already counted in bodyLen on the wire
	}
	if len(data) < total {
		if atEOF {
			return 0, nil, errors.New("mrt: truncated trailing MRT record")
		}
		return 0, nil, nil
	}
	return total, data[:total], nil
}

// BGP4MPEnvelope is the decoded BGP4MP/BGP4MP_ET payload: the peer
// metadata surrounding an embedded BGP message.
type BGP4MPEnvelope struct {
	PeerAS    uint32
	LocalAS   uint32
	IfIndex   uint16
	AFI       uint16
	PeerIP    netaddr.Addr
	LocalIP   netaddr.Addr
	IsAS4     bool
	BGPBuf    []byte // remaining bytes: the embedded BGP message
}

// ReadBGP4MP decodes a BGP4MP_MESSAGE[_AS4][_LOCAL] subtype body.
func ReadBGP4MP(buf []byte, subtype uint16) (BGP4MPEnvelope, error) {
	isAS4 := subtype == BGP4MP_MESSAGE_AS4 || subtype == BGP4MP_MESSAGE_AS4_LOCAL
	var e BGP4MPEnvelope
	e.IsAS4 = isAS4
	if isAS4 {
		if len(buf) < 8 {
			return e, errors.New("mrt: truncated BGP4MP AS4 peer fields")
		}
		e.PeerAS = binary.BigEndian.Uint32(buf[0:4])
		e.LocalAS = binary.BigEndian.Uint32(buf[4:8])
		buf = buf[8:]
	} else {
		if len(buf) < 4 {
			return e, errors.New("mrt: truncated BGP4MP peer fields")
		}
		e.PeerAS = uint32(binary.BigEndian.Uint16(buf[0:2]))
		e.LocalAS = uint32(binary.BigEndian.Uint16(buf[2:4]))
		buf = buf[4:]
	}
	if len(buf) < 4 {
		return e, errors.New("mrt: truncated BGP4MP interface/AFI fields")
	}
	e.IfIndex = binary.BigEndian.Uint16(buf[0:2])
	e.AFI = binary.BigEndian.Uint16(buf[2:4])
	buf = buf[4:]

	fam := netaddr.V4
	addrLen := 4
	if e.AFI == TD_AFI_IP6 {
		fam = netaddr.V6
		addrLen = 16
	}
	if len(buf) < 2*addrLen {
		return e, errors.New("mrt: truncated BGP4MP peer/local addresses")
	}
	peer, err := netaddr.New(fam, fam.MaxBitlen(), buf[:addrLen])
	if err != nil {
		return e, err
	}
	local, err := netaddr.New(fam, fam.MaxBitlen(), buf[addrLen:2*addrLen])
	if err != nil {
		return e, err
	}
	e.PeerIP, e.LocalIP = peer, local
	e.BGPBuf = buf[2*addrLen:]
	return e, nil
}

// RebuildOptions controls the MRT-to-BGP rebuild policy knobs.
type RebuildOptions struct {
	STDMRT       bool // enforce RFC 6396-strict field widths, reject vendor deviations
	FULLMPREACH  bool // keep the full MP_REACH_NLRI payload instead of trimming link-local v6 next hops
	STRIPUNREACH bool // drop MP_UNREACH_NLRI's withdrawn routes from the rebuilt Update (RIB-dump replay convenience)
}

// RebuildFromBGP4MP decodes the embedded BGP message of an already
// decoded BGP4MP envelope into a bgpmsg.Message. The address family
// (v6) and AS width (as4) come from the envelope; SetRead folds
// MP_REACH/MP_UNREACH routes into the classic route lists, and with
// STRIPUNREACH the MP_UNREACH withdrawals are dropped again. STDMRT
// and FULLMPREACH have no effect here, and AS numbers are not
// truncated to 16 bits.
func RebuildFromBGP4MP(env BGP4MPEnvelope, opts RebuildOptions) (*bgpmsg.Message, error) {
	msgOpts := bgpmsg.Options{V6: env.AFI == TD_AFI_IP6, AS4: env.IsAS4}
	m, err := bgpmsg.SetRead(env.BGPBuf, msgOpts)
	if err != nil {
		return nil, errors.Wrap(err, "mrt: rebuilding embedded BGP message")
	}
	if m.Update != nil && opts.STRIPUNREACH {
		// SetRead appends MP_UNREACH_NLRI withdrawals after the classic
		// withdrawn routes; cut exactly those off the end.
		n := len(m.Update.WithdrawnRoutes)
		for _, a := range m.Update.Attrs {
			if a.Code != bgpattr.MP_UNREACH_NLRI {
				continue
			}
			if u, err := bgpattr.GetMPUnreach(a, msgOpts.AddPath); err == nil {
				n -= len(u.NLRI)
			}
		}
		m.Update.WithdrawnRoutes = m.Update.WithdrawnRoutes[:n]
	}
	return m, nil
}

// TruncateASN32 truncates a 4-byte ASN to its 2-byte representation
// for legacy TABLE_DUMP consumers, returning ok=false (instead of
// silently wrapping) when the value does not fit -- the assertion the
// spec requires rather than producing a corrupted ASN.
func TruncateASN32(as uint32) (as16 uint16, ok bool) {
	if as > 0xFFFF {
		return uint16(bgpattr.AS_TRANS), false
	}
	return uint16(as), true
}

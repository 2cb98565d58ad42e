package bgpmsg

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/netaddr"
)

// Capability codes (RFC 5492 and its extensions).
const (
	CAP_MULTIPROTOCOL    uint8 = 1
	CAP_ROUTE_REFRESH    uint8 = 2
	CAP_GRACEFUL_RESTART uint8 = 64
	CAP_ASN32            uint8 = 65
	CAP_ADD_PATH         uint8 = 69
	CAP_FQDN             uint8 = 73
)

// Optional-parameter type carrying one or more capabilities (RFC 5492
// section 3); OPEN's opt-param section can mix other parameter types
// in, but in practice every deployed parameter is this one.
const paramCapability uint8 = 2

// Capability is one decoded OPEN capability: a type-length-value
// triple, the unit startCaps iterates over.
type Capability struct {
	Code   uint8
	Length uint8
	Data   []byte
}

// Open is the decoded body of an OPEN message (RFC 4271 section 4.2).
type Open struct {
	Version      uint8
	MyAS         uint16
	HoldTime     uint16
	Identifier   netaddr.Addr
	Capabilities []Capability
}

// parseOpen decodes an OPEN body: version, my_as, hold_time, BGP
// identifier, then the optional-parameters section, with any
// CAPABILITY_CODE parameters flattened into Capabilities (a parameter
// of that type can itself carry more than one capability TLV back to
// back).
func parseOpen(buf []byte) (*Open, error) {
	if len(buf) < 10 {
		return nil, errors.New("bgpmsg: truncated OPEN fixed fields")
	}
	o := &Open{
		Version:  buf[0],
		MyAS:     binary.BigEndian.Uint16(buf[1:3]),
		HoldTime: binary.BigEndian.Uint16(buf[3:5]),
	}
	iden, err := netaddr.New(netaddr.V4, 32, buf[5:9])
	if err != nil {
		return nil, errors.Wrap(err, "bgpmsg: OPEN identifier")
	}
	o.Identifier = iden
	paramLen := int(buf[9])
	buf = buf[10:]
	if len(buf) < paramLen {
		return nil, errors.New("bgpmsg: truncated OPEN optional parameters")
	}
	buf = buf[:paramLen]
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, errors.New("bgpmsg: truncated OPEN parameter header")
		}
		ptype, plen := buf[0], int(buf[1])
		if len(buf) < 2+plen {
			return nil, errors.New("bgpmsg: truncated OPEN parameter value")
		}
		pval := buf[2 : 2+plen]
		if ptype == paramCapability {
			caps, err := parseCapabilities(pval)
			if err != nil {
				return nil, err
			}
			o.Capabilities = append(o.Capabilities, caps...)
		}
		buf = buf[2+plen:]
	}
	return o, nil
}

func parseCapabilities(buf []byte) ([]Capability, error) {
	var out []Capability
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, errors.New("bgpmsg: truncated capability header")
		}
		code, length := buf[0], int(buf[1])
		if len(buf) < 2+length {
			return nil, errors.New("bgpmsg: truncated capability value")
		}
		out = append(out, Capability{Code: code, Length: uint8(length), Data: buf[2 : 2+length]})
		buf = buf[2+length:]
	}
	return out, nil
}

// WriteOpen serializes o's fixed fields and capabilities (all wrapped
// in a single CAPABILITY_CODE optional parameter) into a framed OPEN
// message.
func WriteOpen(o Open) ([]byte, error) {
	var caps []byte
	for _, c := range o.Capabilities {
		caps = append(caps, c.Code, uint8(len(c.Data)))
		caps = append(caps, c.Data...)
	}
	var params []byte
	if len(caps) > 0 {
		if len(caps) > 0xFF {
			return nil, errors.New("bgpmsg: capabilities parameter too long")
		}
		params = append(params, paramCapability, uint8(len(caps)))
		params = append(params, caps...)
	}
	if len(params) > 0xFF {
		return nil, errors.New("bgpmsg: OPEN optional parameters too long")
	}

	body := make([]byte, 0, 10+len(params))
	body = append(body, o.Version)
	var as, hold [2]byte
	binary.BigEndian.PutUint16(as[:], o.MyAS)
	binary.BigEndian.PutUint16(hold[:], o.HoldTime)
	body = append(body, as[:]...)
	body = append(body, hold[:]...)
	body = append(body, o.Identifier.Bytes()...)
	body = append(body, uint8(len(params)))
	body = append(body, params...)

	return frame(OPEN, body)
}

// MakeMultiprotocolCap builds a MULTIPROTOCOL capability (RFC 4760).
func MakeMultiprotocolCap(afi uint16, safi uint8) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v[0:2], afi)
	v[2] = 0 // reserved
	v[3] = safi
	return Capability{Code: CAP_MULTIPROTOCOL, Length: 4, Data: v}
}

// GetMultiprotocolCap decodes a MULTIPROTOCOL capability.
func GetMultiprotocolCap(c Capability) (afi uint16, safi uint8, err error) {
	if c.Code != CAP_MULTIPROTOCOL || len(c.Data) != 4 {
		return 0, 0, errors.New("bgpmsg: not a valid MULTIPROTOCOL capability")
	}
	return binary.BigEndian.Uint16(c.Data[0:2]), c.Data[3], nil
}

// MakeASN32Cap builds a 32-bit-ASN capability (RFC 6793).
func MakeASN32Cap(as uint32) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, as)
	return Capability{Code: CAP_ASN32, Length: 4, Data: v}
}

// GetASN32Cap decodes a 32-bit-ASN capability.
func GetASN32Cap(c Capability) (uint32, error) {
	if c.Code != CAP_ASN32 || len(c.Data) != 4 {
		return 0, errors.New("bgpmsg: not a valid ASN32 capability")
	}
	return binary.BigEndian.Uint32(c.Data), nil
}

// AddPathTuple is one AFI/SAFI/send-receive entry of an Add-Path
// capability (RFC 7911 section 3).
type AddPathTuple struct {
	AFI         uint16
	SAFI        uint8
	SendReceive uint8 // 1=receive, 2=send, 3=both
}

const (
	ADD_PATH_RECEIVE uint8 = 1
	ADD_PATH_SEND    uint8 = 2
	ADD_PATH_BOTH    uint8 = 3
)

// MakeAddPathCap builds an Add-Path capability from one or more
// per-AFI/SAFI tuples.
func MakeAddPathCap(tuples []AddPathTuple) Capability {
	v := make([]byte, 0, 4*len(tuples))
	for _, t := range tuples {
		var afi [2]byte
		binary.BigEndian.PutUint16(afi[:], t.AFI)
		v = append(v, afi[0], afi[1], t.SAFI, t.SendReceive)
	}
	return Capability{Code: CAP_ADD_PATH, Length: uint8(len(v)), Data: v}
}

// GetAddPathCap decodes an Add-Path capability's tuples.
func GetAddPathCap(c Capability) ([]AddPathTuple, error) {
	if c.Code != CAP_ADD_PATH || len(c.Data)%4 != 0 {
		return nil, errors.New("bgpmsg: not a valid ADD_PATH capability")
	}
	out := make([]AddPathTuple, len(c.Data)/4)
	for i := range out {
		off := i * 4
		out[i] = AddPathTuple{
			AFI:         binary.BigEndian.Uint16(c.Data[off : off+2]),
			SAFI:        c.Data[off+2],
			SendReceive: c.Data[off+3],
		}
	}
	return out, nil
}

// MakeFQDNCap builds an FQDN capability (draft-walton-bgp-hostname):
// a length-prefixed hostname followed by a length-prefixed domain.
func MakeFQDNCap(hostname, domain string) (Capability, error) {
	if len(hostname) > 0xFF || len(domain) > 0xFF {
		return Capability{}, errors.New("bgpmsg: FQDN hostname/domain too long")
	}
	v := make([]byte, 0, 2+len(hostname)+len(domain))
	v = append(v, uint8(len(hostname)))
	v = append(v, hostname...)
	v = append(v, uint8(len(domain)))
	v = append(v, domain...)
	return Capability{Code: CAP_FQDN, Length: uint8(len(v)), Data: v}, nil
}

// GetFQDNCap decodes an FQDN capability into its hostname and domain.
func GetFQDNCap(c Capability) (hostname, domain string, err error) {
	if c.Code != CAP_FQDN || len(c.Data) < 1 {
		return "", "", errors.New("bgpmsg: not a valid FQDN capability")
	}
	buf := c.Data
	hlen := int(buf[0])
	buf = buf[1:]
	if len(buf) < hlen+1 {
		return "", "", errors.New("bgpmsg: truncated FQDN hostname")
	}
	hostname = string(buf[:hlen])
	buf = buf[hlen:]
	dlen := int(buf[0])
	buf = buf[1:]
	if len(buf) < dlen {
		return "", "", errors.New("bgpmsg: truncated FQDN domain")
	}
	domain = string(buf[:dlen])
	return hostname, domain, nil
}

// GracefulRestartTuple is one AFI/SAFI/forwarding-state entry of a
// Graceful Restart capability (RFC 4724 section 3).
type GracefulRestartTuple struct {
	AFI     uint16
	SAFI    uint8
	Flags   uint8 // FORWARDING_STATE_PRESERVED when set
}

// FORWARDING_STATE_PRESERVED marks a tuple's forwarding state as
// preserved across the restart (RFC 4724 section 3).
const FORWARDING_STATE_PRESERVED uint8 = 1 << 7

// RESTART_STATE marks the top-level restart-state flag (the
// speaker has experienced a restart), as opposed to a per-AFI
// forwarding-state flag.
const RESTART_STATE uint8 = 1 << 3

// MakeGracefulRestartCap builds a Graceful Restart capability: a
// 2-byte flags/restart-time header (top 4 bits flags, low 12 bits
// seconds) followed by zero or more AFI/SAFI/flags tuples.
func MakeGracefulRestartCap(flags uint8, restartSecs uint16, tuples []GracefulRestartTuple) Capability {
	flagtime := uint16(flags&0xF)<<12 | (restartSecs & 0x0FFF)
	v := make([]byte, 2, 2+3*len(tuples))
	binary.BigEndian.PutUint16(v[0:2], flagtime)
	for _, t := range tuples {
		var afi [2]byte
		binary.BigEndian.PutUint16(afi[:], t.AFI)
		v = append(v, afi[0], afi[1], t.SAFI, t.Flags)
	}
	return Capability{Code: CAP_GRACEFUL_RESTART, Length: uint8(len(v)), Data: v}
}

// GetGracefulRestartCap decodes a Graceful Restart capability.
func GetGracefulRestartCap(c Capability) (flags uint8, restartSecs uint16, tuples []GracefulRestartTuple, err error) {
	if c.Code != CAP_GRACEFUL_RESTART || len(c.Data) < 2 || (len(c.Data)-2)%4 != 0 {
		return 0, 0, nil, errors.New("bgpmsg: not a valid GRACEFUL_RESTART capability")
	}
	flagtime := binary.BigEndian.Uint16(c.Data[0:2])
	flags = uint8(flagtime >> 12)
	restartSecs = flagtime & 0x0FFF
	rest := c.Data[2:]
	tuples = make([]GracefulRestartTuple, len(rest)/4)
	for i := range tuples {
		off := i * 4
		tuples[i] = GracefulRestartTuple{
			AFI:   binary.BigEndian.Uint16(rest[off : off+2]),
			SAFI:  rest[off+2],
			Flags: rest[off+3],
		}
	}
	return flags, restartSecs, tuples, nil
}

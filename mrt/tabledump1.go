package mrt

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// TableDumpV1Entry is a decoded legacy TABLE_DUMP (type 12) record --
// one RIB row per record, unlike TABLE_DUMPv2's batched-by-prefix
// layout. Peer AS numbers in this format are always 16-bit; the usual
// ASN32BIT-truncation-with-assertion policy applies when a caller
// later merges this into a 4-byte-ASN pipeline.
type TableDumpV1Entry struct {
	ViewNumber  uint16
	SeqNumber   uint16
	Prefix      netaddr.Addr
	PeerIP      netaddr.Addr
	PeerAS      uint16
	OriginatedTS uint32
	Attrs       []bgpattr.Attr
}

// ParseTableDumpV1 decodes a TABLE_DUMP subtype body. subtype
// distinguishes AFI_IPV4 (1) from AFI_IPV6 (2) per RFC 6396 section
// 4.2.
func ParseTableDumpV1(buf []byte, subtype uint16) (*TableDumpV1Entry, error) {
	if len(buf) < 4 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP view/sequence")
	}
	e := &TableDumpV1Entry{
		ViewNumber: binary.BigEndian.Uint16(buf[0:2]),
		SeqNumber:  binary.BigEndian.Uint16(buf[2:4]),
	}
	buf = buf[4:]

	fam := netaddr.V4
	addrLen := 4
	if subtype == TD_AFI_IP6 {
		fam, addrLen = netaddr.V6, 16
	}
	if len(buf) < addrLen+1 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP prefix")
	}
	bitlen := buf[addrLen]
	prefix, err := netaddr.New(fam, int(bitlen), buf[:addrLen])
	if err != nil {
		return nil, err
	}
	e.Prefix = prefix
	buf = buf[addrLen+1:]

	if len(buf) < 2 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP status")
	}
	buf = buf[2:] // status field, unused

	if len(buf) < 4 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP originated time")
	}
	e.OriginatedTS = binary.BigEndian.Uint32(buf[0:4])
	buf = buf[4:]

	if len(buf) < addrLen+2 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP peer IP/AS")
	}
	peerIP, err := netaddr.New(fam, fam.MaxBitlen(), buf[:addrLen])
	if err != nil {
		return nil, err
	}
	e.PeerIP = peerIP
	buf = buf[addrLen:]
	e.PeerAS = binary.BigEndian.Uint16(buf[0:2])
	buf = buf[2:]

	if len(buf) < 2 {
		return nil, errors.New("mrt: buffer too small for TABLE_DUMP attribute length")
	}
	attrLen := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < attrLen {
		return nil, errors.New("mrt: truncated TABLE_DUMP attributes")
	}
	attrBuf := buf[:attrLen]
	for len(attrBuf) > 0 {
		a, n, err := bgpattr.Parse(attrBuf)
		if err != nil {
			return nil, err
		}
		e.Attrs = append(e.Attrs, a)
		attrBuf = attrBuf[n:]
	}
	return e, nil
}

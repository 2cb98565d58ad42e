package fileutil

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/filter"
	"github.com/CSUNetSec/bgpcore/mrt"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// buildBGP4MPRecord assembles one raw MRT record carrying a
// BGP4MP_MESSAGE_AS4 envelope around a BGP UPDATE message, byte for
// byte per RFC 6396 section 4.4.2.
func buildBGP4MPRecord(t *testing.T, peerAS, localAS uint32, peerIP, localIP netaddr.Addr, bgpMsg []byte) []byte {
	t.Helper()
	var body []byte
	var asBuf [4]byte
	binary.BigEndian.PutUint32(asBuf[:], peerAS)
	body = append(body, asBuf[:]...)
	binary.BigEndian.PutUint32(asBuf[:], localAS)
	body = append(body, asBuf[:]...)

	var ifAfi [4]byte
	binary.BigEndian.PutUint16(ifAfi[0:2], 0)
	binary.BigEndian.PutUint16(ifAfi[2:4], mrt.TD_AFI_IP)
	body = append(body, ifAfi[:]...)

	body = append(body, peerIP.Bytes()...)
	body = append(body, localIP.Bytes()...)
	body = append(body, bgpMsg...)

	var hdr [mrt.HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], 1700000000)
	binary.BigEndian.PutUint16(hdr[4:6], mrt.BGP4MP)
	binary.BigEndian.PutUint16(hdr[6:8], mrt.BGP4MP_MESSAGE_AS4)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))

	return append(hdr[:], body...)
}

func TestMrtFileReaderRoundTrip(t *testing.T) {
	b := bgpmsg.SetWrite(bgpmsg.Options{})
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("10.1.2.0/24")})
	b.PutAttr(bgpattr.MakeOrigin(nil, 0))
	wire, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}

	record := buildBGP4MPRecord(t, 65001, 65002, netaddr.MustParse("192.0.2.1/32"), netaddr.MustParse("192.0.2.2/32"), wire)

	f, err := os.CreateTemp(t.TempDir(), "archive-*.mrt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(record); err != nil {
		t.Fatal(err)
	}
	f.Close()

	passAll, err := filter.NewPrefixFilterFromSlice([]string{"10.0.0.0/8"}, filter.AdvPrefix)
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewMrtFileReader(f.Name(), []filter.Filter{passAll}, mrt.RebuildOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.Scan() {
		t.Fatalf("expected one record, scan returned false, err=%v", r.Err())
	}
	msg, err := r.Message()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Update == nil || len(msg.Update.NLRI) != 1 {
		t.Fatalf("expected one NLRI entry, got %+v", msg.Update)
	}
	if r.Scan() {
		t.Fatal("expected only one record in the archive")
	}
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

func buildTD2Record(subtype uint16, body []byte) []byte {
	var hdr [mrt.HeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], 1700000000)
	binary.BigEndian.PutUint16(hdr[4:6], mrt.TABLE_DUMP_V2)
	binary.BigEndian.PutUint16(hdr[6:8], subtype)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	return append(hdr[:], body...)
}

// A TABLE_DUMPv2 dump -- a PEER_INDEX_TABLE naming two peers, followed
// by one RIB_IPV4_UNICAST record carrying an entry from each -- must
// fan out into two rebuilt Update messages, in peer-index order, with
// each routed through the filter chain independently.
func TestMrtFileReaderRebuildsTableDumpV2RIB(t *testing.T) {
	var peerBody []byte
	peerBody = append(peerBody, u32(0xC0000201)...) // collector id
	peerBody = append(peerBody, u16(0)...)           // view name length 0
	peerBody = append(peerBody, u16(2)...)           // peer count
	for _, asn := range []uint32{65001, 65002} {
		peerBody = append(peerBody, 0x2) // AS4, IPv4
		peerBody = append(peerBody, u32(0x0A000001)...)
		peerBody = append(peerBody, netaddr.MustParse("192.0.2.1/32").Bytes()...)
		peerBody = append(peerBody, u32(asn)...)
	}
	peerRecord := buildTD2Record(mrt.TD2_PEER_INDEX_TABLE, peerBody)

	prefix := netaddr.MustParse("10.1.2.0/24")
	var ribBody []byte
	ribBody = append(ribBody, u32(1)...)
	ribBody = append(ribBody, byte(prefix.Bitlen))
	ribBody = append(ribBody, prefix.Bytes()...)
	ribBody = append(ribBody, u16(2)...) // entry count

	for _, idx := range []uint16{0, 1} {
		attrs := bgpattr.MakeOrigin(nil, 0)
		var entry []byte
		entry = append(entry, u16(idx)...)
		entry = append(entry, u32(1700000000)...)
		entry = append(entry, u16(uint16(len(attrs)))...)
		entry = append(entry, attrs...)
		ribBody = append(ribBody, entry...)
	}
	ribRecord := buildTD2Record(mrt.TD2_RIB_IPV4_UNICAST, ribBody)

	f, err := os.CreateTemp(t.TempDir(), "archive-*.mrt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(append(peerRecord, ribRecord...)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	passAll, err := filter.NewPrefixFilterFromSlice([]string{"10.0.0.0/8"}, filter.AdvPrefix)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewMrtFileReader(f.Name(), []filter.Filter{passAll}, mrt.RebuildOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var got int
	for r.Scan() {
		msg, err := r.Message()
		if err != nil {
			t.Fatal(err)
		}
		if msg.Update == nil || len(msg.Update.NLRI) != 1 || !msg.Update.NLRI[0].Addr.Equal(prefix) {
			t.Fatalf("unexpected rebuilt update: %+v", msg.Update)
		}
		got++
	}
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	if got != 2 {
		t.Fatalf("expected 2 rebuilt updates (one per peer), got %d", got)
	}
}

func TestMrtFileReaderFiltersMiss(t *testing.T) {
	b := bgpmsg.SetWrite(bgpmsg.Options{})
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("8.8.8.0/24")})
	b.PutAttr(bgpattr.MakeOrigin(nil, 0))
	wire, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	record := buildBGP4MPRecord(t, 65001, 65002, netaddr.MustParse("192.0.2.1/32"), netaddr.MustParse("192.0.2.2/32"), wire)

	f, err := os.CreateTemp(t.TempDir(), "archive-*.mrt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(record); err != nil {
		t.Fatal(err)
	}
	f.Close()

	miss, err := filter.NewPrefixFilterFromSlice([]string{"10.0.0.0/8"}, filter.AdvPrefix)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewMrtFileReader(f.Name(), []filter.Filter{miss}, mrt.RebuildOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Scan() {
		t.Fatal("expected the only record to be filtered out")
	}
	if r.Err() != nil {
		t.Fatalf("unexpected scanner error: %v", r.Err())
	}
}

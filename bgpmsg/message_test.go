package bgpmsg

import (
	"testing"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

func buildSampleUpdate(t *testing.T) []byte {
	t.Helper()
	b := SetWrite(Options{})
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("10.0.0.0/8")})
	b.Withdraw(netaddr.AddrAp{Addr: netaddr.MustParse("192.168.0.0/16")})
	attrs := bgpattr.MakeOrigin(nil, 0)
	attrs = bgpattr.MakeAsPath16(attrs, []bgpattr.Segment{{Type: bgpattr.AS_SEQUENCE, ASes: []uint32{65001}}})
	attrs = bgpattr.MakeNextHop(attrs, netaddr.MustParse("1.2.3.4/32"))
	b.PutAttr(attrs)
	out, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	wire := buildSampleUpdate(t)
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Header.Type != UPDATE {
		t.Fatalf("expected UPDATE, got %v", m.Header.Type)
	}
	if len(m.Update.NLRI) != 1 || m.Update.NLRI[0].Addr.String() != "10.0.0.0/8" {
		t.Errorf("NLRI mismatch: %+v", m.Update.NLRI)
	}
	if len(m.Update.WithdrawnRoutes) != 1 || m.Update.WithdrawnRoutes[0].Addr.String() != "192.168.0.0/16" {
		t.Errorf("withdrawn mismatch: %+v", m.Update.WithdrawnRoutes)
	}
	nh, err := m.Update.NextHop(false)
	if err != nil || nh.String() != "1.2.3.4/32" {
		t.Errorf("next hop mismatch: %v %v", nh, err)
	}
}

func TestAttrNotFound(t *testing.T) {
	wire := buildSampleUpdate(t)
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Update.Attr(bgpattr.MULTI_EXIT_DISC); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRealASPathNoAs4(t *testing.T) {
	wire := buildSampleUpdate(t)
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	segs, err := m.Update.RealASPath(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || len(segs[0].ASes) != 1 || segs[0].ASes[0] != 65001 {
		t.Errorf("got %+v", segs)
	}
}

func TestRealASPathIgnoresAs4PathWithoutAsTransAggregator(t *testing.T) {
	b := SetWrite(Options{})
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("10.0.0.0/8")})
	attrs := bgpattr.MakeOrigin(nil, 0)
	attrs = bgpattr.MakeAsPath16(attrs, []bgpattr.Segment{{Type: bgpattr.AS_SEQUENCE, ASes: []uint32{65001, 65002}}})
	attrs = bgpattr.MakeAsPath32(attrs, bgpattr.AS4_PATH, []bgpattr.Segment{{Type: bgpattr.AS_SEQUENCE, ASes: []uint32{700001}}})
	// AGGREGATOR's AS is NOT AS_TRANS, so AS4_PATH must be ignored entirely.
	attrs = bgpattr.MakeAggregator(attrs, bgpattr.Aggregator{AS: 65001, IP: netaddr.MustParse("1.2.3.4/32")}, false)
	b.PutAttr(attrs)
	wire, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	segs, err := m.Update.RealASPath(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || len(segs[0].ASes) != 2 || segs[0].ASes[1] != 65002 {
		t.Errorf("expected AS_PATH unmodified (AS4_PATH ignored), got %+v", segs)
	}
}

func TestRealASPathMergesAs4PathWithAsTransAggregator(t *testing.T) {
	b := SetWrite(Options{})
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("10.0.0.0/8")})
	attrs := bgpattr.MakeOrigin(nil, 0)
	attrs = bgpattr.MakeAsPath16(attrs, []bgpattr.Segment{{Type: bgpattr.AS_SEQUENCE, ASes: []uint32{bgpattr.AS_TRANS, 65002}}})
	attrs = bgpattr.MakeAsPath32(attrs, bgpattr.AS4_PATH, []bgpattr.Segment{{Type: bgpattr.AS_SEQUENCE, ASes: []uint32{700001}}})
	attrs = bgpattr.MakeAggregator(attrs, bgpattr.Aggregator{AS: bgpattr.AS_TRANS, IP: netaddr.MustParse("1.2.3.4/32")}, false)
	b.PutAttr(attrs)
	wire, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	segs, err := m.Update.RealASPath(false)
	if err != nil {
		t.Fatal(err)
	}
	var flat []uint32
	for _, s := range segs {
		flat = append(flat, s.ASes...)
	}
	if len(flat) != 2 || flat[0] != bgpattr.AS_TRANS || flat[1] != 700001 {
		t.Errorf("expected AS4_PATH merged in, got %+v", flat)
	}
}

func TestBuilderReuseAfterFinishPanics(t *testing.T) {
	b := SetWrite(Options{})
	if _, err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic on reuse after Finish")
		}
	}()
	b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse("10.0.0.0/8")})
}

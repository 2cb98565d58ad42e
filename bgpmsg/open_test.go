package bgpmsg

import (
	"testing"

	"github.com/CSUNetSec/bgpcore/netaddr"
)

func TestOpenRoundTripWithCapabilities(t *testing.T) {
	fqdn, err := MakeFQDNCap("bgpd", "example.net")
	if err != nil {
		t.Fatal(err)
	}
	o := Open{
		Version:    4,
		MyAS:       65517,
		HoldTime:   180,
		Identifier: netaddr.MustParse("127.1.1.2/32"),
		Capabilities: []Capability{
			MakeMultiprotocolCap(1, 1), // AFI_IP, SAFI_UNICAST
			MakeASN32Cap(65517),
			MakeAddPathCap([]AddPathTuple{{AFI: 1, SAFI: 1, SendReceive: ADD_PATH_BOTH}}),
			fqdn,
			MakeGracefulRestartCap(0, 120, nil),
		},
	}

	wire, err := WriteOpen(o)
	if err != nil {
		t.Fatal(err)
	}

	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Header.Type != OPEN {
		t.Fatalf("expected OPEN, got %v", m.Header.Type)
	}
	if m.Open == nil {
		t.Fatal("expected decoded Open body")
	}
	got := m.Open
	if got.Version != 4 || got.MyAS != 65517 || got.HoldTime != 180 {
		t.Errorf("fixed fields mismatch: %+v", got)
	}
	if got.Identifier.String() != "127.1.1.2/32" {
		t.Errorf("identifier mismatch: %v", got.Identifier)
	}
	if len(got.Capabilities) != 5 {
		t.Fatalf("expected 5 capabilities, got %d: %+v", len(got.Capabilities), got.Capabilities)
	}

	afi, safi, err := GetMultiprotocolCap(got.Capabilities[0])
	if err != nil || afi != 1 || safi != 1 {
		t.Errorf("MP capability mismatch: afi=%d safi=%d err=%v", afi, safi, err)
	}

	as, err := GetASN32Cap(got.Capabilities[1])
	if err != nil || as != 65517 {
		t.Errorf("ASN32 capability mismatch: as=%d err=%v", as, err)
	}

	tuples, err := GetAddPathCap(got.Capabilities[2])
	if err != nil || len(tuples) != 1 || tuples[0].SendReceive != ADD_PATH_BOTH {
		t.Errorf("add-path capability mismatch: %+v err=%v", tuples, err)
	}

	host, domain, err := GetFQDNCap(got.Capabilities[3])
	if err != nil || host != "bgpd" || domain != "example.net" {
		t.Errorf("FQDN capability mismatch: host=%q domain=%q err=%v", host, domain, err)
	}

	flags, secs, grTuples, err := GetGracefulRestartCap(got.Capabilities[4])
	if err != nil || flags != 0 || secs != 120 || len(grTuples) != 0 {
		t.Errorf("graceful-restart capability mismatch: flags=%d secs=%d tuples=%+v err=%v", flags, secs, grTuples, err)
	}
}

func TestKeepaliveRoundTrip(t *testing.T) {
	wire, err := WriteKeepalive()
	if err != nil {
		t.Fatal(err)
	}
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Header.Type != KEEPALIVE {
		t.Fatalf("expected KEEPALIVE, got %v", m.Header.Type)
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	wire, err := WriteNotification(Notification{ErrorCode: 6, ErrorSubcode: 2, Data: []byte("reset")})
	if err != nil {
		t.Fatal(err)
	}
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Notification == nil || m.Notification.ErrorCode != 6 || m.Notification.ErrorSubcode != 2 || string(m.Notification.Data) != "reset" {
		t.Errorf("notification mismatch: %+v", m.Notification)
	}
}

func TestRouteRefreshRoundTrip(t *testing.T) {
	wire, err := WriteRouteRefresh(RouteRefresh{AFI: 2, SAFI: 1})
	if err != nil {
		t.Fatal(err)
	}
	m, err := SetRead(wire, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if m.RouteRefresh == nil || m.RouteRefresh.AFI != 2 || m.RouteRefresh.SAFI != 1 {
		t.Errorf("route-refresh mismatch: %+v", m.RouteRefresh)
	}
}

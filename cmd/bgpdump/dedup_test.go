package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

func buildDedupMsg(t *testing.T, nlri ...string) *bgpmsg.Message {
	t.Helper()
	b := bgpmsg.SetWrite(bgpmsg.Options{})
	for _, n := range nlri {
		b.Advertise(netaddr.AddrAp{Addr: netaddr.MustParse(n)})
	}
	b.PutAttr(bgpattr.MakeOrigin(nil, 0))
	wire, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	m, err := bgpmsg.SetRead(wire, bgpmsg.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestPrefixDedupPrunesSubprefixes(t *testing.T) {
	var buf bytes.Buffer
	d := NewPrefixDedup(&buf, false)

	m1 := buildDedupMsg(t, "10.0.0.0/8")
	m2 := buildDedupMsg(t, "10.1.2.0/24")
	if _, err := d.format(1, m1); err != nil {
		t.Fatal(err)
	}
	if _, err := d.format(2, m2); err != nil {
		t.Fatal(err)
	}
	d.summarize()

	out := buf.String()
	if !strings.Contains(out, "10.0.0.0/8") {
		t.Errorf("expected the supernet to survive: %q", out)
	}
	if strings.Contains(out, "10.1.2.0/24") {
		t.Errorf("expected the subprefix to be pruned: %q", out)
	}
}

func TestPrefixDedupDistinctPrefixesBothSurvive(t *testing.T) {
	var buf bytes.Buffer
	d := NewPrefixDedup(&buf, false)

	if _, err := d.format(1, buildDedupMsg(t, "10.0.0.0/8")); err != nil {
		t.Fatal(err)
	}
	if _, err := d.format(2, buildDedupMsg(t, "192.168.0.0/16")); err != nil {
		t.Fatal(err)
	}
	d.summarize()

	out := buf.String()
	for _, want := range []string{"10.0.0.0/8", "192.168.0.0/16"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got %q", want, out)
		}
	}
}

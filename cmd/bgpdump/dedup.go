// PrefixDedup is a unique-top-level-prefix report: it records every
// prefix seen across a run and prunes any prefix already covered by a
// broader one already recorded. The prune is expressed with this
// module's own patricia.Trie -- GetSupernetsOf is exactly "is this
// prefix already covered by something I've recorded" -- rather than
// building a throwaway tree and deriving keys by hand.
package main

import (
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/netaddr"
	"github.com/CSUNetSec/bgpcore/patricia"
)

type prefixEvent struct {
	Timestamp  time.Time
	Advertised bool
}

type prefixHistory struct {
	Prefix string
	Events []prefixEvent
}

// PrefixDedup records every NLRI/withdrawn prefix seen across an
// entire run and, at summarize time, emits only the top-level
// prefixes (those with no recorded supernet), either as one line per
// prefix (series=false) or as a gob-encoded event series
// (series=true).
type PrefixDedup struct {
	mu     sync.Mutex
	v4     *patricia.Trie
	v6     *patricia.Trie
	out    io.Writer
	series bool
}

func NewPrefixDedup(out io.Writer, series bool) *PrefixDedup {
	return &PrefixDedup{
		v4:     patricia.New(netaddr.V4),
		v6:     patricia.New(netaddr.V6),
		out:    out,
		series: series,
	}
}

func (d *PrefixDedup) trieFor(fam netaddr.Family) *patricia.Trie {
	if fam == netaddr.V6 {
		return d.v6
	}
	return d.v4
}

func (d *PrefixDedup) format(_ int, msg *bgpmsg.Message) (string, error) {
	if msg.Update == nil {
		return "", nil
	}
	now := time.Now()
	for _, p := range msg.Update.NLRI {
		d.record(p.Addr, now, true)
	}
	for _, p := range msg.Update.WithdrawnRoutes {
		d.record(p.Addr, now, false)
	}
	return "", nil
}

func (d *PrefixDedup) record(addr netaddr.Addr, ts time.Time, advertised bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.trieFor(addr.Family)
	if n, ok := t.SearchExact(addr); ok {
		ph := n.Payload().(*prefixHistory)
		ph.Events = append(ph.Events, prefixEvent{ts, advertised})
		return
	}
	ph := &prefixHistory{Prefix: addr.String(), Events: []prefixEvent{{ts, advertised}}}
	t.Insert(addr, ph)
}

// summarize prunes every prefix that has a recorded supernet, then
// writes what's left.
func (d *PrefixDedup) summarize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitTopLevel(d.v4)
	d.emitTopLevel(d.v6)
}

func (d *PrefixDedup) emitTopLevel(t *patricia.Trie) {
	var top []*prefixHistory
	t.Walk(func(n patricia.Node) bool {
		if len(t.GetSupernetsOf(n.Key())) == 1 { // only n itself
			top = append(top, n.Payload().(*prefixHistory))
		}
		return true
	})
	if d.series {
		enc := gob.NewEncoder(d.out)
		for _, ph := range top {
			enc.Encode(ph)
		}
		return
	}
	for _, ph := range top {
		fmt.Fprintf(d.out, "%s\n", ph.Prefix)
	}
}

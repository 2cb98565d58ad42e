package bgpmsg

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// Builder assembles an outgoing UPDATE message body. It is a
// write-only counterpart to Message: SetWrite begins it, the Put*
// methods append wire-ready fields in RFC 4271 order, and Finish
// produces the framed message (header + body). Both directions of one
// object share the idle/writing states instead of needing two separate
// buf wrappers.
type Builder struct {
	st        state
	opts      Options
	withdrawn []netaddr.AddrAp
	attrs     []byte
	nlri      []netaddr.AddrAp
}

// SetWrite begins building a new UPDATE message body.
func SetWrite(opts Options) *Builder {
	return &Builder{st: writing, opts: opts}
}

func (b *Builder) mustBeWriting() {
	if b.st != writing {
		panic("bgpmsg: Builder used after Finish/Close")
	}
}

// Withdraw appends a withdrawn route.
func (b *Builder) Withdraw(p netaddr.AddrAp) *Builder {
	b.mustBeWriting()
	b.withdrawn = append(b.withdrawn, p)
	return b
}

// Advertise appends an NLRI entry.
func (b *Builder) Advertise(p netaddr.AddrAp) *Builder {
	b.mustBeWriting()
	b.nlri = append(b.nlri, p)
	return b
}

// PutAttr appends a pre-encoded attribute (flags+code+len+value), as
// produced by one of bgpattr's Make* builders.
func (b *Builder) PutAttr(encoded []byte) *Builder {
	b.mustBeWriting()
	b.attrs = append(b.attrs, encoded...)
	return b
}

// Finish serializes the accumulated fields into a complete framed BGP
// UPDATE message (19-byte header + body) and returns the Builder to
// idle. Calling Finish twice without a fresh SetWrite is an error.
func (b *Builder) Finish() ([]byte, error) {
	if b.st != writing {
		return nil, errors.New("bgpmsg: Finish called outside writing state")
	}
	b.st = idle

	var wbuf []byte
	wbuf = bgpattr.PutNLRI(wbuf, b.withdrawn, b.opts.AddPath)
	var abuf []byte
	abuf = b.attrs
	var nbuf []byte
	nbuf = bgpattr.PutNLRI(nbuf, b.nlri, b.opts.AddPath)

	body := make([]byte, 0, 4+len(wbuf)+len(abuf)+len(nbuf))
	var wl, al [2]byte
	binary.BigEndian.PutUint16(wl[:], uint16(len(wbuf)))
	binary.BigEndian.PutUint16(al[:], uint16(len(abuf)))
	body = append(body, wl[:]...)
	body = append(body, wbuf...)
	body = append(body, al[:]...)
	body = append(body, abuf...)
	body = append(body, nbuf...)

	return frame(UPDATE, body)
}

// frame wraps body in the 19-byte BGP message header (conventional
// all-ones marker, total length, message type) shared by every
// message type's writer.
func frame(typ Type, body []byte) ([]byte, error) {
	total := HeaderLen + len(body)
	if total > MaxLen {
		return nil, errors.Errorf("bgpmsg: message length %d exceeds max %d", total, MaxLen)
	}

	out := make([]byte, HeaderLen, total)
	for i := range out[:MarkerLen] {
		out[i] = 0xFF // conventional all-ones marker for an unauthenticated session
	}
	binary.BigEndian.PutUint16(out[MarkerLen:MarkerLen+2], uint16(total))
	out[MarkerLen+2] = byte(typ)
	out = append(out, body...)
	return out, nil
}

// Close discards an in-progress Builder without producing output.
func (b *Builder) Close() {
	b.st = idle
	b.withdrawn = nil
	b.attrs = nil
	b.nlri = nil
}

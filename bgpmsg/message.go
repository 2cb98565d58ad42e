// Package bgpmsg implements the BGP message object lifecycle
// (open/update/notification/keepalive/route-refresh), its attribute
// and NLRI sub-iterators, and the notable-attribute offset table, in
// the shape of a readAttrs/Parse state machine re-expressed without a
// protobuf destination: callers get a decoded Go struct directly.
package bgpmsg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// Type is the BGP message type byte (RFC 4271 section 4.1).
type Type uint8

const (
	OPEN          Type = 1
	UPDATE        Type = 2
	NOTIFICATION  Type = 3
	KEEPALIVE     Type = 4
	ROUTE_REFRESH Type = 5
)

func (t Type) String() string {
	switch t {
	case OPEN:
		return "OPEN"
	case UPDATE:
		return "UPDATE"
	case NOTIFICATION:
		return "NOTIFICATION"
	case KEEPALIVE:
		return "KEEPALIVE"
	case ROUTE_REFRESH:
		return "ROUTE_REFRESH"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

const (
	MarkerLen = 16
	HeaderLen = 19
	MaxLen    = 4096
)

// state tracks what operations are legal on a Message. A read-only
// header/body split is folded into one object with an explicit state
// so a Message can also be built up for writing.
type state int

const (
	idle state = iota
	reading
	writing
)

// Header is the fixed 19-byte BGP message header.
type Header struct {
	Marker [MarkerLen]byte
	Length uint16
	Type   Type
}

// Options controls how a Message's body is interpreted -- these are
// session-negotiated capabilities (RFC 4271 OPEN capabilities) that
// cannot be inferred from the wire bytes alone.
type Options struct {
	V6      bool // AFI of the session is IPv6 unicast
	AS4     bool // 4-byte ASN capability negotiated
	AddPath bool // RFC 7911 Add-Path negotiated for this AFI/SAFI
}

// Update is the decoded body of an UPDATE message.
type Update struct {
	WithdrawnRoutes []netaddr.AddrAp
	Attrs           []bgpattr.Attr
	NLRI            []netaddr.AddrAp
}

// Message is one BGP protocol message: a header plus a type-specific
// decoded body. It moves through idle -> reading|writing -> idle per
// call, a single-use-per-parse shape.
type Message struct {
	st           state
	opts         Options
	Header       Header
	Update       *Update
	Open         *Open
	Notification *Notification
	RouteRefresh *RouteRefresh
	raw          []byte // original body bytes, retained for String()/re-encode
}

// SetRead decodes buf (header + body, exactly one message) into m.
func SetRead(buf []byte, opts Options) (*Message, error) {
	if len(buf) < HeaderLen {
		return nil, errors.New("bgpmsg: buffer shorter than header")
	}
	m := &Message{st: reading, opts: opts}
	copy(m.Header.Marker[:], buf[:MarkerLen])
	m.Header.Length = binary.BigEndian.Uint16(buf[MarkerLen : MarkerLen+2])
	m.Header.Type = Type(buf[MarkerLen+2])
	if int(m.Header.Length) > len(buf) {
		return nil, errors.Errorf("bgpmsg: header declares length %d, have %d", m.Header.Length, len(buf))
	}
	body := buf[HeaderLen:m.Header.Length]
	m.raw = body

	switch m.Header.Type {
	case UPDATE:
		up, err := parseUpdate(body, opts)
		if err != nil {
			return nil, errors.Wrap(err, "bgpmsg: parsing UPDATE body")
		}
		m.Update = up
	case OPEN:
		o, err := parseOpen(body)
		if err != nil {
			return nil, errors.Wrap(err, "bgpmsg: parsing OPEN body")
		}
		m.Open = o
	case NOTIFICATION:
		n, err := parseNotification(body)
		if err != nil {
			return nil, errors.Wrap(err, "bgpmsg: parsing NOTIFICATION body")
		}
		m.Notification = n
	case ROUTE_REFRESH:
		r, err := parseRouteRefresh(body)
		if err != nil {
			return nil, errors.Wrap(err, "bgpmsg: parsing ROUTE-REFRESH body")
		}
		m.RouteRefresh = r
	case KEEPALIVE:
		// no body
	}
	m.st = idle
	return m, nil
}

// SetReadFromStream is the bufio.Scanner-friendly variant: framer is
// expected to have already split off exactly one message, so this is
// just SetRead with a name
// that matches the read-from-a-stream call site in the example driver.
func SetReadFromStream(frame []byte, opts Options) (*Message, error) {
	return SetRead(frame, opts)
}

// parseUpdate implements the withdrawn/attrs/NLRI three-field layout,
// folding MP_REACH_NLRI/MP_UNREACH_NLRI contributions into the
// classic route lists, since RFC 2283 buries multiprotocol routes
// inside path attributes.
func parseUpdate(buf []byte, opts Options) (*Update, error) {
	if len(buf) < 2 {
		return nil, errors.New("bgpmsg: truncated withdrawn-routes length")
	}
	wlen := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < wlen {
		return nil, errors.New("bgpmsg: truncated withdrawn routes")
	}
	withdrawn, err := bgpattr.GetNLRI(buf[:wlen], opts.AddPath)
	if err != nil {
		return nil, errors.Wrap(err, "withdrawn routes")
	}
	buf = buf[wlen:]

	if len(buf) < 2 {
		return nil, errors.New("bgpmsg: truncated attribute-length field")
	}
	alen := int(binary.BigEndian.Uint16(buf[0:2]))
	buf = buf[2:]
	if len(buf) < alen {
		return nil, errors.New("bgpmsg: truncated attributes")
	}
	attrBuf := buf[:alen]
	nlriBuf := buf[alen:]

	var attrs []bgpattr.Attr
	var mpAdv, mpWdr []netaddr.AddrAp
	for len(attrBuf) > 0 {
		a, n, err := bgpattr.Parse(attrBuf)
		if err != nil {
			return nil, errors.Wrap(err, "path attribute")
		}
		attrs = append(attrs, a)
		switch a.Code {
		case bgpattr.MP_REACH_NLRI:
			r, err := bgpattr.GetMPReach(a, opts.AddPath)
			if err == nil {
				mpAdv = append(mpAdv, r.NLRI...)
			}
		case bgpattr.MP_UNREACH_NLRI:
			u, err := bgpattr.GetMPUnreach(a, opts.AddPath)
			if err == nil {
				mpWdr = append(mpWdr, u.NLRI...)
			}
		}
		attrBuf = attrBuf[n:]
	}

	nlri, err := bgpattr.GetNLRI(nlriBuf, opts.AddPath)
	if err != nil {
		return nil, errors.Wrap(err, "NLRI")
	}
	nlri = append(nlri, mpAdv...)
	withdrawn = append(withdrawn, mpWdr...)

	return &Update{WithdrawnRoutes: withdrawn, Attrs: attrs, NLRI: nlri}, nil
}

// Attr looks up the first attribute of the given code, returning
// ErrNotFound if the UPDATE does not carry it. The message carries no
// hash index; this is a linear scan over Attrs -- acceptable since
// path attribute counts per UPDATE are small.
var ErrNotFound = errors.New("bgpmsg: attribute not present")

func (u *Update) Attr(code bgpattr.Code) (bgpattr.Attr, error) {
	for _, a := range u.Attrs {
		if a.Code == code {
			return a, nil
		}
	}
	return bgpattr.Attr{}, ErrNotFound
}

// RealASPath reconstructs the loop-detection AS path per RFC 6793.
// AS4_PATH is only merged into AS_PATH when the UPDATE carries an
// AGGREGATOR attribute whose AS equals AS_TRANS: that's the signal
// that the path traversed a 2-byte-ASN speaker which truncated the
// true AS into AGGREGATOR/AS4_AGGREGATOR and had to carry the overflow
// separately. Without that signal, AS4_PATH (if present at all) is
// ignored and AS_PATH is already the real path.
func (u *Update) RealASPath(as4Native bool) ([]bgpattr.Segment, error) {
	pathAttr, err := u.Attr(bgpattr.AS_PATH)
	if err != nil {
		return nil, nil
	}
	path, err := bgpattr.GetAsPath(pathAttr, as4Native)
	if err != nil {
		return nil, err
	}
	if as4Native {
		return path, nil
	}
	aggAttr, err := u.Attr(bgpattr.AGGREGATOR)
	if err == ErrNotFound {
		return path, nil
	}
	if err != nil {
		return nil, err
	}
	agg, err := bgpattr.GetAggregator(aggAttr, false)
	if err != nil {
		return nil, err
	}
	if agg.AS != bgpattr.AS_TRANS {
		return path, nil
	}
	as4Attr, err := u.Attr(bgpattr.AS4_PATH)
	if err == ErrNotFound {
		return path, nil
	}
	if err != nil {
		return nil, err
	}
	as4path, err := bgpattr.GetAsPath(as4Attr, true)
	if err != nil {
		return nil, err
	}
	return bgpattr.RealPath(path, as4path), nil
}

// NextHop returns the session's preferred next hop: MP_REACH_NLRI's
// first next hop if present (it takes precedence when it exists),
// falling back to the classic NEXT_HOP attribute.
func (u *Update) NextHop(addPath bool) (netaddr.Addr, error) {
	if a, err := u.Attr(bgpattr.MP_REACH_NLRI); err == nil {
		r, err := bgpattr.GetMPReach(a, addPath)
		if err == nil && len(r.NextHops) > 0 {
			return r.NextHops[0], nil
		}
	}
	if a, err := u.Attr(bgpattr.NEXT_HOP); err == nil {
		return bgpattr.GetNextHop(a)
	}
	return netaddr.Addr{}, ErrNotFound
}

// jsonPrefix renders an AddrAp the way the example driver's JSON
// formatter wants it: plain IP plus a numeric mask.
type jsonPrefix struct {
	Prefix net.IP `json:"prefix"`
	Mask   uint32 `json:"mask"`
}

func toJSONPrefix(a netaddr.AddrAp) jsonPrefix {
	b := make([]byte, 4)
	if a.Family == netaddr.V6 {
		b = make([]byte, 16)
	}
	full := a.Full16()
	copy(b, full[:len(b)])
	return jsonPrefix{Prefix: net.IP(b), Mask: uint32(a.Bitlen)}
}

type jsonUpdate struct {
	WithdrawnRoutes []jsonPrefix `json:"withdrawn_routes,omitempty"`
	AdvertizedRoutes []jsonPrefix `json:"advertized_routes,omitempty"`
}

// MarshalJSON renders an UPDATE's withdrawn routes and NLRI (no type
// tag, no attribute dump: attributes are exposed structurally via
// Attrs instead); any other message renders as just its type tag.
func (m *Message) MarshalJSON() ([]byte, error) {
	if m.Update == nil {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: m.Header.Type.String()})
	}
	ju := jsonUpdate{}
	for _, w := range m.Update.WithdrawnRoutes {
		ju.WithdrawnRoutes = append(ju.WithdrawnRoutes, toJSONPrefix(w))
	}
	for _, a := range m.Update.NLRI {
		ju.AdvertizedRoutes = append(ju.AdvertizedRoutes, toJSONPrefix(a))
	}
	return json.Marshal(ju)
}

// Bytes returns the complete framed wire bytes (19-byte header + body)
// for m. A Message produced by SetRead re-frames its original body
// verbatim; one built by hand (e.g. an mrt.RIB.ToUpdate rebuild) is
// re-encoded through Builder, since it never had wire bytes of its own.
func (m *Message) Bytes() ([]byte, error) {
	if m.raw != nil {
		return frame(m.Header.Type, m.raw)
	}
	if m.Update == nil {
		return nil, errors.New("bgpmsg: message has no body to encode")
	}
	b := SetWrite(m.opts)
	for _, w := range m.Update.WithdrawnRoutes {
		b.Withdraw(w)
	}
	for _, a := range m.Update.Attrs {
		b.PutAttr(bgpattr.Put(nil, a.Flags, a.Code, a.Value))
	}
	for _, n := range m.Update.NLRI {
		b.Advertise(n)
	}
	return b.Finish()
}

// String renders a short human summary.
func (m *Message) String() string {
	if m.Update == nil {
		return m.Header.Type.String()
	}
	s := fmt.Sprintf("%s Withdrawn(%d) NLRI(%d) Attrs(%d)",
		m.Header.Type, len(m.Update.WithdrawnRoutes), len(m.Update.NLRI), len(m.Update.Attrs))
	return s
}

package bgpmsg

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Notification is the decoded body of a NOTIFICATION message (RFC
// 4271 section 4.5): an error code/subcode pair plus optional
// diagnostic data. Receiving one means the session is being torn down.
type Notification struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

func parseNotification(buf []byte) (*Notification, error) {
	if len(buf) < 2 {
		return nil, errors.New("bgpmsg: truncated NOTIFICATION body")
	}
	return &Notification{ErrorCode: buf[0], ErrorSubcode: buf[1], Data: buf[2:]}, nil
}

// WriteNotification frames a NOTIFICATION message.
func WriteNotification(n Notification) ([]byte, error) {
	body := make([]byte, 0, 2+len(n.Data))
	body = append(body, n.ErrorCode, n.ErrorSubcode)
	body = append(body, n.Data...)
	return frame(NOTIFICATION, body)
}

// RouteRefresh is the decoded body of a ROUTE-REFRESH message (RFC
// 2918): the AFI/SAFI the peer wants re-advertised.
type RouteRefresh struct {
	AFI  uint16
	SAFI uint8
}

func parseRouteRefresh(buf []byte) (*RouteRefresh, error) {
	if len(buf) < 4 {
		return nil, errors.New("bgpmsg: truncated ROUTE-REFRESH body")
	}
	return &RouteRefresh{AFI: binary.BigEndian.Uint16(buf[0:2]), SAFI: buf[3]}, nil
}

// WriteRouteRefresh frames a ROUTE-REFRESH message.
func WriteRouteRefresh(r RouteRefresh) ([]byte, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body[0:2], r.AFI)
	body[3] = r.SAFI
	return frame(ROUTE_REFRESH, body)
}

// WriteKeepalive frames a KEEPALIVE message: header only, zero-length
// body (RFC 4271 section 4.4).
func WriteKeepalive() ([]byte, error) {
	return frame(KEEPALIVE, nil)
}

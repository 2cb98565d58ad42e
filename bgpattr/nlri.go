package bgpattr

import "github.com/CSUNetSec/bgpcore/netaddr"

// PutNLRI and GetNLRI are the classic (IPv4 unicast, non-MP) withdrawn
// routes / NLRI field codecs: the same compact (path-id, bitlen,
// prefix-bytes) form as MP_REACH/MP_UNREACH, just not wrapped in an
// attribute and always IPv4.

func PutNLRI(dst []byte, entries []netaddr.AddrAp, addPath bool) []byte {
	for _, e := range entries {
		dst = putPrefix(dst, e, addPath)
	}
	return dst
}

func GetNLRI(buf []byte, addPath bool) ([]netaddr.AddrAp, error) {
	return getPrefixList(buf, netaddr.V4, addPath)
}

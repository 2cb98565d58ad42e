package vm

import (
	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/errs"
	"github.com/CSUNetSec/bgpcore/netaddr"
)

// activeAddrs returns the address list the current access mode points
// at: NLRI, withdrawn routes, or (for attribute-bearing matches) the
// empty set, since attributes aren't addressed this way.
func (v *VM) activeAddrs() []netaddr.AddrAp {
	if v.msg.Update == nil {
		return nil
	}
	switch v.access {
	case AccessWithdrawn:
		return v.msg.Update.WithdrawnRoutes
	case AccessAttrs:
		return nil
	default:
		return v.msg.Update.NLRI
	}
}

func (v *VM) stepTrie(instr Instr) error {
	switch instr.Op {
	case CLRTRIE:
		v.TrieV4.Clear()
		return nil
	case CLRTRIE6:
		v.TrieV6.Clear()
		return nil
	}
	idx := int(instr.Arg)
	if idx < 0 || idx >= len(v.Const) {
		return &errs.VMError{Code: errs.VM_K_UNDEFINED}
	}
	addr, ok := v.Const[idx].(netaddr.Addr)
	if !ok {
		return &errs.VMError{Code: errs.VM_TRIE_MISMATCH}
	}
	if instr.Op == SETTRIE {
		if addr.Family != netaddr.V4 {
			return &errs.VMError{Code: errs.VM_TRIE_MISMATCH}
		}
		v.TrieV4.Insert(addr, nil)
	} else {
		if addr.Family != netaddr.V6 {
			return &errs.VMError{Code: errs.VM_TRIE_MISMATCH}
		}
		v.TrieV6.Insert(addr, nil)
	}
	return nil
}

func (v *VM) stepPrefixMatch(instr Instr) error {
	addrs := v.activeAddrs()
	any := false
	for _, a := range addrs {
		var trie = v.TrieV4
		if a.Family == netaddr.V6 {
			trie = v.TrieV6
		}
		var hit bool
		switch instr.Op {
		case EXACT:
			_, hit = trie.SearchExact(a.Addr)
		case SUBNET:
			hit = trie.IsSubnetOf(a.Addr)
		case SUPERNET:
			hit = trie.IsSupernetOf(a.Addr)
		case RELATED:
			hit = trie.IsRelated(a.Addr)
		}
		if hit {
			any = true
			break
		}
	}
	v.pushBool(any)
	return nil
}

func (v *VM) constAddr(idx int) (netaddr.Addr, error) {
	if idx < 0 || idx >= len(v.Const) {
		return netaddr.Addr{}, &errs.VMError{Code: errs.VM_K_UNDEFINED}
	}
	a, ok := v.Const[idx].(netaddr.Addr)
	if !ok {
		return netaddr.Addr{}, &errs.VMError{Code: errs.VM_BAD_ACCESSOR}
	}
	return a, nil
}

func (v *VM) stepAddrCmp(instr Instr) error {
	rhsIdx, err := v.pop()
	if err != nil {
		return err
	}
	rhs, err := v.constAddr(int(rhsIdx))
	if err != nil {
		return err
	}
	any := false
	for _, a := range v.activeAddrs() {
		equal := false
		if instr.Op == PFXCMP {
			equal = a.Addr.Equal(rhs)
		} else {
			equal = a.Family == rhs.Family && string(a.Bytes()) == string(rhs.Bytes())
		}
		if equal {
			any = true
			break
		}
	}
	v.pushBool(any)
	return nil
}

// asPathWindow narrows the reconstructed AS path to the segment the
// VM's current ASAccessMode selects: source, destination, midpath, or
// anywhere.
func asPathWindow(flat []uint32, mode ASAccessMode) []uint32 {
	if len(flat) == 0 {
		return nil
	}
	switch mode {
	case ASSource:
		return flat[len(flat)-1:]
	case ASDest:
		return flat[:1]
	case ASMidpath:
		if len(flat) < 3 {
			return nil
		}
		return flat[1 : len(flat)-1]
	default:
		return flat
	}
}

func (v *VM) flatASPath() ([]uint32, error) {
	if v.msg.Update == nil {
		return nil, nil
	}
	segs, err := v.msg.Update.RealASPath(true)
	if err != nil {
		return nil, err
	}
	var flat []uint32
	for _, s := range segs {
		flat = append(flat, s.ASes...)
	}
	return flat, nil
}

func (v *VM) stepASPMatch(instr Instr) error {
	idx := int(instr.Arg)
	if idx < 0 || idx >= len(v.Const) {
		return &errs.VMError{Code: errs.VM_K_UNDEFINED}
	}
	pattern, ok := v.Const[idx].([]uint32)
	if !ok {
		return &errs.VMError{Code: errs.VM_BAD_ARRAY}
	}
	flat, err := v.flatASPath()
	if err != nil {
		return err
	}
	window := asPathWindow(flat, v.asAccess)

	var hit bool
	switch instr.Op {
	case ASPEXACT:
		hit = uint32SliceEqual(window, pattern)
	case ASPSTARTS:
		hit = hasPrefixU32(flat, pattern)
	case ASPENDS:
		hit = hasSuffixU32(flat, pattern)
	default: // ASPMATCH: pattern occurs anywhere in window
		hit = containsSubseqU32(window, pattern)
	}
	v.pushBool(hit)
	return nil
}

func (v *VM) stepASCmp(instr Instr) error {
	idx := int(instr.Arg)
	if idx < 0 || idx >= len(v.Const) {
		return &errs.VMError{Code: errs.VM_K_UNDEFINED}
	}
	as, ok := v.Const[idx].(uint32)
	if !ok {
		return &errs.VMError{Code: errs.VM_BAD_ACCESSOR}
	}
	flat, err := v.flatASPath()
	if err != nil {
		return err
	}
	window := asPathWindow(flat, v.asAccess)
	hit := false
	for _, a := range window {
		if a == as {
			hit = true
			break
		}
	}
	v.pushBool(hit)
	return nil
}

func (v *VM) stepCommExact(instr Instr) error {
	idx := int(instr.Arg)
	if idx < 0 || idx >= len(v.Const) {
		return &errs.VMError{Code: errs.VM_K_UNDEFINED}
	}
	want, ok := v.Const[idx].(uint32)
	if !ok {
		return &errs.VMError{Code: errs.VM_BAD_ACCESSOR}
	}
	if v.msg.Update == nil {
		v.pushBool(false)
		return nil
	}
	a, err := v.msg.Update.Attr(bgpattr.COMMUNITIES)
	if err != nil {
		v.pushBool(false)
		return nil
	}
	comms, err := bgpattr.GetCommunities(a)
	if err != nil {
		return nil
	}
	hit := false
	for _, c := range comms {
		if c == want {
			hit = true
			break
		}
	}
	v.pushBool(hit)
	return nil
}

func uint32SliceEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasPrefixU32(haystack, prefix []uint32) bool {
	if len(prefix) > len(haystack) {
		return false
	}
	return uint32SliceEqual(haystack[:len(prefix)], prefix)
}

func hasSuffixU32(haystack, suffix []uint32) bool {
	if len(suffix) > len(haystack) {
		return false
	}
	return uint32SliceEqual(haystack[len(haystack)-len(suffix):], suffix)
}

func containsSubseqU32(haystack, needle []uint32) bool {
	if len(needle) == 0 {
		return true
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if uint32SliceEqual(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

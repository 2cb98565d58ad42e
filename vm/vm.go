package vm

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/errs"
	"github.com/CSUNetSec/bgpcore/netaddr"
	"github.com/CSUNetSec/bgpcore/patricia"
)

// AccessMode selects which part of the message the current
// sub-iteration walks: NLRI, withdrawn routes, or attributes.
type AccessMode uint8

const (
	AccessNLRI AccessMode = iota
	AccessWithdrawn
	AccessAttrs
)

// ASAccessMode narrows AS-path matching to a position within the path.
type ASAccessMode uint8

const (
	ASAnywhere ASAccessMode = iota // default: match anywhere in the path
	ASSource
	ASDest
	ASMidpath
)

const (
	permanentHeapSize = 256
	temporaryHeapSize = 256
)

// Counters is an optional, nil-safe prometheus hook: every field may
// be left nil, in which case Inc()/Observe() calls are skipped. This
// favors passing counter handles directly into hot paths rather than
// reaching for a global registry.
type Counters struct {
	Traps   prometheus.Counter
	Runs    prometheus.Counter
	Matches prometheus.Counter
}

func (c *Counters) incTraps() {
	if c != nil && c.Traps != nil {
		c.Traps.Inc()
	}
}
func (c *Counters) incRuns() {
	if c != nil && c.Runs != nil {
		c.Runs.Inc()
	}
}
func (c *Counters) incMatches() {
	if c != nil && c.Matches != nil {
		c.Matches.Inc()
	}
}

// heap is split into a permanent zone (constant pool results, trie
// handles set up once at compile time) and a temporary zone that is
// reset to its high-water mark at the start of every filter() call.
type heap struct {
	slots      []interface{}
	tempMarker int // slots[tempMarker:] is the temporary zone
	highWater  int // furthest temp slot used since the last reset
}

func newHeap() *heap {
	return &heap{
		slots:      make([]interface{}, permanentHeapSize+temporaryHeapSize),
		tempMarker: permanentHeapSize,
		highWater:  permanentHeapSize,
	}
}

func (h *heap) resetTemp() {
	for i := h.tempMarker; i < h.highWater; i++ {
		h.slots[i] = nil
	}
	h.highWater = h.tempMarker
}

func (h *heap) store(idx int, v interface{}) error {
	if idx < 0 || idx >= len(h.slots) {
		return &errs.VMError{Code: errs.VM_BAD_HEAP_PTR}
	}
	h.slots[idx] = v
	if idx >= h.tempMarker && idx+1 > h.highWater {
		h.highWater = idx + 1
	}
	return nil
}

func (h *heap) load(idx int) (interface{}, error) {
	if idx < 0 || idx >= len(h.slots) {
		return nil, &errs.VMError{Code: errs.VM_BAD_HEAP_PTR}
	}
	return h.slots[idx], nil
}

// VM is one reusable filter-bytecode interpreter instance: the
// constant pool is prepared once by the compiler, then Run is invoked
// per message; the program's SETTRIE/CLRTRIE instructions load the
// tries during each Run.
type VM struct {
	Const    []interface{} // constant pool: literals, prefixes, AS numbers, community values
	TrieV4   *patricia.Trie
	TrieV6   *patricia.Trie
	Counters *Counters

	heap *heap

	stack      []int64
	blockStack []bool

	access   AccessMode
	asAccess ASAccessMode

	msg *bgpmsg.Message
}

// New builds a VM sharing the given constant pool (the compiler
// populates it once; Run may be called repeatedly and concurrently
// from different VM instances sharing the same read-only pool).
func New(constPool []interface{}, counters *Counters) *VM {
	return &VM{
		Const:    constPool,
		TrieV4:   patricia.New(netaddr.V4),
		TrieV6:   patricia.New(netaddr.V6),
		Counters: counters,
		heap:     newHeap(),
	}
}

func (v *VM) push(x int64)    { v.stack = append(v.stack, x) }
func (v *VM) pushBool(b bool) { v.push(boolToInt(b)) }

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (v *VM) pop() (int64, error) {
	n := len(v.stack)
	if n == 0 {
		return 0, &errs.VMError{Code: errs.VM_STACK_UNDERFLOW}
	}
	x := v.stack[n-1]
	v.stack = v.stack[:n-1]
	return x, nil
}

// Run executes prog against msg and reports whether it matched. A
// trap (VM_TRAP / any VMError during opcode dispatch) clears the
// block stack and settles the access mode back to AccessNLRI before
// propagating, matching the structured-exception-style recovery the
// spec requires so one bad program position cannot leave a VM
// instance in an inconsistent state for the next Run.
func (v *VM) Run(prog []Instr, msg *bgpmsg.Message) (matched bool, err error) {
	v.Counters.incRuns()
	v.msg = msg
	v.stack = v.stack[:0]
	v.blockStack = v.blockStack[:0]
	v.access = AccessNLRI
	v.heap.resetTemp()

	defer func() {
		if r := recover(); r != nil {
			v.Counters.incTraps()
			v.blockStack = v.blockStack[:0]
			v.heap.resetTemp()
			v.access = AccessNLRI
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = errors.Errorf("vm: trap: %v", r)
			}
		}
	}()

	pc := 0
	for pc < len(prog) {
		instr := prog[pc]
		next, err := v.step(instr, pc)
		if err != nil {
			v.Counters.incTraps()
			v.blockStack = v.blockStack[:0]
			v.heap.resetTemp()
			v.access = AccessNLRI
			return false, &errs.VMError{Code: toVMCode(err), PC: pc}
		}
		pc = next
	}

	result, perr := v.pop()
	if perr != nil {
		return false, perr
	}
	matched = result != 0
	if matched {
		v.Counters.incMatches()
	}
	return matched, nil
}

func toVMCode(err error) errs.VMCode {
	if ve, ok := err.(*errs.VMError); ok {
		return ve.Code
	}
	return errs.VM_ILLEGAL_OPCODE
}

// step executes one instruction and returns the pc to run next (pc+1
// for every instruction except JFALSE/JTRUE, which may skip ahead).
func (v *VM) step(instr Instr, pc int) (int, error) {
	next := pc + 1
	switch instr.Op {
	case NOP:
	case PUSHK:
		idx := int(instr.Arg)
		if idx < 0 || idx >= len(v.Const) {
			return pc, &errs.VMError{Code: errs.VM_K_UNDEFINED}
		}
		if n, ok := v.Const[idx].(int64); ok {
			v.push(n)
		} else {
			// non-numeric constants (prefixes, AS lists) are
			// referenced by index, not value, on the int stack.
			v.push(int64(idx))
		}
	case PUSHI:
		v.push(int64(int8(instr.Arg)))
	case POP:
		if _, err := v.pop(); err != nil {
			return pc, err
		}
	case DUP:
		n := len(v.stack)
		if n == 0 {
			return pc, &errs.VMError{Code: errs.VM_STACK_UNDERFLOW}
		}
		v.push(v.stack[n-1])
	case STORE:
		x, err := v.pop()
		if err != nil {
			return pc, err
		}
		return next, v.heap.store(int(instr.Arg), x)
	case LOADK:
		x, err := v.heap.load(int(instr.Arg))
		if err != nil {
			return pc, err
		}
		n, _ := x.(int64)
		v.push(n)
	case DISCARD:
		return next, v.heap.store(int(instr.Arg), nil)
	case BLKPUSH:
		x, err := v.pop()
		if err != nil {
			return pc, err
		}
		v.blockStack = append(v.blockStack, x != 0)
	case BLKPOP:
		if len(v.blockStack) == 0 {
			return pc, &errs.VMError{Code: errs.VM_BAD_BLOCK}
		}
		b := v.blockStack[len(v.blockStack)-1]
		v.blockStack = v.blockStack[:len(v.blockStack)-1]
		v.pushBool(b)
	case AND:
		if len(v.blockStack) < 2 {
			return pc, &errs.VMError{Code: errs.VM_BAD_BLOCK}
		}
		n := len(v.blockStack)
		v.blockStack[n-2] = v.blockStack[n-2] && v.blockStack[n-1]
		v.blockStack = v.blockStack[:n-1]
	case OR:
		if len(v.blockStack) < 2 {
			return pc, &errs.VMError{Code: errs.VM_BAD_BLOCK}
		}
		n := len(v.blockStack)
		v.blockStack[n-2] = v.blockStack[n-2] || v.blockStack[n-1]
		v.blockStack = v.blockStack[:n-1]
	case NOT:
		x, err := v.pop()
		if err != nil {
			return pc, err
		}
		v.pushBool(x == 0)
	case JFALSE:
		if len(v.blockStack) == 0 {
			return pc, &errs.VMError{Code: errs.VM_BAD_BLOCK}
		}
		if !v.blockStack[len(v.blockStack)-1] {
			next = pc + 1 + int(instr.Arg)
		}
	case JTRUE:
		if len(v.blockStack) == 0 {
			return pc, &errs.VMError{Code: errs.VM_BAD_BLOCK}
		}
		if v.blockStack[len(v.blockStack)-1] {
			next = pc + 1 + int(instr.Arg)
		}
	case SETACCESS:
		v.access = AccessMode(instr.Arg)
	case SETASACCESS:
		v.asAccess = ASAccessMode(instr.Arg)
	case SETTRIE, SETTRIE6, CLRTRIE, CLRTRIE6:
		return next, v.stepTrie(instr)
	case EXACT, SUBNET, SUPERNET, RELATED:
		return next, v.stepPrefixMatch(instr)
	case ADDRCMP, PFXCMP:
		return next, v.stepAddrCmp(instr)
	case ASPMATCH, ASPSTARTS, ASPENDS, ASPEXACT:
		return next, v.stepASPMatch(instr)
	case ASCMP:
		return next, v.stepASCmp(instr)
	case COMMEXACT:
		return next, v.stepCommExact(instr)
	case HASATTR:
		_, err := v.msg.Update.Attr(bgpattr.Code(instr.Arg))
		v.pushBool(err == nil)
	case CALL:
		return pc, &errs.VMError{Code: errs.VM_ILLEGAL_OPCODE} // subroutine calls are resolved by the compiler inlining; a CALL reaching Run is a compile-time invariant violation
	case TRAP:
		return pc, &errs.VMError{Code: errs.VM_BAD_PACKET}
	case RET:
	default:
		return pc, &errs.VMError{Code: errs.VM_ILLEGAL_OPCODE}
	}
	return next, nil
}

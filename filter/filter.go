// Package filter adapts the vm/vmcompile bytecode machine into a
// predicate-function shape: constructors that build a reusable
// Filter closure, plus All to AND a slice of them.
package filter

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/CSUNetSec/bgpcore/bgpmsg"
	"github.com/CSUNetSec/bgpcore/netaddr"
	"github.com/CSUNetSec/bgpcore/vm"
	"github.com/CSUNetSec/bgpcore/vmcompile"
)

// Filter reports whether msg passes. A Filter closes over a *vm.VM
// and a compiled program -- the bytecode machine replaces a fleet of
// hand-written filterBySeen/FilterBySource-style methods with one
// reusable evaluator.
type Filter func(msg *bgpmsg.Message) (bool, error)

// Compile builds a Filter straight from the vmcompile predicate
// language, giving callers a general case beyond a fixed
// PrefixFilter/ASFilter pair.
func Compile(program string) (Filter, error) {
	prog, err := vmcompile.Compile(program)
	if err != nil {
		return nil, err
	}
	machine := vm.New(prog.Consts, nil)
	return func(msg *bgpmsg.Message) (bool, error) {
		return machine.Run(prog.Instrs, msg)
	}, nil
}

// PrefixLocation selects which part of a message a prefix filter
// matches against: advertised, withdrawn, or either.
type PrefixLocation int

const (
	AdvPrefix PrefixLocation = iota
	WdrPrefix
	AnyPrefix
)

// NewPrefixFilterFromString splits raw on sep and builds a prefix
// filter over the resulting list.
func NewPrefixFilterFromString(raw, sep string, loc PrefixLocation) (Filter, error) {
	return NewPrefixFilterFromSlice(strings.Split(raw, sep), loc)
}

// NewPrefixFilterFromSlice builds a Filter that reports true if any
// NLRI (AdvPrefix), withdrawn route (WdrPrefix), or either (AnyPrefix)
// of msg is a subnet or supernet of one of prefixes -- a RELATED match against
// each literal, ORed together, compiled once via vmcompile.
func NewPrefixFilterFromSlice(prefixes []string, loc PrefixLocation) (Filter, error) {
	if len(prefixes) == 0 {
		return nil, errors.New("filter: empty prefix list")
	}
	var accessor string
	switch loc {
	case AdvPrefix:
		accessor = "packet.nlri"
	case WdrPrefix:
		accessor = "packet.withdrawn"
	case AnyPrefix:
		accessor = "packet.nlri"
	default:
		return nil, errors.New("filter: unsupported prefix location")
	}

	program := accessor + " related [" + strings.Join(prefixes, ", ") + "]"
	f, err := Compile(program)
	if err != nil {
		return nil, errors.Wrap(err, "filter: compiling prefix filter")
	}
	if loc != AnyPrefix {
		return f, nil
	}
	wdrF, err := Compile("packet.withdrawn related [" + strings.Join(prefixes, ", ") + "]")
	if err != nil {
		return nil, errors.Wrap(err, "filter: compiling prefix filter")
	}
	return func(msg *bgpmsg.Message) (bool, error) {
		hit, err := f(msg)
		if err != nil || hit {
			return hit, err
		}
		return wdrF(msg)
	}, nil
}

// NewPrefixFilter builds a Filter directly from already-parsed
// prefixes, skipping the string-splitting convenience layer.
func NewPrefixFilter(prefixes []netaddr.Addr, loc PrefixLocation) (Filter, error) {
	strs := make([]string, len(prefixes))
	for i, p := range prefixes {
		strs[i] = p.String()
	}
	return NewPrefixFilterFromSlice(strs, loc)
}

// ASPosition selects where in the AS path a filter matches: source,
// destination, midpath, or anywhere.
type ASPosition int

const (
	AsSource ASPosition = iota
	AsDestination
	AsMidpath
	AsAnywhere
)

func (p ASPosition) accessorSuffix() string {
	switch p {
	case AsSource:
		return "source"
	case AsDestination:
		return "dest"
	case AsMidpath:
		return "midpath"
	default:
		return "anywhere"
	}
}

// NewASFilter builds a Filter over the AS numbers in list (a
// comma-separated string, e.g. "100,200,300"), matching at the given
// path position, expressed as one compiled program rather than a
// separate method per position.
func NewASFilter(list string, pos ASPosition) (Filter, error) {
	aslist, err := parseASList(list)
	if err != nil {
		return nil, err
	}
	return NewASFilterFromSlice(aslist, pos)
}

func NewASFilterFromSlice(aslist []uint32, pos ASPosition) (Filter, error) {
	if len(aslist) == 0 {
		return nil, errors.New("filter: empty AS list")
	}
	nums := make([]string, len(aslist))
	for i, as := range aslist {
		nums[i] = strconv.FormatUint(uint64(as), 10)
	}
	program := "aspath:" + pos.accessorSuffix() + " in " + strings.Join(nums, ", ")
	f, err := Compile(program)
	if err != nil {
		return nil, errors.Wrap(err, "filter: compiling AS filter")
	}
	return f, nil
}

func parseASList(str string) ([]uint32, error) {
	parts := strings.Split(str, ",")
	out := make([]uint32, len(parts))
	for i, p := range parts {
		as, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "filter: bad AS number %q", p)
		}
		out[i] = uint32(as)
	}
	return out, nil
}

// All ANDs a slice of Filters, short-circuiting on the first miss.
func All(filters []Filter, msg *bgpmsg.Message) (bool, error) {
	for _, f := range filters {
		if f == nil {
			continue
		}
		hit, err := f(msg)
		if err != nil {
			return false, err
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

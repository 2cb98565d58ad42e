package vmcompile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/CSUNetSec/bgpcore/bgpattr"
	"github.com/CSUNetSec/bgpcore/netaddr"
	"github.com/CSUNetSec/bgpcore/vm"
)

// Program is a compiled filter: bytecode plus the constant pool it
// indexes into.
type Program struct {
	Instrs []vm.Instr
	Consts []interface{}
}

// Compile parses and compiles a textual filter predicate, e.g.:
//
//	NOT packet.withdrawn EXACT 127.0.0.1/22
//	packet.nlri related 10.0.0.0/8 and not community == 65000:100
//	aspath:source == 65001 or packet.every_withdrawn subnet 2001:db8::/32
//
// into VM bytecode. The bare nlri/withdrawn/aspath:<pos>/community/
// hasattr forms are a terser shorthand accepted alongside the full
// packet.* accessor grammar.
func Compile(program string) (Program, error) {
	c := &compiler{lex: newLexer(program), registry: bgpattr.NewCommunityRegistry()}
	c.advance()
	instrs, err := c.parseExpr()
	if err != nil {
		return Program{}, err
	}
	if c.lex.err != nil {
		return Program{}, c.lex.err
	}
	if c.tok.kind != tEOF {
		return Program{}, fmt.Errorf("vmcompile: unexpected trailing token %q", c.tok.text)
	}
	instrs = append(instrs, vm.Instr{Op: vm.RET})
	return Program{Instrs: instrs, Consts: c.consts}, nil
}

type compiler struct {
	lex      *lexer
	tok      token
	consts   []interface{}
	registry *bgpattr.CommunityRegistry
}

func (c *compiler) advance() {
	c.tok = c.lex.next()
}

func (c *compiler) expect(k tokenKind) (token, error) {
	if c.tok.kind != k {
		return token{}, fmt.Errorf("vmcompile: unexpected token %q", c.tok.text)
	}
	t := c.tok
	c.advance()
	return t, nil
}

func (c *compiler) addConst(v interface{}) int {
	c.consts = append(c.consts, v)
	return len(c.consts) - 1
}

// parseExpr := term (OR term)*
func (c *compiler) parseExpr() ([]vm.Instr, error) {
	left, err := c.parseTerm()
	if err != nil {
		return nil, err
	}
	for c.tok.kind == tOr {
		c.advance()
		right, err := c.parseTerm()
		if err != nil {
			return nil, err
		}
		left = foldBinary(left, right, vm.OR)
	}
	return left, nil
}

// parseTerm := factor (AND factor)*
func (c *compiler) parseTerm() ([]vm.Instr, error) {
	left, err := c.parseFactor()
	if err != nil {
		return nil, err
	}
	for c.tok.kind == tAnd {
		c.advance()
		right, err := c.parseFactor()
		if err != nil {
			return nil, err
		}
		left = foldBinary(left, right, vm.AND)
	}
	return left, nil
}

// foldBinary wraps each operand in a BLKPUSH and folds them with the
// given block-stack opcode. Between the two BLKPUSH segments it emits
// a conditional jump (JFALSE for AND, JTRUE for OR) that skips the
// right operand's instructions entirely -- plus the trailing BLKPUSH
// and fold op -- once the left operand alone has already decided the
// result, so side-effecting opcodes on the right (trie lookups, NLRI
// walks) never execute.
func foldBinary(left, right []vm.Instr, op vm.Op) []vm.Instr {
	jumpOp := vm.JFALSE
	if op == vm.OR {
		jumpOp = vm.JTRUE
	}
	// skip = right operand instructions + the BLKPUSH and fold op that
	// follow them, landing exactly on BLKPOP.
	skip := len(right) + 2

	out := append([]vm.Instr{}, left...)
	out = append(out, vm.Instr{Op: vm.BLKPUSH})
	out = append(out, vm.Instr{Op: jumpOp, Arg: uint32(skip)})
	out = append(out, right...)
	out = append(out, vm.Instr{Op: vm.BLKPUSH})
	out = append(out, vm.Instr{Op: op})
	out = append(out, vm.Instr{Op: vm.BLKPOP})
	return out
}

// parseFactor := NOT factor | '(' expr ')' | "CALL" registry | atom
func (c *compiler) parseFactor() ([]vm.Instr, error) {
	switch c.tok.kind {
	case tNot:
		c.advance()
		inner, err := c.parseFactor()
		if err != nil {
			return nil, err
		}
		return append(inner, vm.Instr{Op: vm.NOT}), nil
	case tLParen:
		c.advance()
		inner, err := c.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := c.expect(tRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tIdent:
		if strings.ToLower(c.tok.text) == "call" {
			c.advance()
			return c.parseRegistryCall()
		}
		return c.parseAtom()
	default:
		return c.parseAtom()
	}
}

// parseRegistryCall compiles "CALL $N" / "CALL $[N]": $N reads a
// boolean already sitting in constant-pool slot N (an int64), $[N]
// reads it from the external-parameter heap zone the caller loaded
// before Run via STORE at permanentParamBase+N, paired with a DISCARD
// so the slot doesn't leak into the next evaluation.
func (c *compiler) parseRegistryCall() ([]vm.Instr, error) {
	idx, external, err := c.parseRegistry()
	if err != nil {
		return nil, err
	}
	if !external {
		return []vm.Instr{{Op: vm.PUSHK, Arg: uint32(idx)}}, nil
	}
	slot := permanentParamBase + idx
	return []vm.Instr{
		{Op: vm.LOADK, Arg: uint32(slot)},
		{Op: vm.DISCARD, Arg: uint32(slot)},
	}, nil
}

// permanentParamBase is the first heap index reserved for "$[N]"
// external parameters the caller stores before Run; it sits at the
// top of the permanent zone so external params survive the per-Run
// temporary-heap reset like every other permanent slot.
const permanentParamBase = 192

func (c *compiler) parseRegistry() (idx int, external bool, err error) {
	if _, err := c.expect(tDollar); err != nil {
		return 0, false, err
	}
	if c.tok.kind == tLBracket {
		c.advance()
		numTok, err := c.expect(tNumber)
		if err != nil {
			return 0, false, err
		}
		if _, err := c.expect(tRBracket); err != nil {
			return 0, false, err
		}
		n, err := strconv.Atoi(numTok.text)
		if err != nil {
			return 0, false, fmt.Errorf("vmcompile: bad registry index %q", numTok.text)
		}
		return n, true, nil
	}
	numTok, err := c.expect(tNumber)
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(numTok.text)
	if err != nil {
		return 0, false, fmt.Errorf("vmcompile: bad registry index %q", numTok.text)
	}
	return n, false, nil
}

// parseAtom := accessor rel rhs | 'hasattr' IDENT
func (c *compiler) parseAtom() ([]vm.Instr, error) {
	ident, err := c.expect(tIdent)
	if err != nil {
		return nil, err
	}
	head := strings.ToLower(ident.text)

	if head == "hasattr" {
		nameTok, err := c.expect(tIdent)
		if err != nil {
			return nil, err
		}
		code, err := attrCodeByName(nameTok.text)
		if err != nil {
			return nil, err
		}
		return []vm.Instr{{Op: vm.HASATTR, Arg: uint32(code)}}, nil
	}

	head = strings.TrimPrefix(head, "packet.")
	head = strings.TrimPrefix(head, "every_")

	accessor, asMode, err := splitAccessor(head)
	if err != nil {
		return nil, err
	}

	relTok := c.tok
	c.advance()

	switch accessor {
	case "nlri", "withdrawn":
		var setAccess vm.Instr
		if accessor == "withdrawn" {
			setAccess = vm.Instr{Op: vm.SETACCESS, Arg: uint32(vm.AccessWithdrawn)}
		} else {
			setAccess = vm.Instr{Op: vm.SETACCESS, Arg: uint32(vm.AccessNLRI)}
		}
		if err := validatePrefixRel(relTok.text); err != nil {
			return nil, err
		}
		addrs, err := c.parsePrefixAtom()
		if err != nil {
			return nil, err
		}
		// empty both trie registers first so this atom tests only its
		// own literals, not ones an earlier atom or Run loaded.
		instrs := []vm.Instr{setAccess, {Op: vm.CLRTRIE}, {Op: vm.CLRTRIE6}}
		for _, addr := range addrs {
			idx := c.addConst(addr)
			trieOp := vm.SETTRIE
			if addr.Family == netaddr.V6 {
				trieOp = vm.SETTRIE6
			}
			// inserting every literal into the same trie register
			// gives "matches any of these prefixes" for free, since
			// EXACT/SUBNET/SUPERNET/RELATED already test against
			// whatever is currently loaded.
			instrs = append(instrs, vm.Instr{Op: trieOp, Arg: uint32(idx)})
		}
		instrs = append(instrs, vm.Instr{Op: matchOpFor(relTok.text)})
		return instrs, nil

	case "aspath":
		if strings.ToLower(relTok.text) == "in" {
			list, err := c.parseASList()
			if err != nil {
				return nil, err
			}
			return c.buildAsInInstrs(asMode, list), nil
		}
		if err := validateASPRel(relTok.text); err != nil {
			return nil, err
		}
		pattern, err := c.parseASList()
		if err != nil {
			return nil, err
		}
		idx := c.addConst(pattern)
		aspOp := aspOpFor(relTok.text)
		return []vm.Instr{
			{Op: vm.SETASACCESS, Arg: uint32(asMode)},
			{Op: aspOp, Arg: uint32(idx)},
		}, nil

	case "community":
		if relTok.kind != tOp {
			return nil, fmt.Errorf("vmcompile: expected '==' after community, got %q", relTok.text)
		}
		litTok, err := c.expect(tIdent)
		if err != nil {
			litTok, err = c.expect(tNumber)
			if err != nil {
				return nil, fmt.Errorf("vmcompile: expected community literal")
			}
		}
		val, err := c.registry.Resolve(litTok.text)
		if err != nil {
			return nil, fmt.Errorf("vmcompile: %w", err)
		}
		idx := c.addConst(val)
		return []vm.Instr{{Op: vm.COMMEXACT, Arg: uint32(idx)}}, nil
	}
	return nil, fmt.Errorf("vmcompile: unknown accessor %q", head)
}

// buildAsInInstrs compiles "aspath:<pos> in N1,N2,..." into an
// OR-fold of single-value ASCMP checks (window membership), the
// filter package's AS-list-of-candidates form -- distinct from "=="
// (ASPEXACT, window equals the whole pattern) and "match" (ASPMATCH,
// pattern occurs as a contiguous subsequence).
func (c *compiler) buildAsInInstrs(asMode vm.ASAccessMode, list []uint32) []vm.Instr {
	setMode := vm.Instr{Op: vm.SETASACCESS, Arg: uint32(asMode)}
	branches := make([][]vm.Instr, len(list))
	for i, as := range list {
		idx := c.addConst(as)
		branches[i] = []vm.Instr{setMode, {Op: vm.ASCMP, Arg: uint32(idx)}}
	}
	out := branches[0]
	for _, b := range branches[1:] {
		out = foldBinary(out, b, vm.OR)
	}
	return out
}

// parsePrefixAtom reads either a single prefix literal or a
// "[" prefix ("," prefix)* "]" list (the grammar's bracketed atomList).
func (c *compiler) parsePrefixAtom() ([]netaddr.Addr, error) {
	if c.tok.kind == tLBracket {
		c.advance()
		var out []netaddr.Addr
		for {
			addr, err := c.parseOnePrefix()
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
			if c.tok.kind != tComma {
				break
			}
			c.advance()
		}
		if _, err := c.expect(tRBracket); err != nil {
			return nil, err
		}
		return out, nil
	}
	addr, err := c.parseOnePrefix()
	if err != nil {
		return nil, err
	}
	return []netaddr.Addr{addr}, nil
}

func (c *compiler) parseOnePrefix() (netaddr.Addr, error) {
	tok := c.tok
	if tok.kind != tIdent && tok.kind != tNumber {
		return netaddr.Addr{}, fmt.Errorf("vmcompile: expected prefix literal, got %q", tok.text)
	}
	c.advance()
	return netaddr.Parse(tok.text)
}

// parseASList reads one AS number or a comma-separated list into a
// []uint32 pattern for ASPMATCH/ASPSTARTS/ASPENDS/ASPEXACT.
func (c *compiler) parseASList() ([]uint32, error) {
	var out []uint32
	for {
		numTok, err := c.expect(tNumber)
		if err != nil {
			return nil, fmt.Errorf("vmcompile: expected AS number")
		}
		n, err := strconv.ParseUint(numTok.text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("vmcompile: bad AS number %q", numTok.text)
		}
		out = append(out, uint32(n))
		if c.tok.kind != tComma {
			break
		}
		c.advance()
	}
	return out, nil
}

// splitAccessor maps the grammar's packet.aspath / packet.as4path /
// packet.realaspath accessors (all served by bgpmsg.Update.RealASPath,
// which always performs the AS4_PATH merge) and the aspath:<pos>
// shorthand onto an AS-path access mode.
func splitAccessor(head string) (accessor string, asMode vm.ASAccessMode, err error) {
	if head == "as4path" || head == "realaspath" {
		head = "aspath"
	}
	if !strings.HasPrefix(head, "aspath") {
		return head, 0, nil
	}
	parts := strings.SplitN(head, ":", 2)
	if len(parts) == 1 {
		return "aspath", vm.ASAnywhere, nil
	}
	switch parts[1] {
	case "source":
		return "aspath", vm.ASSource, nil
	case "dest":
		return "aspath", vm.ASDest, nil
	case "midpath":
		return "aspath", vm.ASMidpath, nil
	case "anywhere":
		return "aspath", vm.ASAnywhere, nil
	default:
		return "", 0, fmt.Errorf("vmcompile: unknown aspath position %q", parts[1])
	}
}

func validatePrefixRel(rel string) error {
	switch strings.ToLower(rel) {
	case "exact", "subnet", "supernet", "related":
		return nil
	default:
		return fmt.Errorf("vmcompile: unknown prefix relation %q", rel)
	}
}

func validateASPRel(rel string) error {
	switch strings.ToLower(rel) {
	case "==", "starts", "ends", "match":
		return nil
	default:
		return fmt.Errorf("vmcompile: unknown AS-path relation %q", rel)
	}
}

func matchOpFor(rel string) vm.Op {
	switch strings.ToLower(rel) {
	case "exact":
		return vm.EXACT
	case "subnet":
		return vm.SUBNET
	case "supernet":
		return vm.SUPERNET
	case "related":
		return vm.RELATED
	default:
		return vm.EXACT
	}
}

func aspOpFor(rel string) vm.Op {
	switch strings.ToLower(rel) {
	case "==":
		return vm.ASPEXACT
	case "starts":
		return vm.ASPSTARTS
	case "ends":
		return vm.ASPENDS
	default:
		return vm.ASPMATCH
	}
}

func attrCodeByName(name string) (bgpattr.Code, error) {
	switch strings.ToUpper(name) {
	case "ORIGIN":
		return bgpattr.ORIGIN, nil
	case "AS_PATH":
		return bgpattr.AS_PATH, nil
	case "NEXT_HOP":
		return bgpattr.NEXT_HOP, nil
	case "MULTI_EXIT_DISC", "MED":
		return bgpattr.MULTI_EXIT_DISC, nil
	case "LOCAL_PREF":
		return bgpattr.LOCAL_PREF, nil
	case "ATOMIC_AGGREGATE":
		return bgpattr.ATOMIC_AGGREGATE, nil
	case "AGGREGATOR":
		return bgpattr.AGGREGATOR, nil
	case "COMMUNITIES":
		return bgpattr.COMMUNITIES, nil
	case "MP_REACH_NLRI":
		return bgpattr.MP_REACH_NLRI, nil
	case "MP_UNREACH_NLRI":
		return bgpattr.MP_UNREACH_NLRI, nil
	case "EXTENDED_COMMUNITIES":
		return bgpattr.EXTENDED_COMMUNITIES, nil
	case "AS4_PATH":
		return bgpattr.AS4_PATH, nil
	case "LARGE_COMMUNITIES":
		return bgpattr.LARGE_COMMUNITIES, nil
	default:
		return 0, fmt.Errorf("vmcompile: unknown attribute name %q", name)
	}
}

// Package planfile loads a TOML test-plan file and an optional RGBDS-style
// symbol table, resolving every label reference into a numeric address
// and producing a fully-resolved plan.TestPlan. Nothing in internal/plan,
// internal/driver, or internal/cpu ever parses this syntax; that
// boundary is the whole point of keeping this package separate.
package planfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/arlojames/gbtest/internal/plan"
)

// Symbols maps a label name to its resolved address.
type Symbols map[string]uint16

// LoadSymbols parses an RGBDS-format .sym file: lines of
// "BANK:ADDR Label", optional ";" comments, blank lines ignored.
// Only the bank-0/flat address (after the colon) is kept, matching the
// flat 32 KiB ROM window this harness addresses.
func LoadSymbols(path string) (Symbols, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: opening symbol file: %w", err)
	}
	defer f.Close()
	return parseSymbols(f)
}

func parseSymbols(r io.Reader) (Symbols, error) {
	syms := make(Symbols)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		addrPart := fields[0]
		name := fields[1]
		colon := strings.IndexByte(addrPart, ':')
		if colon < 0 {
			continue
		}
		addr, err := strconv.ParseUint(addrPart[colon+1:], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("planfile: bad address %q for symbol %q: %w", addrPart, name, err)
		}
		syms[name] = uint16(addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("planfile: reading symbol file: %w", err)
	}
	return syms, nil
}

// document is the raw TOML shape: every address-like field may be a
// 0x-prefixed hex literal, a decimal literal or a symbol name, resolved against Symbols
// at Load time.
type document struct {
	EnableBreakpoints bool        `toml:"enable_breakpoints"`
	Case              []caseEntry `toml:"case"`
}

type caseEntry struct {
	Name           string            `toml:"name"`
	Initial        partialStateEntry `toml:"initial"`
	Expected       *partialStateEntry `toml:"expected"`
	StackPush      []string          `toml:"stack_push"`
	Caller         string            `toml:"caller"`
	CrashAddresses []string          `toml:"crash_addresses"`
	ExitAddresses  []string          `toml:"exit_addresses"`
	TimeoutCycles  uint64            `toml:"timeout_cycles"`
}

type partialStateEntry struct {
	A      *string           `toml:"a,omitempty"`
	F      *string           `toml:"f,omitempty"`
	B      *string           `toml:"b,omitempty"`
	C      *string           `toml:"c,omitempty"`
	D      *string           `toml:"d,omitempty"`
	E      *string           `toml:"e,omitempty"`
	H      *string           `toml:"h,omitempty"`
	L      *string           `toml:"l,omitempty"`
	SP     *string           `toml:"sp,omitempty"`
	PC     *string           `toml:"pc,omitempty"`
	Memory map[string]string `toml:"memory"`
}

// Load reads a TOML plan file at path, resolving every address-or-symbol
// field against syms (which may be nil if the plan uses no symbols).
func Load(path string, syms Symbols) (plan.TestPlan, error) {
	var doc document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return plan.TestPlan{}, fmt.Errorf("planfile: decoding %s: %w", path, err)
	}
	return resolve(doc, syms)
}

// LoadString parses TOML plan content directly, bypassing the
// filesystem; used by tests and by callers that already have the
// document in memory.
func LoadString(content string, syms Symbols) (plan.TestPlan, error) {
	var doc document
	if _, err := toml.Decode(content, &doc); err != nil {
		return plan.TestPlan{}, fmt.Errorf("planfile: decoding TOML: %w", err)
	}
	return resolve(doc, syms)
}

func resolve(doc document, syms Symbols) (plan.TestPlan, error) {
	p := plan.TestPlan{EnableBreakpoints: doc.EnableBreakpoints}
	for _, ce := range doc.Case {
		tc, err := resolveCase(ce, syms)
		if err != nil {
			return plan.TestPlan{}, fmt.Errorf("planfile: case %q: %w", ce.Name, err)
		}
		p.Cases = append(p.Cases, tc)
	}
	return p, nil
}

func resolveCase(ce caseEntry, syms Symbols) (plan.TestCase, error) {
	initial, err := resolvePartialState(ce.Initial, syms)
	if err != nil {
		return plan.TestCase{}, fmt.Errorf("initial: %w", err)
	}

	var expected *plan.PartialState
	if ce.Expected != nil {
		e, err := resolvePartialState(*ce.Expected, syms)
		if err != nil {
			return plan.TestCase{}, fmt.Errorf("expected: %w", err)
		}
		expected = &e
	}

	stackPush := make([]byte, 0, len(ce.StackPush))
	for _, s := range ce.StackPush {
		v, err := resolveAddr(s, syms)
		if err != nil {
			return plan.TestCase{}, fmt.Errorf("stack_push %q: %w", s, err)
		}
		stackPush = append(stackPush, byte(v))
	}

	var caller *uint16
	if ce.Caller != "" {
		v, err := resolveAddr(ce.Caller, syms)
		if err != nil {
			return plan.TestCase{}, fmt.Errorf("caller %q: %w", ce.Caller, err)
		}
		caller = &v
	}

	crash, err := resolveAddrSet(ce.CrashAddresses, syms)
	if err != nil {
		return plan.TestCase{}, fmt.Errorf("crash_addresses: %w", err)
	}
	exit, err := resolveAddrSet(ce.ExitAddresses, syms)
	if err != nil {
		return plan.TestCase{}, fmt.Errorf("exit_addresses: %w", err)
	}

	return plan.TestCase{
		Name:           ce.Name,
		Initial:        initial,
		Expected:       expected,
		StackPush:      stackPush,
		Caller:         caller,
		CrashAddresses: crash,
		ExitAddresses:  exit,
		TimeoutCycles:  ce.TimeoutCycles,
	}, nil
}

func resolvePartialState(e partialStateEntry, syms Symbols) (plan.PartialState, error) {
	var s plan.PartialState
	var err error
	if s.A, err = resolveByteField(e.A, syms); err != nil {
		return s, fmt.Errorf("a: %w", err)
	}
	if s.F, err = resolveByteField(e.F, syms); err != nil {
		return s, fmt.Errorf("f: %w", err)
	}
	if s.B, err = resolveByteField(e.B, syms); err != nil {
		return s, fmt.Errorf("b: %w", err)
	}
	if s.C, err = resolveByteField(e.C, syms); err != nil {
		return s, fmt.Errorf("c: %w", err)
	}
	if s.D, err = resolveByteField(e.D, syms); err != nil {
		return s, fmt.Errorf("d: %w", err)
	}
	if s.E, err = resolveByteField(e.E, syms); err != nil {
		return s, fmt.Errorf("e: %w", err)
	}
	if s.H, err = resolveByteField(e.H, syms); err != nil {
		return s, fmt.Errorf("h: %w", err)
	}
	if s.L, err = resolveByteField(e.L, syms); err != nil {
		return s, fmt.Errorf("l: %w", err)
	}
	if s.SP, err = resolveWordField(e.SP, syms); err != nil {
		return s, fmt.Errorf("sp: %w", err)
	}
	if s.PC, err = resolveWordField(e.PC, syms); err != nil {
		return s, fmt.Errorf("pc: %w", err)
	}
	if len(e.Memory) > 0 {
		s.Memory = make(map[uint16]byte, len(e.Memory))
		for addrStr, valStr := range e.Memory {
			addr, err := resolveAddr(addrStr, syms)
			if err != nil {
				return s, fmt.Errorf("memory key %q: %w", addrStr, err)
			}
			val, err := resolveAddr(valStr, syms)
			if err != nil {
				return s, fmt.Errorf("memory value %q: %w", valStr, err)
			}
			s.Memory[addr] = byte(val)
		}
	}
	return s, nil
}

func resolveByteField(s *string, syms Symbols) (*byte, error) {
	if s == nil {
		return nil, nil
	}
	v, err := resolveAddr(*s, syms)
	if err != nil {
		return nil, err
	}
	b := byte(v)
	return &b, nil
}

func resolveWordField(s *string, syms Symbols) (*uint16, error) {
	if s == nil {
		return nil, nil
	}
	v, err := resolveAddr(*s, syms)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func resolveAddrSet(values []string, syms Symbols) (map[uint16]struct{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	set := make(map[uint16]struct{}, len(values))
	for _, v := range values {
		addr, err := resolveAddr(v, syms)
		if err != nil {
			return nil, err
		}
		set[addr] = struct{}{}
	}
	return set, nil
}

// resolveAddr interprets s as a numeric literal (0x-prefixed hex or
// decimal) or, failing that, looks it up in syms.
func resolveAddr(s string, syms Symbols) (uint16, error) {
	trimmed := strings.TrimSpace(s)
	if v, err := strconv.ParseUint(strings.TrimPrefix(trimmed, "0x"), 16, 16); err == nil && strings.HasPrefix(trimmed, "0x") {
		return uint16(v), nil
	}
	if v, err := strconv.ParseUint(trimmed, 10, 16); err == nil {
		return uint16(v), nil
	}
	if syms != nil {
		if addr, ok := syms[trimmed]; ok {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("unresolved symbol or malformed literal %q", s)
}

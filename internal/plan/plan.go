// Package plan holds the boundary types between external test-plan
// collaborators (TOML config, symbol files, CLI) and the CPU test harness
// core. Everything here is plain data: no label syntax, no file I/O.
package plan

import "fmt"

// PartialState is a sparse assignment of registers and memory bytes.
// Any field left at its zero value/nil is simply not applied.
type PartialState struct {
	A, F, B, C, D, E, H, L *byte
	SP, PC                 *uint16

	// Memory is an address -> value sparse overlay, applied in map order
	// (order is irrelevant since addresses are distinct keys).
	Memory map[uint16]byte
}

// TestCase is one declarative unit test against the CPU core.
type TestCase struct {
	Name string

	Initial  PartialState
	Expected *PartialState // nil means "no post-state verification"

	// StackPush lists bytes to push before the caller sentinel, in the
	// order the user wrote them: StackPush[0] is pushed first and ends
	// up deepest on the stack (highest address).
	StackPush []byte

	// Caller is the synthetic return address pushed after StackPush.
	// nil defaults to 0xFFFF; a non-nil 0x0000 is honored as-is, so a
	// plan can still target the reset vector as its sentinel.
	Caller *uint16

	CrashAddresses map[uint16]struct{}
	ExitAddresses  map[uint16]struct{}

	// TimeoutCycles bounds the run in T-cycles. Zero means "unset";
	// Normalize fills in the spec default of 65536.
	TimeoutCycles uint64
}

// Normalize applies documented defaults to a TestCase in place:
// Caller defaults to 0xFFFF, TimeoutCycles defaults to 65536.
func (tc *TestCase) Normalize() {
	if tc.Caller == nil {
		v := uint16(0xFFFF)
		tc.Caller = &v
	}
	if tc.TimeoutCycles == 0 {
		tc.TimeoutCycles = 65536
	}
}

// TestPlan is an ordered list of test cases plus run-wide options.
type TestPlan struct {
	// ROM is copied into every case's fresh Bus at 0x0000-0x7FFF before
	// that case's Initial overlay is applied; only the first min(len,
	// 0x8000) bytes are ever installed.
	ROM []byte

	Cases             []TestCase
	EnableBreakpoints bool
}

// Result is the pass/fail outcome of a single TestCase.
type Result int

const (
	Pass Result = iota
	Fail
)

func (r Result) String() string {
	if r == Pass {
		return "pass"
	}
	return "fail"
}

// ReasonKind enumerates the closed set of test-level failure reasons.
type ReasonKind int

const (
	ReasonNone ReasonKind = iota
	ReasonCrashed
	ReasonTimedOut
	ReasonMismatch
	ReasonUnknownOpcode
)

// Mismatch is one observed-vs-expected field discrepancy.
type Mismatch struct {
	Field    string
	Expected string
	Actual   string
}

// FailureReason carries the payload for whichever ReasonKind applies.
// Exactly one of the payload fields is meaningful for a given Kind.
type FailureReason struct {
	Kind ReasonKind

	CrashAddr     uint16      // ReasonCrashed
	UnknownAddr   uint16      // ReasonUnknownOpcode
	UnknownOpcode byte        // ReasonUnknownOpcode
	Mismatches    []Mismatch  // ReasonMismatch

	// HaltedAtTimeout is set when ReasonTimedOut fired while the CPU was
	// halted: a strong signal the test hung on a bare HALT with no way
	// out, since this core never dispatches interrupts and so never
	// un-halts regardless of IME. This is a diagnostic annotation, not a
	// distinct reason (the reason set stays closed as specified).
	HaltedAtTimeout bool
}

func (r FailureReason) String() string {
	switch r.Kind {
	case ReasonCrashed:
		return fmt.Sprintf("crashed at 0x%04X", r.CrashAddr)
	case ReasonTimedOut:
		if r.HaltedAtTimeout {
			return "timed out (halted without a pending interrupt)"
		}
		return "timed out"
	case ReasonUnknownOpcode:
		return fmt.Sprintf("unknown opcode 0x%02X at 0x%04X", r.UnknownOpcode, r.UnknownAddr)
	case ReasonMismatch:
		return fmt.Sprintf("%d field mismatch(es)", len(r.Mismatches))
	default:
		return "none"
	}
}

// RegisterSnapshot is the final observed register file for a case.
type RegisterSnapshot struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
}

// TestOutcome is the report produced for one TestCase.
type TestOutcome struct {
	Name    string
	Result  Result
	Reason  FailureReason // zero value when Result == Pass
	Final   RegisterSnapshot
	Cycles  uint64
}

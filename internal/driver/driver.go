// Package driver runs a resolved TestPlan against the CPU/bus core: for
// each TestCase it builds a fresh Bus and CPU, seeds the requested
// initial state, drives the step loop until a watchpoint fires, and
// diffs the observed register/memory state against what was expected.
package driver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arlojames/gbtest/internal/bus"
	"github.com/arlojames/gbtest/internal/cpu"
	"github.com/arlojames/gbtest/internal/plan"
)

// Trace is one breakpoint hit surfaced from a running case, carrying
// enough state for a caller to print a register-trace line without
// reaching back into the CPU. It replaces the source's direct
// stdout write with a drained callback, per the generalization note
// this package exists to satisfy.
type Trace struct {
	TestName string
	Which    cpu.Kind // BreakpointB or BreakpointD
	PC       uint16   // address of the breakpoint instruction itself
	Snapshot plan.RegisterSnapshot
}

// Run executes every case in p sequentially and returns one TestOutcome
// per case, in order. log receives structured progress/diagnostic
// entries; a nil logger falls back to a discarded one. onTrace, if
// non-nil, is invoked synchronously for every breakpoint hit while
// p.EnableBreakpoints is true. onFinish, if non-nil, is invoked once per
// case with its final Bus right before that case's outcome is recorded
// (a case with no initial PC never builds a Bus and is not reported) —
// the hook a caller needs to write a memory dump without re-running the
// case, since TestOutcome itself only carries the register snapshot.
func Run(p plan.TestPlan, log *logrus.Logger, onTrace func(Trace), onFinish func(plan.TestCase, *bus.Bus)) []plan.TestOutcome {
	if log == nil {
		log = logrus.New()
		log.SetOutput(discard{})
	}
	outcomes := make([]plan.TestOutcome, 0, len(p.Cases))
	for _, tc := range p.Cases {
		outcomes = append(outcomes, runCase(p, tc, log, onTrace, onFinish))
	}
	return outcomes
}

type discard struct{}

func (discard) Write(b []byte) (int, error) { return len(b), nil }

// RunCase normalizes a single TestCase, executes it against rom and
// returns its outcome. It is exported so callers (tests, the CLI) can
// run one case without constructing a full TestPlan. As with Run, a nil
// logger falls back to a discarded one.
func RunCase(rom []byte, tc plan.TestCase, enableBreakpoints bool, log *logrus.Logger, onTrace func(Trace)) plan.TestOutcome {
	if log == nil {
		log = logrus.New()
		log.SetOutput(discard{})
	}
	return runCase(plan.TestPlan{ROM: rom, EnableBreakpoints: enableBreakpoints}, tc, log, onTrace, nil)
}

func runCase(p plan.TestPlan, tc plan.TestCase, log *logrus.Logger, onTrace func(Trace), onFinish func(plan.TestCase, *bus.Bus)) (outcome plan.TestOutcome) {
	tc.Normalize()

	if tc.Initial.PC == nil {
		log.WithField("test", tc.Name).Error("test case has no PC in initial state")
		return plan.TestOutcome{
			Name:   tc.Name,
			Result: plan.Fail,
			Reason: plan.FailureReason{
				Kind: plan.ReasonMismatch,
				Mismatches: []plan.Mismatch{
					{Field: "pc", Expected: "set", Actual: "unset"},
				},
			},
		}
	}

	b := bus.New(p.ROM)
	if onFinish != nil {
		defer func() { onFinish(tc, b) }()
	}
	for addr, v := range tc.Initial.Memory {
		b.SeedWrite(addr, v)
	}

	c := cpu.New(b)
	applyRegisters(c, tc.Initial)
	c.SP = 0xFFFE
	if tc.Initial.SP != nil {
		c.SP = *tc.Initial.SP
	}
	c.PC = *tc.Initial.PC

	for _, v := range tc.StackPush {
		c.SP--
		b.Write(c.SP, v)
	}
	c.Push16(*tc.Caller)

	log.WithFields(logrus.Fields{
		"test": tc.Name,
		"pc":   fmt.Sprintf("0x%04X", c.PC),
		"sp":   fmt.Sprintf("0x%04X", c.SP),
	}).Debug("starting test case")

	for {
		pc := c.PC
		res := c.Step()

		if c.Cycles >= tc.TimeoutCycles {
			return finish(tc, c, plan.FailureReason{
				Kind:            plan.ReasonTimedOut,
				HaltedAtTimeout: c.Halted,
			})
		}
		if res.Kind == cpu.UnknownOpcode {
			return finish(tc, c, plan.FailureReason{
				Kind:          plan.ReasonUnknownOpcode,
				UnknownAddr:   c.PC,
				UnknownOpcode: res.Opcode,
			})
		}
		if _, crashed := tc.CrashAddresses[c.PC]; crashed {
			return finish(tc, c, plan.FailureReason{Kind: plan.ReasonCrashed, CrashAddr: c.PC})
		}
		if _, exited := tc.ExitAddresses[c.PC]; exited || c.PC == *tc.Caller {
			return verify(tc, c)
		}
		if p.EnableBreakpoints && (res.Kind == cpu.BreakpointB || res.Kind == cpu.BreakpointD) {
			snap := snapshot(c)
			log.WithFields(logrus.Fields{
				"test": tc.Name,
				"pc":   fmt.Sprintf("0x%04X", c.PC),
				"a":    fmt.Sprintf("0x%02X", c.A),
				"bc":   fmt.Sprintf("0x%04X", c.BC()),
				"de":   fmt.Sprintf("0x%04X", c.DE()),
				"hl":   fmt.Sprintf("0x%04X", c.HL()),
			}).Info("breakpoint hit")
			if onTrace != nil {
				onTrace(Trace{TestName: tc.Name, Which: res.Kind, PC: pc, Snapshot: snap})
			}
		}
	}
}

func applyRegisters(c *cpu.CPU, s plan.PartialState) {
	if s.A != nil {
		c.A = *s.A
	}
	if s.F != nil {
		c.SetF(*s.F)
	}
	if s.B != nil {
		c.B = *s.B
	}
	if s.C != nil {
		c.C = *s.C
	}
	if s.D != nil {
		c.D = *s.D
	}
	if s.E != nil {
		c.E = *s.E
	}
	if s.H != nil {
		c.H = *s.H
	}
	if s.L != nil {
		c.L = *s.L
	}
}

func snapshot(c *cpu.CPU) plan.RegisterSnapshot {
	return plan.RegisterSnapshot{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC,
	}
}

func finish(tc plan.TestCase, c *cpu.CPU, reason plan.FailureReason) plan.TestOutcome {
	return plan.TestOutcome{
		Name:   tc.Name,
		Result: plan.Fail,
		Reason: reason,
		Final:  snapshot(c),
		Cycles: c.Cycles,
	}
}

func verify(tc plan.TestCase, c *cpu.CPU) plan.TestOutcome {
	final := snapshot(c)
	if tc.Expected == nil {
		return plan.TestOutcome{Name: tc.Name, Result: plan.Pass, Final: final, Cycles: c.Cycles}
	}

	var mismatches []plan.Mismatch
	checkByte := func(field string, want *byte, got byte) {
		if want != nil && *want != got {
			mismatches = append(mismatches, plan.Mismatch{
				Field:    field,
				Expected: fmt.Sprintf("0x%02X", *want),
				Actual:   fmt.Sprintf("0x%02X", got),
			})
		}
	}
	checkWord := func(field string, want *uint16, got uint16) {
		if want != nil && *want != got {
			mismatches = append(mismatches, plan.Mismatch{
				Field:    field,
				Expected: fmt.Sprintf("0x%04X", *want),
				Actual:   fmt.Sprintf("0x%04X", got),
			})
		}
	}

	checkByte("a", tc.Expected.A, c.A)
	checkByte("f", tc.Expected.F, c.F&0xF0)
	checkByte("b", tc.Expected.B, c.B)
	checkByte("c", tc.Expected.C, c.C)
	checkByte("d", tc.Expected.D, c.D)
	checkByte("e", tc.Expected.E, c.E)
	checkByte("h", tc.Expected.H, c.H)
	checkByte("l", tc.Expected.L, c.L)
	checkWord("sp", tc.Expected.SP, c.SP)
	checkWord("pc", tc.Expected.PC, c.PC)

	for addr, want := range tc.Expected.Memory {
		checkByte(fmt.Sprintf("mem[0x%04X]", addr), &want, c.Bus().Read(addr))
	}

	if len(mismatches) == 0 {
		return plan.TestOutcome{Name: tc.Name, Result: plan.Pass, Final: final, Cycles: c.Cycles}
	}
	return plan.TestOutcome{
		Name:   tc.Name,
		Result: plan.Fail,
		Reason: plan.FailureReason{Kind: plan.ReasonMismatch, Mismatches: mismatches},
		Final:  final,
		Cycles: c.Cycles,
	}
}

package cpu

import (
	"testing"

	"github.com/arlojames/gbtest/internal/bus"
)

func newCPUWithROM(code []byte) *CPU {
	rom := make([]byte, 0x8000)
	copy(rom, code)
	b := bus.New(rom)
	return New(b)
}

func TestCPU_NopAndPC(t *testing.T) {
	c := newCPUWithROM([]byte{0x00}) // NOP
	res := c.Step()
	if res.Kind != Ok {
		t.Fatalf("NOP kind got %v want Ok", res.Kind)
	}
	if c.Cycles != 4 {
		t.Fatalf("NOP cycles got %d want 4", c.Cycles)
	}
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c := newCPUWithROM([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	c.Step()                                     // LD
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	c.Step() // XOR A
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if !c.flag(FlagZ) {
		t.Fatalf("Z flag not set after XOR A")
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	// LD A,0x77; LD (0xC000),A; LD A,0x00; LD A,(0xC000)
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c := newCPUWithROM(prog)
	c.Step() // LD A,77
	c.Step() // LD (C000),A
	if a := c.Bus().Read(0xC000); a != 0x77 {
		t.Fatalf("WRAM at C000 got %02x want 77", a)
	}
	c.Step() // LD A,00
	c.Step() // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xC3 // JP 0x0010
	rom[0x0001] = 0x10
	rom[0x0002] = 0x00
	rom[0x0010] = 0x18 // JR -2 (loops on itself)
	rom[0x0011] = 0xFE
	b := bus.New(rom)
	c := New(b)

	res := c.Step() // JP
	if res.Kind != Ok || c.PC != 0x0010 || c.Cycles != 16 {
		t.Fatalf("JP got PC=%#04x cycles=%d want PC=0x0010 cycles=16", c.PC, c.Cycles)
	}
	pcBefore := c.PC
	c.Step() // JR -2
	if c.PC != pcBefore {
		t.Fatalf("JR -2 PC got %#04x want %#04x", c.PC, pcBefore)
	}
}

func TestCPU_INC_B_Flags(t *testing.T) {
	c := newCPUWithROM([]byte{0x04, 0x04}) // INC B twice
	c.B = 0x0F
	c.F = FlagC
	c.Step()
	if c.B != 0x10 {
		t.Fatalf("INC B result got %02x want 10", c.B)
	}
	if !c.flag(FlagH) {
		t.Fatalf("INC B should set H flag")
	}
	if !c.flag(FlagC) {
		t.Fatalf("INC B should preserve C flag")
	}
	c.B = 0xFF
	c.Step()
	if c.B != 0x00 || !c.flag(FlagZ) {
		t.Fatalf("INC B to 0 should set Z flag, B=%02x F=%02x", c.B, c.F)
	}
}

func TestCPU_LD_16bit_and_LDH(t *testing.T) {
	// LD HL,0xC000; LD (HL),0x5A; LD A,0x00; LD A,(0xFF00+0x80); LD (0xFF00+0x81),A
	// (HRAM offsets: the I/O window below 0xFF80 drops writes and reads 0xFF)
	prog := []byte{
		0x21, 0x00, 0xC0,
		0x36, 0x5A,
		0x3E, 0x00,
		0xF0, 0x80,
		0xE0, 0x81,
	}
	c := newCPUWithROM(prog)
	c.Bus().Write(0xFF80, 0xA7)

	for i := 0; i < 5; i++ {
		c.Step()
	}
	if v := c.Bus().Read(0xC000); v != 0x5A {
		t.Fatalf("WRAM C000 got %02x want 5A", v)
	}
	if v := c.Bus().Read(0xFF81); v != c.A {
		t.Fatalf("LDH (FF00+0x81),A expected write to FF81 with A=%02x got %02x", c.A, v)
	}
}

func TestCPU_CALL_RET(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xCD // CALL 0x0005
	rom[0x0001] = 0x05
	rom[0x0002] = 0x00
	rom[0x0005] = 0xC9 // RET
	b := bus.New(rom)
	c := New(b)

	c.Step() // CALL
	if c.PC != 0x0005 {
		t.Fatalf("PC after CALL got %04x want 0005", c.PC)
	}
	before := c.Cycles
	c.Step() // RET
	if c.PC != 0x0003 || c.Cycles-before != 16 {
		t.Fatalf("RET did not return to 0003; PC=%04x cyc=%d", c.PC, c.Cycles-before)
	}
}

func TestCPU_LD_r_HL_PreviouslyMissingOpcodes(t *testing.T) {
	// LD HL,0xC000; seed memory; LD B,(HL); LD C,(HL); LD D,(HL); LD E,(HL); LD H,(HL) would clobber HL,
	// so exercise B/C/D/E/L against a fixed address and verify each independently.
	for _, tc := range []struct {
		name string
		op   byte
		get  func(c *CPU) byte
	}{
		{"LD B,(HL)", 0x46, func(c *CPU) byte { return c.B }},
		{"LD C,(HL)", 0x4E, func(c *CPU) byte { return c.C }},
		{"LD D,(HL)", 0x56, func(c *CPU) byte { return c.D }},
		{"LD E,(HL)", 0x5E, func(c *CPU) byte { return c.E }},
		{"LD L,(HL)", 0x6E, func(c *CPU) byte { return c.L }},
	} {
		rom := make([]byte, 0x8000)
		rom[0x0000] = 0x21 // LD HL,0xC000
		rom[0x0001] = 0x00
		rom[0x0002] = 0xC0
		rom[0x0003] = tc.op
		b := bus.New(rom)
		c := New(b)
		c.Bus().Write(0xC000, 0x99)
		c.Step() // LD HL,C000
		res := c.Step()
		if res.Kind != Ok {
			t.Fatalf("%s: got kind %v want Ok", tc.name, res.Kind)
		}
		if got := tc.get(c); got != 0x99 {
			t.Fatalf("%s: got %02x want 99", tc.name, got)
		}
	}
}

func TestCPU_UndefinedOpcodeDoesNotAdvancePC(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xD3 // undefined
	b := bus.New(rom)
	c := New(b)

	res := c.Step()
	if res.Kind != UnknownOpcode || res.Opcode != 0xD3 {
		t.Fatalf("got kind=%v opcode=%02x want UnknownOpcode/D3", res.Kind, res.Opcode)
	}
	if c.PC != 0x0000 {
		t.Fatalf("PC advanced past an undefined opcode: got %#04x want 0x0000", c.PC)
	}
	// Repeated steps keep reporting the same thing; the CPU never limps forward.
	res2 := c.Step()
	if res2.Kind != UnknownOpcode || c.PC != 0x0000 {
		t.Fatalf("second step over undefined opcode should repeat: kind=%v pc=%#04x", res2.Kind, c.PC)
	}
}

func TestCPU_BreakpointOpcodesReportAndExecuteAsNop(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x40 // LD B,B
	rom[0x0001] = 0x52 // LD D,D
	b := bus.New(rom)
	c := New(b)

	res := c.Step()
	if res.Kind != BreakpointB {
		t.Fatalf("LD B,B got kind %v want BreakpointB", res.Kind)
	}
	res = c.Step()
	if res.Kind != BreakpointD {
		t.Fatalf("LD D,D got kind %v want BreakpointD", res.Kind)
	}
	if c.PC != 2 {
		t.Fatalf("breakpoint opcodes should still advance PC like a NOP: got %#04x", c.PC)
	}
}

func TestCPU_HaltNeverResumesWithoutInterruptDispatch(t *testing.T) {
	c := newCPUWithROM([]byte{0x76}) // HALT
	c.Step()
	if !c.Halted {
		t.Fatalf("CPU should be halted after executing HALT")
	}
	pc := c.PC
	for i := 0; i < 8; i++ {
		c.Step()
	}
	if !c.Halted || c.PC != pc {
		t.Fatalf("halted CPU should idle forever: halted=%v pc=%#04x want %#04x", c.Halted, c.PC, pc)
	}
}

func TestCPU_CB_BIT_HL_CostsTwelveCycles(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x21 // LD HL,0xC000
	rom[0x0001] = 0x00
	rom[0x0002] = 0xC0
	rom[0x0003] = 0xCB // BIT 0,(HL)
	rom[0x0004] = 0x46
	b := bus.New(rom)
	c := New(b)
	c.Step() // LD HL
	before := c.Cycles
	c.Step() // CB BIT 0,(HL)
	if got := c.Cycles - before; got != 12 {
		t.Fatalf("BIT 0,(HL) cost got %d want 12", got)
	}
}

func TestCPU_CB_SET_HL_CostsSixteenCycles(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x21 // LD HL,0xC000
	rom[0x0001] = 0x00
	rom[0x0002] = 0xC0
	rom[0x0003] = 0xCB // SET 0,(HL)
	rom[0x0004] = 0xC6
	b := bus.New(rom)
	c := New(b)
	c.Step() // LD HL
	before := c.Cycles
	c.Step() // CB SET 0,(HL)
	if got := c.Cycles - before; got != 16 {
		t.Fatalf("SET 0,(HL) cost got %d want 16", got)
	}
	if v := c.Bus().Read(0xC000); v&1 == 0 {
		t.Fatalf("SET 0,(HL) did not set bit 0, got %02x", v)
	}
}

func TestCPU_DAA_AfterDecimalAddition(t *testing.T) {
	// LD A,0x45; LD B,0x38; ADD A,B; DAA  -> BCD 45 + 38 = 83
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x3E
	rom[0x0001] = 0x45
	rom[0x0002] = 0x06
	rom[0x0003] = 0x38
	rom[0x0004] = 0x80 // ADD A,B
	rom[0x0005] = 0x27 // DAA
	b := bus.New(rom)
	c := New(b)
	for i := 0; i < 4; i++ {
		c.Step()
	}
	if c.A != 0x83 {
		t.Fatalf("DAA result got %02x want 83", c.A)
	}
	if c.flag(FlagC) {
		t.Fatalf("DAA should not set carry for 45+38")
	}
}

func TestCPU_EI_TakesEffectImmediately(t *testing.T) {
	c := newCPUWithROM([]byte{0xFB, 0x00}) // EI; NOP
	c.Step()
	if !c.IME {
		t.Fatalf("IME should be set immediately after EI, with no one-instruction delay")
	}
}

func TestCPU_PushPopRoundTrip(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xC5 // PUSH BC
	rom[0x0001] = 0xD1 // POP DE
	b := bus.New(rom)
	c := New(b)
	c.SP = 0xFFFE
	c.setBC(0x1234)
	c.Step() // PUSH BC
	c.Step() // POP DE
	if c.DE() != 0x1234 {
		t.Fatalf("DE after PUSH BC/POP DE got %#04x want 0x1234", c.DE())
	}
	if c.SP != 0xFFFE {
		t.Fatalf("SP should return to its starting value, got %#04x", c.SP)
	}
}

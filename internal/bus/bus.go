// Package bus implements the segmented Game Boy address space the CPU
// core executes against: a flat 32 KiB ROM window, VRAM, SRAM, WRAM (with
// its echo mirror), OAM, the unmapped/I-O windows, HRAM, and the IE
// register. There is no PPU, APU, joypad, serial, timer, or mapper behind
// it — reads of anything not backed by real storage return the documented
// 0xFF sentinel, and writes to read-only or unmapped regions are absorbed.
// The bus never fails: Read and Write are total functions.
package bus

const (
	romSize  = 0x8000
	vramSize = 0x2000
	sramSize = 0x2000
	wramSize = 0x2000
	oamSize  = 0xA0
	hramSize = 0x7F
)

// Bus is the CPU-visible memory map for one test case. It owns its
// backing storage outright; callers construct a fresh Bus per case.
type Bus struct {
	rom  [romSize]byte
	vram [vramSize]byte
	sram [sramSize]byte
	wram [wramSize]byte
	oam  [oamSize]byte
	hram [hramSize]byte
	ie   byte
}

// New constructs a Bus with rom installed at 0x0000, truncated to 32 KiB
// if the image is larger (only bank 0 is ever addressable per spec).
func New(rom []byte) *Bus {
	b := &Bus{}
	n := len(rom)
	if n > romSize {
		n = romSize
	}
	copy(b.rom[:n], rom[:n])
	return b
}

// Read returns the byte at addr. Every address is readable; unmapped
// windows return 0xFF rather than signaling an error.
func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.rom[addr]
	case addr <= 0x9FFF:
		return b.vram[addr-0x8000]
	case addr <= 0xBFFF:
		return b.sram[addr-0xA000]
	case addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr <= 0xFDFF: // echo of WRAM, addr-0x2000
		return b.wram[(addr-0x2000)-0xC000]
	case addr <= 0xFE9F:
		return b.oam[addr-0xFE00]
	case addr <= 0xFEFF: // unused window
		return 0xFF
	case addr <= 0xFF7F: // I/O window, no device behind it
		return 0xFF
	case addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	default: // 0xFFFF
		return b.ie
	}
}

// Write stores value at addr. Writes to ROM are silently dropped (no
// MBC registers exist to absorb them), matching hardware behavior for a
// flat cartridge. Writes to the unused and I/O windows are dropped too.
// Write never fails.
func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		// ROM is read-only to the CPU; seed it via SeedWrite instead.
	case addr <= 0x9FFF:
		b.vram[addr-0x8000] = value
	case addr <= 0xBFFF:
		b.sram[addr-0xA000] = value
	case addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr <= 0xFDFF:
		b.wram[(addr-0x2000)-0xC000] = value
	case addr <= 0xFE9F:
		b.oam[addr-0xFE00] = value
	case addr <= 0xFEFF:
		// dropped
	case addr <= 0xFF7F:
		// dropped: no I/O device is modeled
	case addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	default:
		b.ie = value
	}
}

// Read16 reads a little-endian word, wrapping modulo 2^16.
func (b *Bus) Read16(addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return lo | hi<<8
}

// Write16 stores a little-endian word, low byte first, wrapping modulo 2^16.
func (b *Bus) Write16(addr uint16, v uint16) {
	b.Write(addr, byte(v))
	b.Write(addr+1, byte(v>>8))
}

// SeedWrite writes directly into the backing storage for addr, bypassing
// the ROM write-lock. It is the driver's setup-time channel for applying
// a TestCase's initial memory, including bytes inside 0x0000-0x7FFF.
func (b *Bus) SeedWrite(addr uint16, value byte) {
	if addr < 0x8000 {
		b.rom[addr] = value
		return
	}
	b.Write(addr, value)
}

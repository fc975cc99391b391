// Package snapshot serializes a memory bus into the human-readable dump
// format consumed by test authors debugging a failing case: one section
// per named region, each rendered as 16-byte rows of lowercase hex.
package snapshot

import (
	"fmt"
	"io"

	"github.com/arlojames/gbtest/internal/bus"
)

type region struct {
	name  string
	start uint16
	size  int
}

var regions = []region{
	{"VRAM", 0x8000, 0x2000},
	{"SRAM", 0xA000, 0x2000},
	{"WRAM", 0xC000, 0x2000},
	{"OAM", 0xFE00, 0xA0},
	{"HRAM", 0xFF80, 0x7F},
	{"IE", 0xFFFF, 1},
}

// Write renders every byte of b's VRAM/SRAM/WRAM/OAM/HRAM/IE regions to w
// in the dump format: a "[Name]" header followed by 16-byte rows of
// "0xHHHH: 0xVV 0xVV ...". No row is ever omitted, even an all-zero one.
func Write(w io.Writer, b *bus.Bus) error {
	for _, r := range regions {
		if _, err := fmt.Fprintf(w, "[%s]\n", r.name); err != nil {
			return err
		}
		for offset := 0; offset < r.size; offset += 16 {
			rowLen := 16
			if remaining := r.size - offset; remaining < rowLen {
				rowLen = remaining
			}
			addr := r.start + uint16(offset)
			if _, err := fmt.Fprintf(w, "0x%04x:", addr); err != nil {
				return err
			}
			for i := 0; i < rowLen; i++ {
				v := b.Read(addr + uint16(i))
				if _, err := fmt.Fprintf(w, " 0x%02x", v); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}

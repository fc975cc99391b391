package snapshot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/arlojames/gbtest/internal/bus"
)

func TestWrite_HeadersAndByteCount(t *testing.T) {
	b := bus.New(make([]byte, 0x8000))
	b.Write(0x8000, 0x11)
	b.Write(0xFFFF, 0x1B)

	var out bytes.Buffer
	if err := Write(&out, b); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	text := out.String()

	for _, header := range []string{"[VRAM]", "[SRAM]", "[WRAM]", "[OAM]", "[HRAM]", "[IE]"} {
		if !strings.Contains(text, header) {
			t.Fatalf("dump missing section header %q", header)
		}
	}
	if !strings.Contains(text, "0x8000: 0x11") {
		t.Fatalf("dump missing seeded VRAM byte, got:\n%s", text)
	}
	if !strings.Contains(text, "0xffff: 0x1b") {
		t.Fatalf("dump missing IE byte, got:\n%s", text)
	}
}

func TestWrite_EmitsAllBytesIncludingZeroRows(t *testing.T) {
	b := bus.New(make([]byte, 0x8000))
	var out bytes.Buffer
	if err := Write(&out, b); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	// HRAM is 127 bytes = 7 full rows of 16 + 1 row of 15.
	hramSection := out.String()[strings.Index(out.String(), "[HRAM]"):strings.Index(out.String(), "[IE]")]
	lines := strings.Split(strings.TrimSpace(hramSection), "\n")
	if len(lines) != 1+8 { // header + 8 rows
		t.Fatalf("HRAM section got %d lines want 9:\n%s", len(lines), hramSection)
	}
}

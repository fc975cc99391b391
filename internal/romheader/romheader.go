// Package romheader reads the informational cartridge header embedded in
// a Game Boy ROM image (title, declared size, checksums) purely for CLI
// diagnostics: the bus addresses a flat 32 KiB ROM window directly and
// never consults these fields, since no memory bank controller is
// modeled (bank switching is out of scope for this harness).
package romheader

import (
	"encoding/binary"
	"errors"
	"strings"
)

const headerEnd = 0x014F

var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// Header is the subset of the cartridge header a log line needs. Fields
// that only matter to a memory bank controller (cartridge type, RAM
// size) are not modeled here.
type Header struct {
	Title          string // 0x0134-0x0143, trimmed ASCII
	ROMVersion     byte   // 0x014C
	HeaderChecksum byte   // 0x014D
	GlobalChecksum uint16 // 0x014E-0x014F

	ROMSizeBytes int // decoded from 0x0148; 0 for an unrecognised size code
}

// Parse reads the header fields out of rom. It does not validate the
// Nintendo logo: homebrew and test fixtures routinely omit it.
func Parse(rom []byte) (*Header, error) {
	if len(rom) < headerEnd+1 {
		return nil, errors.New("romheader: ROM too small to contain a header")
	}

	title := strings.TrimRight(string(rom[0x0134:0x0144]), "\x00")

	h := &Header{
		Title:          title,
		ROMVersion:     rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: binary.BigEndian.Uint16(rom[0x014E:0x0150]),
	}
	h.ROMSizeBytes = decodeROMSize(rom[0x0148])
	return h, nil
}

// ChecksumOK reports whether rom's stored header checksum (0x014D)
// matches the Pan Docs algorithm over 0x0134-0x014C.
func ChecksumOK(rom []byte) bool {
	if len(rom) < 0x014E {
		return false
	}
	var sum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		sum = sum - rom[addr] - 1
	}
	return sum == rom[0x014D]
}

// HasLogo reports whether rom carries the standard Nintendo boot logo
// at 0x0104, purely informational.
func HasLogo(rom []byte) bool {
	if len(rom) < 0x0104+len(nintendoLogo) {
		return false
	}
	for i, b := range nintendoLogo {
		if rom[0x0104+i] != b {
			return false
		}
	}
	return true
}

func decodeROMSize(code byte) int {
	switch code {
	case 0x00:
		return 32 * 1024
	case 0x01:
		return 64 * 1024
	case 0x02:
		return 128 * 1024
	case 0x03:
		return 256 * 1024
	case 0x04:
		return 512 * 1024
	case 0x05:
		return 1 * 1024 * 1024
	case 0x06:
		return 2 * 1024 * 1024
	case 0x07:
		return 4 * 1024 * 1024
	case 0x08:
		return 8 * 1024 * 1024
	default:
		return 0
	}
}

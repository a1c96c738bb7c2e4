// Package cart defines the cartridge port the bus reads and writes
// through, and the minimal ROM-only implementation specified as the
// in-scope cartridge behavior. MBC banking variants are a documented
// Non-goal; see NewCartridge for how a banked cart type degrades to
// flat ROM-only.
package cart

import (
	"bytes"
	"errors"
	"log/slog"
)

// Cartridge is the minimal interface the bus needs for the cartridge
// address window ($0000-$7FFF ROM, $A000-$BFFF external RAM).
type Cartridge interface {
	// Read returns a byte from ROM or external RAM.
	Read(addr uint16) byte
	// Write handles mapper-register writes and external RAM writes.
	// A ROM-only cartridge ignores writes to the ROM window.
	Write(addr uint16, value byte)
}

// FromBytes builds a Cartridge from raw ROM bytes, validating the
// header (Nintendo logo, title, cart type, ROM/RAM size, header
// checksum). A malformed header is reported to the caller.
func FromBytes(rom []byte) (Cartridge, error) {
	if _, err := ParseHeader(rom); err != nil {
		return nil, err
	}
	if !bytes.Equal(rom[0x0104:0x0134], nintendoLogo[:]) {
		return nil, errors.New("cartridge header: Nintendo logo mismatch")
	}
	if !HeaderChecksumOK(rom) {
		return nil, errors.New("cartridge header checksum mismatch")
	}
	return NewCartridge(rom), nil
}

// NewCartridge picks an implementation based on the ROM header. Only
// flat ROM-only cartridges are implemented; a ROM declaring a banked
// cart type still loads, with a logged notice that banking is not
// modeled (a documented Non-goal, not a load failure).
func NewCartridge(rom []byte) Cartridge {
	if h, err := ParseHeader(rom); err == nil && h.CartType != 0x00 {
		slog.Info("cartridge declares a banked mapper; running as flat ROM-only",
			"cart_type", h.CartTypeStr, "code", h.CartType)
	}
	return NewROMOnly(rom)
}

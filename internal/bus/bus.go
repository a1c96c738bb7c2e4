// Package bus wires the CPU-visible 16-bit address space to the
// cartridge, work/high RAM, PPU, timer, OAM-DMA controller, interrupt
// registers, joypad, and serial port. It is the single place that
// decodes an address (via internal/addr) and the single place that
// advances the other peripherals in lockstep with the CPU clock.
package bus

import (
	"io"

	"github.com/sm83emu/coregb/internal/addr"
	"github.com/sm83emu/coregb/internal/cart"
	"github.com/sm83emu/coregb/internal/dma"
	"github.com/sm83emu/coregb/internal/intr"
	"github.com/sm83emu/coregb/internal/mem"
	"github.com/sm83emu/coregb/internal/ppu"
	"github.com/sm83emu/coregb/internal/timer"
)

// Bus owns every peripheral except the CPU itself.
type Bus struct {
	cart cart.Cartridge
	ram  *mem.RAM
	ppu  *ppu.PPU
	tmr  *timer.Timer
	dma  *dma.Controller
	irq  *intr.Controller

	joypSelect byte
	joypad     byte // bitmask of pressed buttons, see Joyp* constants
	joypLower4 byte

	sb byte      // FF01 serial data
	sc byte      // FF02 serial control
	sw io.Writer // optional sink for transferred bytes

	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus around a flat ROM-only cartridge.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	irqc := &intr.Controller{}
	b := &Bus{
		cart: c,
		ram:  mem.New(),
		irq:  irqc,
		tmr:  timer.New(irqc),
		dma:  dma.New(),
	}
	b.ppu = ppu.New(func(bit int) { b.irq.Request(intr.Source(bit)) })
	return b
}

// PPU exposes the PPU for rendering helpers outside the bus.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart returns the underlying cartridge.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// IRQ exposes the interrupt controller for the CPU's dispatch logic.
func (b *Bus) IRQ() *intr.Controller { return b.irq }

func (b *Bus) Read(a uint16) byte {
	switch addr.Decode(a) {
	case addr.RegionROM:
		if b.bootEnabled && a < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[a]
		}
		return b.cart.Read(a)
	case addr.RegionVRAM:
		return b.ppu.CPURead(a)
	case addr.RegionCartRAM:
		return b.cart.Read(a)
	case addr.RegionWRAM:
		return b.ram.ReadWRAM(a - addr.WRAMStart)
	case addr.RegionEcho:
		return b.ram.ReadWRAM(a - addr.EchoStart)
	case addr.RegionOAM:
		if b.dma.Active() {
			return 0xFF
		}
		return b.ppu.CPURead(a)
	case addr.RegionProhibited:
		return 0xFF
	case addr.RegionHRAM:
		return b.ram.ReadHRAM(a - addr.HRAMStart)
	case addr.RegionIE:
		return b.irq.ReadIE()
	case addr.RegionIO:
		return b.readIO(a)
	}
	return 0xFF
}

func (b *Bus) readIO(a uint16) byte {
	switch a {
	case addr.RegJOYP:
		return b.readJOYP()
	case addr.RegSB:
		return b.sb
	case addr.RegSC:
		return 0x7E | (b.sc & 0x81)
	case addr.RegDIV:
		return b.tmr.DIV()
	case addr.RegTIMA:
		return b.tmr.TIMA()
	case addr.RegTMA:
		return b.tmr.TMA()
	case addr.RegTAC:
		return b.tmr.TAC()
	case addr.RegIF:
		return b.irq.ReadIF()
	case addr.RegLCDC, addr.RegSTAT, addr.RegSCY, addr.RegSCX,
		addr.RegLY, addr.RegLYC, addr.RegBGP, addr.RegOBP0, addr.RegOBP1,
		addr.RegWY, addr.RegWX:
		return b.ppu.CPURead(a)
	case addr.RegDMA:
		return b.dma.Register()
	case addr.RegBootOff:
		return 0xFF
	default:
		return 0xFF
	}
}

func (b *Bus) readJOYP() byte {
	res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
	if (b.joypSelect & 0x10) == 0 { // P14 low selects D-Pad
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 { // P15 low selects Buttons
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

func (b *Bus) Write(a uint16, v byte) {
	switch addr.Decode(a) {
	case addr.RegionROM, addr.RegionCartRAM:
		b.cart.Write(a, v)
	case addr.RegionVRAM:
		b.ppu.CPUWrite(a, v)
	case addr.RegionWRAM:
		b.ram.WriteWRAM(a-addr.WRAMStart, v)
	case addr.RegionEcho:
		b.ram.WriteWRAM(a-addr.EchoStart, v)
	case addr.RegionOAM:
		if b.dma.Active() {
			return
		}
		b.ppu.CPUWrite(a, v)
	case addr.RegionProhibited:
		// no backing storage
	case addr.RegionHRAM:
		b.ram.WriteHRAM(a-addr.HRAMStart, v)
	case addr.RegionIE:
		b.irq.WriteIE(v)
	case addr.RegionIO:
		b.writeIO(a, v)
	}
}

func (b *Bus) writeIO(a uint16, v byte) {
	switch a {
	case addr.RegJOYP:
		b.joypSelect = v & 0x30
		b.updateJoypadIRQ()
	case addr.RegSB:
		b.sb = v
	case addr.RegSC:
		b.sc = v & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.irq.Request(intr.Serial)
			b.sc &^= 0x80
		}
	case addr.RegDIV:
		b.tmr.WriteDIV(v)
	case addr.RegTIMA:
		b.tmr.WriteTIMA(v)
	case addr.RegTMA:
		b.tmr.WriteTMA(v)
	case addr.RegTAC:
		b.tmr.WriteTAC(v)
	case addr.RegIF:
		b.irq.WriteIF(v)
	case addr.RegLCDC, addr.RegSTAT, addr.RegSCY, addr.RegSCX,
		addr.RegLY, addr.RegLYC, addr.RegBGP, addr.RegOBP0, addr.RegOBP1,
		addr.RegWY, addr.RegWX:
		b.ppu.CPUWrite(a, v)
	case addr.RegDMA:
		b.dma.Start(v)
	case addr.RegBootOff:
		if v != 0x00 {
			b.bootEnabled = false
		}
	}
}

// ReadForDMA serves the OAM-DMA controller's source reads, which can
// come from ROM, VRAM, or WRAM depending on the armed source page.
func (b *Bus) ReadForDMA(a uint16) byte {
	switch addr.Decode(a) {
	case addr.RegionROM:
		return b.cart.Read(a)
	case addr.RegionVRAM:
		return b.ppu.ReadForDMA(a)
	case addr.RegionCartRAM:
		return b.cart.Read(a)
	case addr.RegionWRAM:
		return b.ram.ReadWRAM(a - addr.WRAMStart)
	case addr.RegionEcho:
		return b.ram.ReadWRAM(a - addr.EchoStart)
	default:
		return 0xFF
	}
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to be mapped at 0x0000-0x00FF until
// disabled via a non-zero write to $FF50.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the timer, OAM-DMA, and PPU by cycles machine cycles,
// in that fixed order: timer ticks four dot-clocks, DMA copies one
// byte, and the PPU advances four dot-clocks, all per machine cycle.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		for d := 0; d < 4; d++ {
			b.tmr.Tick()
		}
		b.dma.Tick(b, b.ppu)
		b.ppu.Tick(4)
	}
}

// updateJoypadIRQ recomputes JOYP's lower 4 bits (active-low) and
// requests the Joypad interrupt on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.irq.Request(intr.Joypad)
	}
	b.joypLower4 = newLower
}

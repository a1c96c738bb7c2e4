// Package emu assembles the bus, CPU, and PPU into a runnable machine:
// cartridge loading, the frame-stepping loop, joypad input, and the
// framebuffer snapshot the host graphics layer presents.
package emu

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sm83emu/coregb/internal/bus"
	"github.com/sm83emu/coregb/internal/cpu"
)

const (
	screenW = 160
	screenH = 144
)

// Buttons is the current state of all eight joypad inputs.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine wires together a Bus and CPU and exposes the frame-oriented
// API a host loop drives: load a cartridge, feed input, step a frame,
// and read back the completed picture.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romPath     string
	pendingBoot []byte // set via SetBootROM before a cartridge is loaded
	locked      bool   // CPU hit an illegal opcode and is no longer executing

	mu sync.Mutex
	fb []byte // RGBA, screenW*screenH*4, guarded by mu

	lastFrame time.Time
}

// New constructs a Machine with no cartridge loaded. LoadCartridge (or
// LoadROMFromFile) must be called before stepping.
func New(cfg Config) *Machine {
	return &Machine{
		cfg: cfg,
		fb:  make([]byte, screenW*screenH*4),
	}
}

// LoadCartridge builds a fresh Bus and CPU around rom. An optional
// boot ROM image, when at least 256 bytes, is mapped at $0000-$00FF
// until the game disables it via $FF50; otherwise the CPU starts
// directly in the typical DMG post-boot register state.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	if len(boot) == 0 {
		boot = m.pendingBoot
	}
	b := bus.New(rom)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}
	c := cpu.New(b)
	if len(boot) >= 0x100 {
		c.SP, c.PC, c.IME = 0xFFFE, 0x0000, false
	} else {
		c.ResetNoBoot()
		c.SetPC(0x0100)
		seedPostBootIO(b)
	}
	m.bus = b
	m.cpu = c
	m.locked = false
	return nil
}

// seedPostBootIO writes the IO register values the DMG boot ROM
// leaves behind, for the no-boot-ROM startup path.
func seedPostBootIO(b *bus.Bus) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// LoadROMFromFile reads rom from path and loads it, recording the path
// for ROMPath.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile loaded from, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// SetBootROM loads a boot ROM to be mapped until the cartridge
// disables it. May be called before or after LoadCartridge.
func (m *Machine) SetBootROM(data []byte) {
	m.pendingBoot = data
	if m.bus != nil {
		m.bus.SetBootROM(data)
	}
}

// SetSerialWriter routes serial-port output (used by test ROMs to
// report pass/fail) to w.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons updates which joypad buttons are currently held.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// LoadBattery and SaveBattery are no-ops: the only cartridge kind this
// machine implements is flat ROM-only, which has no battery-backed
// RAM to persist. They exist so host code written against a
// battery-capable cartridge API still links; see DESIGN.md for why
// MBC1/MBC3/MBC5 battery saves are out of scope.
func (m *Machine) LoadBattery(data []byte) bool { return false }
func (m *Machine) SaveBattery() ([]byte, bool)  { return nil, false }

// StepFrame runs the CPU until the PPU completes a frame, renders it
// into the RGBA framebuffer, and optionally paces to ~60 Hz.
func (m *Machine) StepFrame() {
	m.runUntilFrame()
	m.renderFrame()
	if m.cfg.LimitFPS {
		const frameTime = time.Second / 60
		if !m.lastFrame.IsZero() {
			if d := frameTime - time.Since(m.lastFrame); d > 0 {
				time.Sleep(d)
			}
		}
		m.lastFrame = time.Now()
	}
}

// StepFrameNoRender runs the CPU until the PPU completes a frame
// without copying it into the RGBA framebuffer, for throughput-
// sensitive callers (test-ROM runners) that only care about serial
// output.
func (m *Machine) StepFrameNoRender() {
	m.runUntilFrame()
}

func (m *Machine) runUntilFrame() {
	if m.cpu == nil || m.locked {
		return
	}
	for {
		pc := m.cpu.PC
		cycles, err := m.cpu.Step()
		if err != nil {
			slog.Error("CPU halted on illegal opcode", "err", err)
			m.locked = true
			return
		}
		if m.cfg.Trace {
			slog.Debug("cpu step", "pc", pc, "cycles", cycles)
		}
		if _, ready := m.bus.PPU().ConsumeFrame(); ready {
			return
		}
	}
}

func (m *Machine) renderFrame() {
	fb, _ := m.bus.PPU().ConsumeFrame()
	m.mu.Lock()
	defer m.mu.Unlock()
	for y := 0; y < screenH; y++ {
		for x := 0; x < screenW; x++ {
			px := fb[y][x]
			i := (y*screenW + x) * 4
			m.fb[i+0] = byte(px >> 16)
			m.fb[i+1] = byte(px >> 8)
			m.fb[i+2] = byte(px)
			m.fb[i+3] = byte(px >> 24)
		}
	}
}

// Framebuffer returns a snapshot of the most recently rendered frame
// as packed RGBA bytes, screenW*screenH*4 long.
func (m *Machine) Framebuffer() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.fb))
	copy(out, m.fb)
	return out
}

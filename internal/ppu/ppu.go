package ppu

import "sort"

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	winLine    int // internal window line counter, advances only on lines the window actually drew
	framebuf   [144][160]uint32
	frameReady bool // set once per VBlank entry; Machine polls and clears it

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
	if (p.stat & 0x03) == 3 { return 0xFF }
	return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
	// OAM is inaccessible during modes 2 and 3
	m := p.stat & 0x03
	if m == 2 || m == 3 { return 0xFF }
	return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
	// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
	return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	if (p.stat & 0x03) == 3 { return }
	p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
	m := p.stat & 0x03
	if m == 2 || m == 3 { return }
	p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if mode == 3 && prevMode != 3 && p.ly < 144 {
			visible := p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0 && p.wy <= p.ly && p.wx <= 166
			p.framebuf[p.ly] = p.RenderScanline(p.ly, byte(p.winLine))
			if visible {
				p.winLine++
			}
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				p.frameReady = true
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winLine = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte   { return p.ly }

// ConsumeFrame returns the most recently completed 160x144 framebuffer
// and whether a new frame became ready since the last call.
func (p *PPU) ConsumeFrame() ([144][160]uint32, bool) {
	ready := p.frameReady
	p.frameReady = false
	return p.framebuf, ready
}

// Read implements VRAMReader for the PPU's own scanline renderer: the
// fetcher reads through the raw map regardless of CPU-facing mode
// locks, since the PPU is always allowed to see its own VRAM.
func (p *PPU) Read(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// ReadForDMA serves the OAM-DMA controller's source reads. DMA can
// source from ROM/VRAM/WRAM/cartridge RAM; the PPU only answers the
// VRAM slice of that range, so the bus routes everything else itself
// and only calls here for $8000-$9FFF sources.
func (p *PPU) ReadForDMA(addr uint16) byte { return p.Read(addr) }

// WriteOAMRaw is the OAM-DMA controller's write path: it bypasses the
// CPU-facing mode-2/3 OAM lock, since DMA is the one writer allowed to
// touch OAM while a transfer is active.
func (p *PPU) WriteOAMRaw(offset uint16, v byte) {
	if offset < uint16(len(p.oam)) {
		p.oam[offset] = v
	}
}

// Sprite is a decoded OAM entry in screen-space coordinates (X/Y
// already have the hardware's +8/+16 offset removed).
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// tallSprites reports whether LCDC selects 8x16 sprites.
func (p *PPU) tallSprites() bool { return p.lcdc&0x04 != 0 }

// spritesOnLine decodes OAM into screen-space Sprite values and
// returns the ones intersecting ly, in OAM order, capped at the
// hardware's 10-sprites-per-line limit.
func (p *PPU) spritesOnLine(ly byte) []Sprite {
	height := 8
	if p.tallSprites() {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		y := int(p.oam[base]) - 16
		x := int(p.oam[base+1]) - 8
		row := int(ly) - y
		if row < 0 || row >= height {
			continue
		}
		out = append(out, Sprite{
			X: x, Y: y,
			Tile:     p.oam[base+2],
			Attr:     p.oam[base+3],
			OAMIndex: i,
		})
	}
	return out
}

// ComposeSpriteLine overlays sprites onto a rendered BG+window line.
// bgci holds the BG/window color indices already produced for the
// line, used to resolve the OBJ-to-BG priority bit (Attr bit 7): a
// sprite pixel is hidden when that bit is set and the underlying BG
// pixel is non-zero. Sprite color index 0 is always transparent.
// Overlapping sprites resolve lowest-X-wins, ties broken by lowest OAM
// index, matching DMG hardware priority.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	var out [160]byte
	ordered := append([]Sprite(nil), sprites...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].X != ordered[j].X {
			return ordered[i].X < ordered[j].X
		}
		return ordered[i].OAMIndex < ordered[j].OAMIndex
	})
	height := 8
	if tall {
		height = 16
	}
	// Draw lowest priority first so higher-priority sprites (lower X,
	// then lower OAM index) overwrite them pixel-for-pixel.
	for i := len(ordered) - 1; i >= 0; i-- {
		s := ordered[i]
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // Y flip
			row = height - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &^= 1
		}
		tileNum := uint16(tile)
		if tall && row >= 8 {
			tileNum++
			row -= 8
		}
		base := 0x8000 + tileNum*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
		xflip := s.Attr&0x20 != 0
		for col := 0; col < 8; col++ {
			x := s.X + col
			if x < 0 || x >= 160 {
				continue
			}
			bit := 7 - col
			if xflip {
				bit = col
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			if s.Attr&0x80 != 0 && bgci[x] != 0 {
				continue
			}
			out[x] = ci
		}
	}
	return out
}

// objPalette picks OBP0 or OBP1 for a sprite's attribute byte.
func (p *PPU) objPalette(attr byte) byte {
	if attr&0x10 != 0 {
		return p.obp1
	}
	return p.obp0
}

func applyPalette(pal byte, ci byte) byte { return (pal >> (ci * 2)) & 0x03 }

// dmgShades maps a 2-bit shade index to a packed 0xAARRGGBB grey.
var dmgShades = [4]uint32{0xFFE0F8D0, 0xFF88C070, 0xFF346856, 0xFF081820}

// RenderScanline composes BG, window, and sprites for line ly into 160
// packed 0xAARRGGBB pixels, the way the CPU-visible framebuffer snapshot is
// built at mode-3 entry for that line.
func (p *PPU) RenderScanline(ly byte, winLine byte) [160]uint32 {
	var bg [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		bg = RenderBGScanlineUsingFetcher(p, mapBase, p.lcdc&0x10 != 0, p.scx, p.scy, ly)
	}

	if p.lcdc&0x20 != 0 && p.lcdc&0x01 != 0 && p.wy <= ly && p.wx <= 166 {
		winMapBase := uint16(0x9800)
		if p.lcdc&0x40 != 0 {
			winMapBase = 0x9C00
		}
		wxStart := int(p.wx) - 7
		win := RenderWindowScanlineUsingFetcher(p, winMapBase, p.lcdc&0x10 != 0, wxStart, winLine)
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			bg[x] = win[x]
		}
	}

	var out [160]uint32
	for x := 0; x < 160; x++ {
		shade := applyPalette(p.bgp, bg[x])
		out[x] = dmgShades[shade]
	}

	if p.lcdc&0x02 != 0 {
		sprites := p.spritesOnLine(ly)
		obj := ComposeSpriteLine(p, sprites, ly, bg, p.tallSprites())
		for x := 0; x < 160; x++ {
			if obj[x] == 0 {
				continue
			}
			var attr byte
			for _, s := range sprites {
				if x >= s.X && x < s.X+8 {
					attr = s.Attr
					break
				}
			}
			shade := applyPalette(p.objPalette(attr), obj[x])
			out[x] = dmgShades[shade]
		}
	}
	return out
}

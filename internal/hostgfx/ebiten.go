package hostgfx

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"github.com/sm83emu/coregb/internal/emu"
)

const (
	screenW = 160
	screenH = 144
)

// EbitenApp drives a Machine inside an ebitengine window. It implements
// ebiten.Game directly, the way the original project's App did, but
// limited to presenting frames and forwarding the fixed DMG keymap —
// no menu overlay, no audio, no save slots.
type EbitenApp struct {
	Title string
	Scale int

	m   *emu.Machine
	tex *ebiten.Image
}

// NewEbitenApp wires an ebitengine window around m.
func NewEbitenApp(title string, scale int, m *emu.Machine) *EbitenApp {
	if scale <= 0 {
		scale = 3
	}
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(screenW*scale, screenH*scale)
	return &EbitenApp{
		Title: title,
		Scale: scale,
		m:     m,
		tex:   ebiten.NewImage(screenW, screenH),
	}
}

// Run starts the ebitengine game loop; it blocks until the window closes.
func (a *EbitenApp) Run() error { return ebiten.RunGame(a) }

// Update implements ebiten.Game: it samples the fixed DMG keymap and
// steps exactly one emulated frame.
func (a *EbitenApp) Update() error {
	a.m.SetButtons(a.readButtons())
	a.m.StepFrame()
	return nil
}

// Draw implements ebiten.Game.
func (a *EbitenApp) Draw(screen *ebiten.Image) {
	a.tex.WritePixels(a.m.Framebuffer())
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(a.Scale), float64(a.Scale))
	screen.DrawImage(a.tex, op)
	ebitenutil.DebugPrint(screen, a.Title)
}

// Layout implements ebiten.Game.
func (a *EbitenApp) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenW * a.Scale, screenH * a.Scale
}

func (a *EbitenApp) readButtons() emu.Buttons {
	return emu.Buttons{
		Right:  ebiten.IsKeyPressed(ebiten.KeyRight),
		Left:   ebiten.IsKeyPressed(ebiten.KeyLeft),
		Up:     ebiten.IsKeyPressed(ebiten.KeyUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyDown),
		A:      ebiten.IsKeyPressed(ebiten.KeyZ),
		B:      ebiten.IsKeyPressed(ebiten.KeyX),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight),
	}
}

// Package hostgfx adapts a Machine to an ebitengine window: it owns the
// RunGame loop, draws the machine's framebuffer each frame, and samples
// the fixed DMG keymap. It does not know about menus, save slots, or
// audio; EbitenApp is the entire surface a frontend needs.
package hostgfx

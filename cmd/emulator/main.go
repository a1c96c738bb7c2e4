// Command emulator runs a Game Boy ROM, either in a window via
// ebitengine or headless for scripted test runs.
package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sm83emu/coregb/internal/cart"
	"github.com/sm83emu/coregb/internal/emu"
	"github.com/sm83emu/coregb/internal/hostgfx"
)

type runFlags struct {
	bootROM string
	scale   int
	title   string
	trace   bool

	headless bool
	frames   int
	pngOut   string
	expect   string
}

func main() {
	f := &runFlags{}

	root := &cobra.Command{
		Use:   "emulator <rom>",
		Short: "Run a Game Boy ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], f)
		},
	}

	root.Flags().StringVar(&f.bootROM, "bootrom", "", "optional DMG boot ROM to run from $0000 until $FF50 disables it")
	root.Flags().IntVar(&f.scale, "scale", 3, "window scale factor")
	root.Flags().StringVar(&f.title, "title", "coregb", "window title")
	root.Flags().BoolVar(&f.trace, "trace", false, "log every CPU step through slog at debug level")
	root.Flags().BoolVar(&f.headless, "headless", false, "run without opening a window")
	root.Flags().IntVar(&f.frames, "frames", 300, "frames to run in headless mode")
	root.Flags().StringVar(&f.pngOut, "outpng", "", "write the final frame to a PNG at this path (headless only)")
	root.Flags().StringVar(&f.expect, "expect-crc", "", "assert the final frame's CRC32 (hex, headless only)")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(romPath string, f *runFlags) error {
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	boot, err := readOptional(f.bootROM)
	if err != nil {
		return fmt.Errorf("read bootrom: %w", err)
	}

	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			log.Printf("rom %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)
		}
	}

	m := emu.New(emu.Config{Trace: f.trace, LimitFPS: !f.headless})
	if err := m.LoadCartridge(rom, boot); err != nil {
		return fmt.Errorf("load cartridge: %w", err)
	}

	if f.headless {
		return runHeadless(m, f)
	}

	app := hostgfx.NewEbitenApp(f.title, f.scale, m)
	return app.Run()
}

func runHeadless(m *emu.Machine, f *runFlags) error {
	frames := f.frames
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), float64(frames)/dur.Seconds(), crc)

	if f.pngOut != "" {
		if err := writeFramePNG(fb, 160, 144, f.pngOut); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
		log.Printf("wrote %s", f.pngOut)
	}

	if f.expect != "" {
		want := strings.TrimPrefix(strings.ToLower(f.expect), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func writeFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

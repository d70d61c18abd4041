// Command gocam-demo is the teacher's cmd/gocam smoke test, adapted:
// instead of a single hardcoded /dev/video0 + 5-frame PNG snapshot, it opens
// a named (or default) device, logs a handful of frames through the
// callback path, and dumps the last one with DumpFrame.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	gocam "github.com/camstack/gocam"
)

func main() {
	device := flag.String("device", "", "device name (empty selects the first real device)")
	width := flag.Int("width", 1280, "requested width")
	height := flag.Int("height", 720, "requested height")
	fps := flag.Float64("fps", 30, "requested frame rate")
	force := flag.Bool("force", false, "force the output pixel format, converting if necessary")
	frames := flag.Int("frames", 5, "number of frames to log before exiting")
	flag.Parse()

	gocam.SetLogLevel(gocam.LogInfo)
	logger := gocam.NewLogger(os.Stderr)

	names, err := gocam.FindDeviceNames()
	if err != nil {
		log.Fatalf("gocam: enumerate devices: %v", err)
	}
	log.Printf("devices: %v", names)

	p := gocam.NewProvider(logger)
	if err := p.OpenByName(*device); err != nil {
		log.Fatalf("gocam: open: %v", err)
	}
	defer p.Close()

	format := gocam.I420
	if *force {
		format = gocam.RGBA32.WithForce()
	}
	p.Set(gocam.PropWidth, float64(*width))
	p.Set(gocam.PropHeight, float64(*height))
	p.Set(gocam.PropFrameRate, *fps)
	p.Set(gocam.PropPixelFormat, float64(uint32(format)))

	if err := p.Start(); err != nil {
		log.Fatalf("gocam: start: %v", err)
	}
	defer p.Stop()

	log.Println("capture started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var seen atomic.Int64
	var lastFrame gocam.Frame
	done := make(chan struct{})

	p.SetNewFrameCallback(func(f gocam.Frame) bool {
		n := seen.Add(1)
		log.Printf("frame %d: %dx%d format=%s index=%d", n, f.Width, f.Height, f.PixelFormat, f.FrameIndex)
		lastFrame = f.Retain()
		if int(n) >= *frames {
			close(done)
		}
		return true
	})

	select {
	case <-done:
	case <-sigCh:
		log.Println("signal received, stopping")
	case <-time.After(10 * time.Second):
		log.Println("timed out waiting for frames")
	}

	p.SetNewFrameCallback(nil)

	if lastFrame.Width == 0 {
		log.Fatal("gocam: no frame captured")
	}
	defer lastFrame.Release()

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("gocam: %v", err)
	}
	outPath := filepath.Join(wd, fmt.Sprintf("snapshot-%dx%d", lastFrame.Width, lastFrame.Height))
	if err := gocam.DumpFrame(lastFrame, outPath); err != nil {
		log.Fatalf("gocam: dump frame: %v", err)
	}
	log.Printf("snapshot written alongside %s", outPath)
}

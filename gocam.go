// Package gocam is a cross-platform camera-capture library: it negotiates
// resolution, frame rate, and pixel format against an OS-native camera
// source (V4L2 on Linux, AVFoundation on macOS, Media Foundation on
// Windows), then delivers a uniform stream of decoded frames by pull
// (Provider.Grab) or push (Provider.SetNewFrameCallback).
//
// A Provider owns at most one open device. The core of the package --
// FramePool, ReadyQueue, and the in-place pixel conversion engine in
// convert.go -- is what Provider wires together; see DESIGN.md for how each
// piece is grounded.
package gocam

// Version identifies this module's public API revision, independent of any
// VCS tag.
const Version = "0.1.0"

// Open is a convenience constructor: it builds a Provider, opens the named
// device (or the first real device if name is empty), and returns it ready
// for Start. Equivalent to NewProvider(log) followed by OpenByName(name).
func Open(log Logger, name string) (*Provider, error) {
	p := NewProvider(log)
	if err := p.OpenByName(name); err != nil {
		return nil, err
	}
	return p, nil
}

// OpenIndex is Open's index-addressed counterpart.
func OpenIndex(log Logger, index int) (*Provider, error) {
	p := NewProvider(log)
	if err := p.OpenByIndex(index); err != nil {
		return nil, err
	}
	return p, nil
}

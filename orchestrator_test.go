package gocam

import (
	"testing"
	"time"
)

// fakeShim is an in-process PlatformShim double used to exercise the
// orchestrator's state machine, negotiation, and delivery paths without a
// real capture device, per SPEC_FULL.md's "synthetic in-process platform
// shims" note.
type fakeShim struct {
	devices []DeviceInfo
	formats []FormatSpec

	opened bool
	sink   SampleSink

	disconnectCb func(error)
}

func newFakeShimFactory(formats []FormatSpec) func() PlatformShim {
	return func() PlatformShim {
		return &fakeShim{
			devices: []DeviceInfo{{ID: "fake0", Name: "Fake Camera"}},
			formats: formats,
		}
	}
}

func (s *fakeShim) EnumerateDevices() ([]DeviceInfo, error) { return s.devices, nil }

func (s *fakeShim) Open(idOrEmpty string) error {
	s.opened = true
	return nil
}

func (s *fakeShim) SupportedFormats() ([]FormatSpec, error) { return s.formats, nil }

func (s *fakeShim) Configure(width, height int, fps float64, format PixelFormat) (int, int, float64, PixelFormat, error) {
	return width, height, fps, format, nil
}

func (s *fakeShim) Start(sink SampleSink) error {
	s.sink = sink
	return nil
}

func (s *fakeShim) Stop() error  { return nil }
func (s *fakeShim) Close() error { s.opened = false; return nil }

func (s *fakeShim) OnDisconnect(cb func(error)) { s.disconnectCb = cb }

// deliverI420 synthesizes one I420 sample and hands it to the orchestrator's
// sink, simulating what the real capture thread would do for each arriving
// native buffer.
func (s *fakeShim) deliverI420(width, height int) {
	y := make([]byte, width*height)
	u := make([]byte, (width/2)*(height/2))
	v := make([]byte, (width/2)*(height/2))
	for i := range y {
		y[i] = 16
	}
	s.sink([3][]byte{y, u, v}, [3]int{width, width / 2, width / 2}, width, height, I420, time.Now().UnixNano())
}

func newStartedTestProvider(t *testing.T, formats []FormatSpec) (*Provider, *fakeShim) {
	t.Helper()
	p := NewProvider(nil)
	p.shimFactory = newFakeShimFactory(formats)

	if err := p.OpenByName(""); err != nil {
		t.Fatalf("OpenByName: %v", err)
	}
	p.Set(PropWidth, 4)
	p.Set(PropHeight, 2)
	p.Set(PropPixelFormat, float64(uint32(I420)))
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	shim := p.shim.(*fakeShim)
	return p, shim
}

func nativeI420Formats() []FormatSpec {
	return []FormatSpec{{PixelFormat: I420, Width: 4, Height: 2, FPSMin: 1, FPSMax: 30}}
}

// TestProviderMonotonicFrameIndex verifies §8's "monotonic frame index"
// property: consecutive Grab results carry strictly increasing FrameIndex
// values.
func TestProviderMonotonicFrameIndex(t *testing.T) {
	p, shim := newStartedTestProvider(t, nativeI420Formats())
	defer p.Close()

	for i := 0; i < 3; i++ {
		shim.deliverI420(4, 2)
	}

	var last uint64
	first := true
	for i := 0; i < 3; i++ {
		f, ok := p.Grab(1000)
		if !ok {
			t.Fatalf("Grab %d: expected a frame", i)
		}
		if !first && f.FrameIndex <= last {
			t.Errorf("FrameIndex[%d] = %d, want > %d", i, f.FrameIndex, last)
		}
		last = f.FrameIndex
		first = false
		f.Release()
	}
}

// TestProviderZeroCopyWhenFormatNative verifies §8's zero-copy contract:
// when the requested format is natively supported, no in-place conversion
// runs and the delivered frame's pixel format is unchanged.
func TestProviderZeroCopyWhenFormatNative(t *testing.T) {
	p, shim := newStartedTestProvider(t, nativeI420Formats())
	defer p.Close()

	shim.deliverI420(4, 2)
	f, ok := p.Grab(1000)
	if !ok {
		t.Fatal("expected a frame")
	}
	defer f.Release()

	if !f.IsZeroCopy() {
		t.Error("expected a zero-copy frame when the requested format is natively supported")
	}
	if f.PixelFormat != I420 {
		t.Errorf("PixelFormat = %s, want I420 (no conversion should have run)", f.PixelFormat)
	}
	if f.Data[0] == nil || f.Data[1] == nil || f.Data[2] == nil {
		t.Error("expected all three I420 planes to be populated")
	}
}

// TestProviderForceConvertsToRequestedFormat exercises end-to-end scenario 2
// from §8: requesting BGRA32_Force against a device that only delivers
// I420 causes every delivered frame to be converted in place.
func TestProviderForceConvertsToRequestedFormat(t *testing.T) {
	p := NewProvider(nil)
	p.shimFactory = newFakeShimFactory(nativeI420Formats())

	if err := p.OpenByName(""); err != nil {
		t.Fatalf("OpenByName: %v", err)
	}
	p.Set(PropWidth, 4)
	p.Set(PropHeight, 2)
	p.Set(PropPixelFormat, float64(uint32(BGRA32.WithForce())))
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	shim := p.shim.(*fakeShim)
	shim.deliverI420(4, 2)

	f, ok := p.Grab(1000)
	if !ok {
		t.Fatal("expected a frame")
	}
	defer f.Release()

	if f.PixelFormat != BGRA32 {
		t.Errorf("PixelFormat = %s, want BGRA32", f.PixelFormat)
	}
	if f.IsZeroCopy() {
		t.Error("expected a converted (non-zero-copy) frame")
	}
	if f.Data[1] != nil || f.Data[2] != nil {
		t.Error("expected chroma planes cleared on a packed conversion target")
	}
}

// TestProviderCallbackConsumedSemantics verifies §8's callback
// consumed-return-value contract: a callback returning true consumes the
// frame (the next Grab sees nothing new); returning false leaves it for the
// next Grab.
func TestProviderCallbackConsumedSemantics(t *testing.T) {
	p, shim := newStartedTestProvider(t, nativeI420Formats())
	defer p.Close()

	seen := make(chan uint64, 4)
	consumeNext := make(chan bool, 4)
	p.SetNewFrameCallback(func(f Frame) bool {
		seen <- f.FrameIndex
		return <-consumeNext
	})

	shim.deliverI420(4, 2)
	idx := <-seen
	consumeNext <- false // leave it in the queue

	f, ok := p.Grab(1000)
	if !ok {
		t.Fatal("expected the declined frame back via Grab")
	}
	if f.FrameIndex != idx {
		t.Errorf("Grab returned frame %d, want the declined frame %d", f.FrameIndex, idx)
	}
	f.Release()

	shim.deliverI420(4, 2)
	idx2 := <-seen
	consumeNext <- true // consume it

	if _, ok := p.Grab(50); ok {
		t.Error("expected no frame via Grab after the callback consumed it")
	}
	_ = idx2
}

// TestProviderStopUnblocksGrab verifies §8's "stop unblocks grab" property:
// a goroutine blocked in Grab(infinite) returns within a bounded time of
// Stop being called.
func TestProviderStopUnblocksGrab(t *testing.T) {
	p, _ := newStartedTestProvider(t, nativeI420Formats())
	defer p.Close()

	done := make(chan bool, 1)
	go func() {
		_, ok := p.Grab(-1)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Grab to return ok=false after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock a pending Grab")
	}
}

// TestProviderSetRefusedWhileStarted verifies §4.3: a property change is
// refused once the device is Started.
func TestProviderSetRefusedWhileStarted(t *testing.T) {
	p, _ := newStartedTestProvider(t, nativeI420Formats())
	defer p.Close()

	if p.Set(PropWidth, 640) {
		t.Error("expected Set to be refused while Started")
	}
}

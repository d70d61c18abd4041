package gocam

import (
	"bytes"
	"context"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"golang.org/x/sync/singleflight"
)

// Orchestrator states, per §4.2's lifecycle: Closed -> Opened -> Started ->
// Opened -> Closed. Disconnection during Started folds back to Opened, same
// as an explicit Stop.
type providerState int

const (
	stateClosed providerState = iota
	stateOpened
	stateStarted
)

func (s providerState) String() string {
	switch s {
	case stateOpened:
		return "Opened"
	case stateStarted:
		return "Started"
	default:
		return "Closed"
	}
}

type providerTrigger int

const (
	triggerOpen providerTrigger = iota
	triggerClose
	triggerStart
	triggerStop
	triggerDisconnect
)

// Property identifies one of the Provider's negotiable capture parameters,
// per §6's get/set table.
type Property int

const (
	PropWidth Property = iota
	PropHeight
	PropFrameRate
	PropPixelFormat
)

// grabResult is the value shared by concurrent Grab callers through
// singleflight.
type grabResult struct {
	frame Frame
	ok    bool
}

// Provider is the opaque capture handle, per §6. One Provider owns at most
// one open device at a time; it is safe for concurrent use by multiple
// goroutines the way the teacher's channel-based StartStream was, except
// Provider additionally supports the callback-delivery and grab-polling
// consumption models side by side (§5).
type Provider struct {
	mu  sync.Mutex
	log Logger
	// sessionLog is log tagged with the current open session's id (see
	// sessionID below); it's what every log call during an open session
	// uses, so lines from successive or concurrent sessions can be told
	// apart. It's reset to the plain log on construction and re-tagged on
	// every open().
	sessionLog Logger
	sm         *stateless.StateMachine

	shimFactory func() PlatformShim
	shim        PlatformShim

	pool  *FramePool
	queue *ReadyQueue

	allocatorFactory  func() Allocator
	pendingMaxCache   int
	pendingMaxAvail   int

	reqWidth, reqHeight int
	reqFPS              float64
	reqFormat           PixelFormat

	effWidth, effHeight int
	effFPS              float64
	effFormat           PixelFormat
	converting          bool
	convertTarget       PixelFormat

	frameIndex uint64
	sessionID  uuid.UUID

	callback           func(Frame) bool
	disconnectCallback func(error)

	deliveryStop chan struct{}
	deliveryDone chan struct{}
	inCallback   atomic.Bool
	deliveryGID  atomic.Uint64

	grabGroup singleflight.Group

	isOpened  atomic.Bool
	isStarted atomic.Bool
}

// NewProvider returns a closed Provider. log may be nil, in which case
// logging is a no-op.
func NewProvider(log Logger) *Provider {
	if log == nil {
		log = noopLogger{}
	}
	p := &Provider{
		log:             log,
		sessionLog:      log,
		shimFactory:     newPlatformShim,
		queue:           NewReadyQueue(log),
		pendingMaxCache: defaultMaxCacheSize,
		pendingMaxAvail: defaultMaxAvailable,
		reqWidth:        352,
		reqHeight:       288,
		reqFPS:          30,
		reqFormat:       I420,
	}
	p.sm = stateless.NewStateMachine(stateClosed)
	p.sm.Configure(stateClosed).
		Permit(triggerOpen, stateOpened)
	p.sm.Configure(stateOpened).
		Permit(triggerStart, stateStarted).
		Permit(triggerClose, stateClosed)
	p.sm.Configure(stateStarted).
		Permit(triggerStop, stateOpened).
		Permit(triggerDisconnect, stateOpened)
	return p
}

func (p *Provider) currentState() providerState {
	s, err := p.sm.State(context.Background())
	if err != nil {
		return stateClosed
	}
	return s.(providerState)
}

// FindDeviceNames enumerates capture devices without opening any of them,
// real devices first, per §6.
func FindDeviceNames() ([]string, error) {
	shim := newPlatformShim()
	defer shim.Close()
	devices, err := shim.EnumerateDevices()
	if err != nil {
		return nil, newErr(ErrDeviceNotFound, "enumerate devices", err)
	}
	sortDevicesRealFirst(devices)
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = d.Name
	}
	return names, nil
}

// OpenByName opens the named device, or the first (real-device-preferred)
// device if name is empty, per §6.
func (p *Provider) OpenByName(name string) error {
	return p.open(func(devices []DeviceInfo) (string, error) {
		sortDevicesRealFirst(devices)
		if name == "" {
			if len(devices) == 0 {
				return "", newErr(ErrDeviceNotFound, "no capture devices available", nil)
			}
			return devices[0].ID, nil
		}
		for _, d := range devices {
			if d.Name == name || d.ID == name {
				return d.ID, nil
			}
		}
		return "", newErr(ErrDeviceNotFound, "no device named "+name, nil)
	})
}

// OpenByIndex opens the device at index into the real-first-sorted
// enumeration, clamping index into range rather than failing, per §6.
func (p *Provider) OpenByIndex(index int) error {
	return p.open(func(devices []DeviceInfo) (string, error) {
		sortDevicesRealFirst(devices)
		if len(devices) == 0 {
			return "", newErr(ErrDeviceNotFound, "no capture devices available", nil)
		}
		if index < 0 {
			index = 0
		}
		if index >= len(devices) {
			index = len(devices) - 1
		}
		return devices[index].ID, nil
	})
}

func (p *Provider) open(pick func([]DeviceInfo) (string, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() != stateClosed {
		return newErr(ErrInvalidState, "open called while not closed", nil)
	}

	shim := p.shimFactory()
	devices, err := shim.EnumerateDevices()
	if err != nil {
		return newErr(ErrDeviceNotFound, "enumerate devices", err)
	}
	id, err := pick(devices)
	if err != nil {
		return err
	}
	if err := shim.Open(id); err != nil {
		return newErr(ErrOpenFailed, "open device "+id, err)
	}
	shim.OnDisconnect(p.handleDisconnect)

	p.shim = shim
	p.frameIndex = 0
	p.sessionID = uuid.New()
	p.sessionLog = withSession(p.log, p.sessionID.String())
	p.queue.log = p.sessionLog
	if p.pool != nil {
		p.pool.log = p.sessionLog
	}

	if err := p.sm.Fire(triggerOpen); err != nil {
		shim.Close()
		p.shim = nil
		return newErr(ErrInvalidState, "state transition to Opened", err)
	}
	p.isOpened.Store(true)
	return nil
}

// Close stops capture if running and releases the device. Idempotent when
// already closed, per §6.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.currentState() {
	case stateClosed:
		return nil
	case stateStarted:
		p.stopLocked()
	}

	if p.shim != nil {
		p.shim.Close()
		p.shim = nil
	}
	p.isOpened.Store(false)
	return p.sm.Fire(triggerClose)
}

// Start negotiates a format/resolution against the device's supported list
// (§4.3) and begins delivering samples.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() != stateOpened {
		return newErr(ErrInvalidState, "start called while not opened", nil)
	}

	formats, err := p.shim.SupportedFormats()
	if err != nil {
		return newErr(ErrInitializationFailed, "query supported formats", err)
	}

	nativeFormat, convert, convertTarget := negotiateFormat(p.reqFormat, formats)

	var candidates []FormatSpec
	for _, f := range formats {
		if f.PixelFormat.WithoutForce() == nativeFormat {
			candidates = append(candidates, f)
		}
	}
	chosen, ok := chooseResolution(p.reqWidth, p.reqHeight, candidates)
	if !ok {
		return newErr(ErrFormatUnsupported, "no supported resolution for negotiated format", nil)
	}

	effW, effH, effFPS, effFormat, err := p.shim.Configure(chosen.Width, chosen.Height, p.reqFPS, nativeFormat)
	if err != nil {
		return newErr(ErrInitializationFailed, "configure device", err)
	}

	p.effWidth, p.effHeight, p.effFPS, p.effFormat = effW, effH, effFPS, effFormat
	p.converting = convert
	p.convertTarget = convertTarget

	if p.pool == nil {
		p.pool = NewFramePool(p.sessionLog, p.allocatorFactory)
		p.pool.SetMaxCacheSize(p.pendingMaxCache)
	}
	p.queue.SetMaxAvailable(p.pendingMaxAvail)
	p.queue.Reopen()

	if err := p.shim.Start(p.onSample); err != nil {
		return newErr(ErrInitializationFailed, "start device", err)
	}

	if err := p.sm.Fire(triggerStart); err != nil {
		p.shim.Stop()
		return newErr(ErrInvalidState, "state transition to Started", err)
	}
	p.isStarted.Store(true)

	if p.callback != nil {
		p.startDeliveryThreadLocked()
	}
	return nil
}

// Stop halts sample delivery and returns to Opened, per §6.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentState() != stateStarted {
		return newErr(ErrInvalidState, "stop called while not started", nil)
	}
	return p.stopLocked()
}

// stopLocked performs the Started->Opened transition; callers hold p.mu.
func (p *Provider) stopLocked() error {
	p.isStarted.Store(false)
	if p.shim != nil {
		p.shim.Stop()
	}
	p.queue.Stop()
	p.stopDeliveryThreadLocked()
	p.queue.Flush()
	return p.sm.Fire(triggerStop)
}

// handleDisconnect is the shim's OnDisconnect callback; it may run on the
// shim's own native thread, per §4.4.
func (p *Provider) handleDisconnect(cause error) {
	p.mu.Lock()
	if p.currentState() != stateStarted {
		p.mu.Unlock()
		return
	}
	p.sessionLog.Error("capture device disconnected", "error", cause)
	p.isStarted.Store(false)
	p.queue.Stop()
	p.stopDeliveryThreadLocked()
	p.queue.Flush()
	p.sm.Fire(triggerDisconnect)
	cb := p.disconnectCallback
	p.mu.Unlock()

	if cb != nil {
		cb(newErr(ErrDeviceDisconnected, "device disconnected", cause))
	}
}

// negotiateFormat implements §4.3's three-step pixel format negotiation.
func negotiateFormat(req PixelFormat, formats []FormatSpec) (native PixelFormat, convert bool, convertTarget PixelFormat) {
	want := req.WithoutForce()

	for _, f := range formats {
		if f.PixelFormat.WithoutForce() == want {
			return want, false, 0
		}
	}

	if req.IsForced() {
		if chosen, ok := chooseFormatForForce(req, formats); ok {
			return chosen, true, want
		}
	}

	if len(formats) > 0 {
		return formats[0].PixelFormat.WithoutForce(), false, 0
	}
	return want, false, 0
}

// onSample is the SampleSink passed to the shim; it runs on the shim's
// capture thread (§4.4, §5): acquire a pool slot, populate the Frame,
// optionally convert in place, then push to the ready queue.
func (p *Provider) onSample(planes [3][]byte, strides [3]int, width, height int, format PixelFormat, timestampNs int64) {
	slot := p.pool.acquire()
	if slot == nil {
		return
	}

	idx := atomic.AddUint64(&p.frameIndex, 1) - 1

	size := 0
	for i := 0; i < format.PlaneCount(); i++ {
		size += len(planes[i])
	}

	frame := Frame{
		Data:        planes,
		Stride:      strides,
		PixelFormat: format,
		Width:       width,
		Height:      height,
		SizeInBytes: size,
		Timestamp:   timestampNs,
		FrameIndex:  idx,
		Allocator:   slot.allocator,
		Orientation: OrientationTopDown,
		zeroCopy:    true,
	}
	frame.ctrl = newFrameControl(func() { p.pool.release(slot) })

	if p.converting {
		if err := ConvertInPlace(&frame, p.convertTarget, false); err != nil {
			p.sessionLog.Warn("in-place conversion failed, dropping frame", "error", err)
			frame.Release()
			return
		}
	}

	p.queue.Push(frame)
}

// Grab pops the next ready frame, blocking up to timeoutMs (negative means
// Infinite). Concurrent Grab calls are coalesced through a singleflight
// group: spec allows either a Busy error or undefined ordering for
// concurrent callers, and this implementation chooses "share one pop's
// result" (§6, §9).
func (p *Provider) Grab(timeoutMs int) (Frame, bool) {
	if p.isInCallbackOnThisGoroutine() {
		p.sessionLog.Warn("grab called from within the frame callback; returning no frame to avoid deadlock")
		return Frame{}, false
	}
	if !p.isStarted.Load() {
		return Frame{}, false
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs < 0 {
		timeout = Infinite
	}

	v, _, _ := p.grabGroup.Do("grab", func() (interface{}, error) {
		f, ok := p.queue.Pop(timeout)
		return grabResult{f, ok}, nil
	})
	r := v.(grabResult)
	return r.frame, r.ok
}

// SetNewFrameCallback installs (or, with fn == nil, removes) the push-style
// delivery callback described in §5/§6. The callback runs on a dedicated
// delivery goroutine; returning false from it leaves the frame at the head
// of the ready queue for the next grab.
func (p *Provider) SetNewFrameCallback(fn func(Frame) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = fn
	switch {
	case fn != nil && p.isStarted.Load():
		p.startDeliveryThreadLocked()
	case fn == nil:
		p.stopDeliveryThreadLocked()
	}
}

// SetDisconnectCallback installs an out-of-band notification for device
// loss, supplementing §6's grab/callback surface with the error-reporting
// path §9 calls for ("error token delivered out-of-band").
func (p *Provider) SetDisconnectCallback(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCallback = fn
}

// SetFrameAllocator installs the Allocator factory used for newly created
// pool slots. Must be called before the first Start: the frame pool is built
// on that Start with the factory current at the time and is kept for the
// Provider's lifetime (Close does not rebuild it), so a later call has no
// effect.
func (p *Provider) SetFrameAllocator(factory func() Allocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocatorFactory = factory
}

// SetMaxAvailableFrameSize sets the ready queue depth (§4.2).
func (p *Provider) SetMaxAvailableFrameSize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingMaxAvail = n
	p.queue.SetMaxAvailable(n)
}

// SetMaxCacheFrameSize sets the frame pool's slot ceiling (§4.1).
func (p *Provider) SetMaxCacheFrameSize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingMaxCache = n
	if p.pool != nil {
		p.pool.SetMaxCacheSize(n)
	}
}

// Set applies a capture parameter, returning false if it cannot be applied
// in the current state (properties are fixed once Started, per §6: a
// restart is required to change them).
func (p *Provider) Set(prop Property, value float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentState() == stateStarted {
		p.sessionLog.Warn("property change refused while started; stop and restart to apply", "property", prop)
		return false
	}

	switch prop {
	case PropWidth:
		p.reqWidth = int(value)
	case PropHeight:
		p.reqHeight = int(value)
	case PropFrameRate:
		p.reqFPS = value
	case PropPixelFormat:
		p.reqFormat = PixelFormat(uint32(value))
	default:
		return false
	}
	return true
}

// Get returns the effective (post-negotiation) value of prop if started, or
// the requested value otherwise. Returns NaN for an unknown property.
func (p *Provider) Get(prop Property) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := p.currentState() == stateStarted
	switch prop {
	case PropWidth:
		if started {
			return float64(p.effWidth)
		}
		return float64(p.reqWidth)
	case PropHeight:
		if started {
			return float64(p.effHeight)
		}
		return float64(p.reqHeight)
	case PropFrameRate:
		if started {
			return p.effFPS
		}
		return p.reqFPS
	case PropPixelFormat:
		if started {
			return float64(uint32(p.effFormat))
		}
		return float64(uint32(p.reqFormat))
	default:
		return math.NaN()
	}
}

// IsOpened reports whether the Provider currently holds an open device.
func (p *Provider) IsOpened() bool { return p.isOpened.Load() }

// IsStarted reports whether the Provider is currently streaming samples.
func (p *Provider) IsStarted() bool { return p.isStarted.Load() }

// startDeliveryThreadLocked starts the callback-delivery goroutine; callers
// hold p.mu.
func (p *Provider) startDeliveryThreadLocked() {
	if p.deliveryDone != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.deliveryStop = stop
	p.deliveryDone = done

	go func() {
		defer close(done)
		p.deliveryGID.Store(currentGoroutineID())
		for {
			f, ok := p.queue.popForDelivery(Infinite)
			if !ok {
				return
			}
			select {
			case <-stop:
				f.Release()
				return
			default:
			}

			p.inCallback.Store(true)
			consumed := p.callback(f)
			p.inCallback.Store(false)

			if consumed {
				f.Release()
			} else {
				p.queue.Park(f)
			}
		}
	}()
}

// stopDeliveryThreadLocked stops the callback-delivery goroutine if running;
// callers hold p.mu.
func (p *Provider) stopDeliveryThreadLocked() {
	if p.deliveryDone == nil {
		return
	}
	close(p.deliveryStop)
	p.queue.Stop()
	done := p.deliveryDone
	p.deliveryDone = nil
	p.mu.Unlock()
	<-done
	p.mu.Lock()
}

// isInCallbackOnThisGoroutine detects the reentrant Grab-from-within-
// callback case called out in §6/§9 as a documented deadlock risk, so Grab
// can refuse instead of blocking forever.
func (p *Provider) isInCallbackOnThisGoroutine() bool {
	if !p.inCallback.Load() {
		return false
	}
	return currentGoroutineID() == p.deliveryGID.Load()
}

// currentGoroutineID extracts the running goroutine's id from its stack
// trace header ("goroutine 123 [running]:..."). It is a heuristic, not a
// supported Go API, used only to avoid the reentrant-callback deadlock
// above; nothing else in this package depends on goroutine identity.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		if id, err := strconv.ParseUint(string(b[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

package gocam

import (
	"sort"
	"strings"
)

// SampleSink is how a PlatformShim hands a decoded sample to the
// orchestrator. It runs on the shim's own capture thread; the orchestrator
// must not assume any particular thread identity when it is called (§4.4,
// §5).
type SampleSink func(planes [3][]byte, strides [3]int, width, height int, format PixelFormat, timestampNs int64)

// DeviceInfo is one entry of a device enumeration.
type DeviceInfo struct {
	ID      string
	Name    string
	Virtual bool
}

// FormatSpec is one entry of a shim's supported-format list.
type FormatSpec struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	FPSMin      float64
	FPSMax      float64
}

// PlatformShim is the abstract contract the orchestrator drives to talk to
// any one native backend (§4.4). Exactly one implementation is compiled in,
// selected by build tag: shim_linux.go (V4L2), shim_darwin.go
// (AVFoundation), shim_windows.go (Media Foundation). The shim owns its
// native handles and its own capture thread; the orchestrator holds it by a
// single owning handle.
type PlatformShim interface {
	EnumerateDevices() ([]DeviceInfo, error)
	Open(idOrEmpty string) error
	SupportedFormats() ([]FormatSpec, error)
	Configure(width, height int, fps float64, format PixelFormat) (effWidth, effHeight int, effFPS float64, effFormat PixelFormat, err error)
	Start(sink SampleSink) error
	Stop() error
	Close() error
	OnDisconnect(cb func(error))
}

// virtualKeywords flags a device name as virtual using the heuristic from
// §6: a name containing any of these substrings (case-insensitive) is
// treated as virtual and sorted after real devices.
var virtualKeywords = []string{"obs", "virtual", "fake"}

func isVirtualDeviceName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range virtualKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sortDevicesRealFirst stable-sorts devices so all real devices precede all
// virtual ones, preserving each group's relative order, per §6's
// find_device_names contract.
func sortDevicesRealFirst(devices []DeviceInfo) {
	sort.SliceStable(devices, func(i, j int) bool {
		return !devices[i].Virtual && devices[j].Virtual
	})
}

// chooseResolution snaps a requested width/height to the candidate that best
// satisfies §4.3: prefer a candidate where both dimensions meet or exceed
// the request; among those, the one with the smallest total pixel count;
// if none meet or exceed, fall back to the closest total pixel count
// overall.
func chooseResolution(reqW, reqH int, candidates []FormatSpec) (FormatSpec, bool) {
	if len(candidates) == 0 {
		return FormatSpec{}, false
	}

	reqTotal := reqW * reqH
	bestCoverIdx := -1
	bestCoverTotal := 0
	bestAnyIdx := 0
	bestAnyDiff := abs(candidates[0].Width*candidates[0].Height - reqTotal)

	for i, c := range candidates {
		total := c.Width * c.Height
		if c.Width >= reqW && c.Height >= reqH {
			if bestCoverIdx == -1 || total < bestCoverTotal {
				bestCoverIdx = i
				bestCoverTotal = total
			}
		}
		if d := abs(total - reqTotal); d < bestAnyDiff {
			bestAnyDiff = d
			bestAnyIdx = i
		}
	}

	if bestCoverIdx != -1 {
		return candidates[bestCoverIdx], true
	}
	return candidates[bestAnyIdx], true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// chooseFormatForForce picks the native format closest to target when the
// force bit requires the converter to bridge the gap: same family first,
// then NV12f/NV12v, then BGRA32/BGR24, per §4.3 step 2.
func chooseFormatForForce(target PixelFormat, native []FormatSpec) (PixelFormat, bool) {
	if len(native) == 0 {
		return 0, false
	}
	want := target.WithoutForce()

	seen := map[PixelFormat]bool{}
	var families []PixelFormat
	for _, f := range native {
		pf := f.PixelFormat.WithoutForce()
		if !seen[pf] {
			seen[pf] = true
			families = append(families, pf)
		}
	}

	for _, pf := range families {
		if pf.Family() == want.Family() {
			return pf, true
		}
	}
	preference := []PixelFormat{NV12f, NV12v, BGRA32, BGR24}
	for _, want := range preference {
		if seen[want] {
			return want, true
		}
	}
	return families[0], true
}

//go:build gocam_capi

// Package capi is the pure C surface mirroring the Go Provider API (§6's
// "Public API and C shim"), built only with the gocam_capi tag so that pure
// Go consumers never pay for cgo. Opaque handles are runtime/cgo.Handle
// values cast to uintptr, the idiomatic Go replacement for a hand-rolled
// handle table.
package capi

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
    uint8_t *planes[3];
    int strides[3];
    int width, height;
    unsigned int pixel_format;
    long long timestamp_ns;
    unsigned long long frame_index;
} gocam_frame;
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/camstack/gocam"
)

//export gocam_new_provider
func gocam_new_provider() C.uintptr_t {
	p := gocam.NewProvider(nil)
	return C.uintptr_t(cgo.NewHandle(p))
}

func providerOf(h C.uintptr_t) *gocam.Provider {
	return cgo.Handle(h).Value().(*gocam.Provider)
}

//export gocam_free_provider
func gocam_free_provider(h C.uintptr_t) {
	p := providerOf(h)
	p.Close()
	cgo.Handle(h).Delete()
}

//export gocam_open_by_name
func gocam_open_by_name(h C.uintptr_t, name *C.char) C.int {
	n := ""
	if name != nil {
		n = C.GoString(name)
	}
	if err := providerOf(h).OpenByName(n); err != nil {
		return -1
	}
	return 0
}

//export gocam_open_by_index
func gocam_open_by_index(h C.uintptr_t, index C.int) C.int {
	if err := providerOf(h).OpenByIndex(int(index)); err != nil {
		return -1
	}
	return 0
}

//export gocam_close
func gocam_close(h C.uintptr_t) C.int {
	if err := providerOf(h).Close(); err != nil {
		return -1
	}
	return 0
}

//export gocam_start
func gocam_start(h C.uintptr_t) C.int {
	if err := providerOf(h).Start(); err != nil {
		return -1
	}
	return 0
}

//export gocam_stop
func gocam_stop(h C.uintptr_t) C.int {
	if err := providerOf(h).Stop(); err != nil {
		return -1
	}
	return 0
}

//export gocam_is_opened
func gocam_is_opened(h C.uintptr_t) C.int { return boolToCInt(providerOf(h).IsOpened()) }

//export gocam_is_started
func gocam_is_started(h C.uintptr_t) C.int { return boolToCInt(providerOf(h).IsStarted()) }

func boolToCInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

//export gocam_set
func gocam_set(h C.uintptr_t, prop C.int, value C.double) C.int {
	return boolToCInt(providerOf(h).Set(gocam.Property(prop), float64(value)))
}

//export gocam_get
func gocam_get(h C.uintptr_t, prop C.int) C.double {
	return C.double(providerOf(h).Get(gocam.Property(prop)))
}

//export gocam_set_max_available_frame_size
func gocam_set_max_available_frame_size(h C.uintptr_t, n C.int) {
	providerOf(h).SetMaxAvailableFrameSize(int(n))
}

//export gocam_set_max_cache_frame_size
func gocam_set_max_cache_frame_size(h C.uintptr_t, n C.int) {
	providerOf(h).SetMaxCacheFrameSize(int(n))
}

// gocam_grab pops the next ready frame into out, returning a frame handle
// (>= 0) to pass to gocam_release_frame when done with it, or -1 if none
// was available within timeoutMs. out's plane pointers are only valid until
// that release call, mirroring the Go Frame.Release contract in C terms.
//
//export gocam_grab
func gocam_grab(h C.uintptr_t, timeoutMs C.int, out *C.gocam_frame) C.int {
	f, ok := providerOf(h).Grab(int(timeoutMs))
	if !ok {
		return -1
	}
	fillCFrame(out, f)
	return C.int(cgo.NewHandle(f))
}

//export gocam_release_frame
func gocam_release_frame(frameHandle C.int) {
	h := cgo.Handle(frameHandle)
	f := h.Value().(gocam.Frame)
	f.Release()
	h.Delete()
}

func fillCFrame(out *C.gocam_frame, f gocam.Frame) {
	out.width = C.int(f.Width)
	out.height = C.int(f.Height)
	out.pixel_format = C.uint(uint32(f.PixelFormat))
	out.timestamp_ns = C.longlong(f.Timestamp)
	out.frame_index = C.ulonglong(f.FrameIndex)
	for i := 0; i < 3; i++ {
		out.strides[i] = C.int(f.Stride[i])
		if len(f.Data[i]) > 0 {
			out.planes[i] = (*C.uint8_t)(unsafe.Pointer(&f.Data[i][0]))
		} else {
			out.planes[i] = nil
		}
	}
}

//export gocam_find_device_names
func gocam_find_device_names(count *C.int) **C.char {
	names, err := gocam.FindDeviceNames()
	if err != nil {
		*count = 0
		return nil
	}
	*count = C.int(len(names))
	arr := C.malloc(C.size_t(len(names)) * C.size_t(unsafe.Sizeof(uintptr(0))))
	slice := unsafe.Slice((**C.char)(arr), len(names))
	for i, n := range names {
		slice[i] = C.CString(n)
	}
	return (**C.char)(arr)
}

//export gocam_free_device_names
func gocam_free_device_names(arr **C.char, count C.int) {
	slice := unsafe.Slice(arr, int(count))
	for _, s := range slice {
		C.free(unsafe.Pointer(s))
	}
	C.free(unsafe.Pointer(arr))
}

//go:build windows

package gocam

/*
#cgo windows CFLAGS: -DUNICODE -D_UNICODE
#cgo windows LDFLAGS: -lole32 -lmfplat -lmf -lmfreadwrite -lmfuuid -lmfcore

#include <windows.h>
#include <mfapi.h>
#include <mfidl.h>
#include <mfreadwrite.h>
#include <mfobjects.h>
#include <mferror.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>

#ifdef __MINGW32__
static HRESULT MFSetAttributeSizeCompat(void *obj, REFGUID guidKey, UINT32 width, UINT32 height) {
    UINT64 v = ((UINT64)width << 32) | (UINT64)height;
    IMFAttributes *attr = (IMFAttributes *)obj;
    return attr->lpVtbl->SetUINT64(attr, guidKey, v);
}
#define MFSetAttributeSize MFSetAttributeSizeCompat
#endif

// Native sample subtypes this shim negotiates, mirrored onto the Go
// PixelFormat families the conversion engine understands.
typedef enum { GOCAM_FMT_NONE = 0, GOCAM_FMT_NV12 = 1, GOCAM_FMT_RGB32 = 2 } gocam_native_fmt;

static CRITICAL_SECTION gLock;
static int gLockInit = 0;
static IMFSourceReader *gReader = NULL;
static IMFActivate *gActivated = NULL;

static BYTE *gBuf = NULL;
static int gBufSize = 0;
static LONG gStride = 0;
static LONG gW = 0, gH = 0;
static gocam_native_fmt gFormat = GOCAM_FMT_NONE;
static int gReady = 0;
static int gEnded = 0;
static LONGLONG gTimestamp100ns = 0;

static void gcam_init_lock() {
    if (!gLockInit) { InitializeCriticalSection(&gLock); gLockInit = 1; }
}

// EnumerateDeviceCount / DescribeDevice expose MFEnumDeviceSources the same
// way the teacher's single-device StartCapture picked "the first available
// camera", generalized to a full enumeration per §4.4.
static IMFActivate **gDevices = NULL;
static UINT32 gDeviceCount = 0;

int EnumerateDeviceCount() {
    gcam_init_lock();
    CoInitializeEx(NULL, COINIT_MULTITHREADED);
    MFStartup(MF_VERSION, MFSTARTUP_NOSOCKET);

    if (gDevices) {
        for (UINT32 i = 0; i < gDeviceCount; i++) if (gDevices[i]) gDevices[i]->lpVtbl->Release(gDevices[i]);
        CoTaskMemFree(gDevices);
        gDevices = NULL;
        gDeviceCount = 0;
    }

    IMFAttributes *attr = NULL;
    HRESULT hr = MFCreateAttributes(&attr, 1);
    if (FAILED(hr)) return 0;
    attr->lpVtbl->SetGUID(attr, &MF_DEVSOURCE_ATTRIBUTE_SOURCE_TYPE, &MF_DEVSOURCE_ATTRIBUTE_SOURCE_TYPE_VIDCAP_GUID);

    hr = MFEnumDeviceSources(attr, &gDevices, &gDeviceCount);
    attr->lpVtbl->Release(attr);
    if (FAILED(hr)) return 0;
    return (int)gDeviceCount;
}

int DescribeDevice(int index, WCHAR *nameBuf, int nameLen) {
    if (index < 0 || (UINT32)index >= gDeviceCount || !gDevices) return -1;
    WCHAR *name = NULL;
    UINT32 len = 0;
    HRESULT hr = gDevices[index]->lpVtbl->GetAllocatedString(gDevices[index], &MF_DEVSOURCE_ATTRIBUTE_FRIENDLY_NAME, &name, &len);
    if (FAILED(hr)) return -1;
    wcsncpy(nameBuf, name, nameLen - 1);
    nameBuf[nameLen - 1] = 0;
    CoTaskMemFree(name);
    return 0;
}

// OpenDevice binds gReader to the device at index, or device 0 if index<0.
HRESULT OpenDevice(int index) {
    if (!gDevices || gDeviceCount == 0) return E_FAIL;
    if (index < 0 || (UINT32)index >= gDeviceCount) index = 0;

    IMFMediaSource *source = NULL;
    HRESULT hr = gDevices[index]->lpVtbl->ActivateObject(gDevices[index], &IID_IMFMediaSource, (void **)&source);
    if (FAILED(hr)) return hr;

    IMFAttributes *readerAttr = NULL;
    MFCreateAttributes(&readerAttr, 1);

    hr = MFCreateSourceReaderFromMediaSource(source, readerAttr, &gReader);
    if (readerAttr) readerAttr->lpVtbl->Release(readerAttr);
    source->lpVtbl->Release(source);
    return hr;
}

// StartCapture negotiates NV12 first, RGB32 on fallback, matching the
// family-first-then-downgrade order SupportedFormats advertises.
HRESULT StartCapture(int wantWidth, int wantHeight) {
    if (!gReader) return E_FAIL;

    IMFMediaType *want = NULL;
    MFCreateMediaType(&want);
    want->lpVtbl->SetGUID(want, &MF_MT_MAJOR_TYPE, &MFMediaType_Video);
    want->lpVtbl->SetGUID(want, &MF_MT_SUBTYPE, &MFVideoFormat_NV12);
    MFSetAttributeSize(want, &MF_MT_FRAME_SIZE, (UINT32)wantWidth, (UINT32)wantHeight);

    HRESULT hr = gReader->lpVtbl->SetCurrentMediaType(gReader, (DWORD)MF_SOURCE_READER_FIRST_VIDEO_STREAM, NULL, want);
    want->lpVtbl->Release(want);
    gFormat = GOCAM_FMT_NV12;

    if (FAILED(hr)) {
        MFCreateMediaType(&want);
        want->lpVtbl->SetGUID(want, &MF_MT_MAJOR_TYPE, &MFMediaType_Video);
        want->lpVtbl->SetGUID(want, &MF_MT_SUBTYPE, &MFVideoFormat_RGB32);
        MFSetAttributeSize(want, &MF_MT_FRAME_SIZE, (UINT32)wantWidth, (UINT32)wantHeight);
        hr = gReader->lpVtbl->SetCurrentMediaType(gReader, (DWORD)MF_SOURCE_READER_FIRST_VIDEO_STREAM, NULL, want);
        want->lpVtbl->Release(want);
        gFormat = GOCAM_FMT_RGB32;
    }
    if (FAILED(hr)) return hr;

    IMFMediaType *actual = NULL;
    hr = gReader->lpVtbl->GetCurrentMediaType(gReader, (DWORD)MF_SOURCE_READER_FIRST_VIDEO_STREAM, &actual);
    if (SUCCEEDED(hr)) {
        UINT64 v = 0;
        actual->lpVtbl->GetUINT64(actual, &MF_MT_FRAME_SIZE, &v);
        gW = (LONG)(v >> 32);
        gH = (LONG)(v & 0xFFFFFFFF);
        UINT32 stride = 0;
        if (FAILED(actual->lpVtbl->GetUINT32(actual, &MF_MT_DEFAULT_STRIDE, &stride)) || stride == 0) {
            stride = (gFormat == GOCAM_FMT_NV12) ? (UINT32)gW : (UINT32)gW * 4;
        }
        gStride = (LONG)stride;
        actual->lpVtbl->Release(actual);
    }

    gEnded = 0;
    return S_OK;
}

// PumpSample blocks for the next sample (bounded by Media Foundation's own
// internal timeout) and copies it into gBuf under gLock; 0 ok, <0 no more
// samples (stream ended or reader torn down).
int PumpSample() {
    if (!gReader) return -1;

    DWORD streamIndex, flags;
    LONGLONG ts;
    IMFSample *sample = NULL;
    HRESULT hr = gReader->lpVtbl->ReadSample(gReader, (DWORD)MF_SOURCE_READER_FIRST_VIDEO_STREAM, 0, &streamIndex, &flags, &ts, &sample);
    if (FAILED(hr)) return -1;
    if (flags & MF_SOURCE_READERF_ENDOFSTREAM) { gEnded = 1; return -1; }
    if (!sample) return -1;

    IMFMediaBuffer *buf = NULL;
    hr = sample->lpVtbl->ConvertToContiguousBuffer(sample, &buf);
    if (FAILED(hr)) { sample->lpVtbl->Release(sample); return -1; }

    BYTE *data = NULL;
    DWORD maxLen = 0, curLen = 0;
    hr = buf->lpVtbl->Lock(buf, &data, &maxLen, &curLen);
    if (SUCCEEDED(hr)) {
        EnterCriticalSection(&gLock);
        if (gBufSize < (int)curLen) {
            free(gBuf);
            gBuf = (BYTE *)malloc(curLen);
            gBufSize = (int)curLen;
        }
        if (gBuf) memcpy(gBuf, data, curLen);
        gTimestamp100ns = ts;
        gReady = 1;
        LeaveCriticalSection(&gLock);
        buf->lpVtbl->Unlock(buf);
    }
    buf->lpVtbl->Release(buf);
    sample->lpVtbl->Release(sample);
    return 0;
}

int GetFrame(int *format, int *w, int *h, int *stride, int64_t *ts100ns) {
    EnterCriticalSection(&gLock);
    if (!gReady) { LeaveCriticalSection(&gLock); return -1; }
    *format = (int)gFormat;
    *w = (int)gW; *h = (int)gH; *stride = (int)gStride;
    *ts100ns = (int64_t)gTimestamp100ns;
    gReady = 0;
    LeaveCriticalSection(&gLock);
    return 0;
}

void CopyFrame(uint8_t *dst, int size) {
    EnterCriticalSection(&gLock);
    if (gBuf && dst && size <= gBufSize) memcpy(dst, gBuf, (size_t)size);
    LeaveCriticalSection(&gLock);
}

void StopCapture() {
    if (gReader) { gReader->lpVtbl->Release(gReader); gReader = NULL; }
    EnterCriticalSection(&gLock);
    free(gBuf); gBuf = NULL; gBufSize = 0; gReady = 0;
    LeaveCriticalSection(&gLock);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// This file is the windows PlatformShim, grounded on the teacher's
// capture_windows.go (not shipped in this tree): the same
// IMFSourceReader / Media Foundation cgo plumbing and the MinGW
// MFSetAttributeSize compatibility shim, generalized from a single
// hardcoded-CIF global reader into PlatformShim's per-instance,
// configurable-format negotiation (§4.4). The teacher's in-C conversion of
// every subtype (NV12/YUY2/UYVY/RGB32/RGB24) down to packed YCbCr444 is
// replaced with negotiating only NV12 and RGB32 -- both families the Go
// conversion engine already understands -- and passing them through
// untouched; see DESIGN.md.
type windowsShim struct {
	mu           sync.Mutex
	opened       bool
	started      bool
	disconnectCb func(error)
	stopPump     chan struct{}
	donePump     chan struct{}
}

func newPlatformShim() PlatformShim { return &windowsShim{} }

func (s *windowsShim) EnumerateDevices() ([]DeviceInfo, error) {
	n := int(C.EnumerateDeviceCount())
	devices := make([]DeviceInfo, 0, n)
	nameBuf := make([]uint16, 256)
	for i := 0; i < n; i++ {
		if C.DescribeDevice(C.int(i), (*C.WCHAR)(unsafe.Pointer(&nameBuf[0])), C.int(len(nameBuf))) != 0 {
			continue
		}
		name := utf16ToString(nameBuf)
		devices = append(devices, DeviceInfo{ID: fmt.Sprintf("%d", i), Name: name, Virtual: isVirtualDeviceName(name)})
	}
	return devices, nil
}

func utf16ToString(buf []uint16) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	runes := make([]rune, n)
	for i := 0; i < n; i++ {
		runes[i] = rune(buf[i])
	}
	return string(runes)
}

func (s *windowsShim) Open(idOrEmpty string) error {
	index := -1
	if idOrEmpty != "" {
		fmt.Sscanf(idOrEmpty, "%d", &index)
	}
	if hr := C.OpenDevice(C.int(index)); hr != 0 {
		return fmt.Errorf("OpenDevice failed, hr=0x%x", uint32(hr))
	}
	s.opened = true
	return nil
}

// SupportedFormats reports the two negotiable native families with a fixed
// resolution ladder, for the same reason darwin's shim does: Media
// Foundation's discrete-capability enumeration is a second, much larger API
// surface this shim does not need for §4.3's negotiation to function.
func (s *windowsShim) SupportedFormats() ([]FormatSpec, error) {
	sizes := [][2]int{{640, 480}, {1280, 720}, {1920, 1080}}
	var specs []FormatSpec
	for _, sz := range sizes {
		specs = append(specs,
			FormatSpec{PixelFormat: NV12v, Width: sz[0], Height: sz[1], FPSMin: 1, FPSMax: 30},
			FormatSpec{PixelFormat: BGRA32, Width: sz[0], Height: sz[1], FPSMin: 1, FPSMax: 30},
		)
	}
	return specs, nil
}

func (s *windowsShim) Configure(width, height int, fps float64, format PixelFormat) (int, int, float64, PixelFormat, error) {
	if hr := C.StartCapture(C.int(width), C.int(height)); hr != 0 {
		return 0, 0, 0, 0, fmt.Errorf("StartCapture failed, hr=0x%x", uint32(hr))
	}
	s.started = true
	return width, height, fps, format, nil
}

func (s *windowsShim) Start(sink SampleSink) error {
	s.mu.Lock()
	s.stopPump = make(chan struct{})
	s.donePump = make(chan struct{})
	stop, done := s.stopPump, s.donePump
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if C.PumpSample() != 0 {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			s.deliver(sink)
		}
	}()
	return nil
}

func (s *windowsShim) deliver(sink SampleSink) {
	var format, w, h, stride C.int
	var ts100ns C.int64_t
	if C.GetFrame(&format, &w, &h, &stride, &ts100ns) != 0 {
		return
	}
	ns := int64(ts100ns) * 100

	switch int(format) {
	case 1: // GOCAM_FMT_NV12
		ySize := int(stride) * int(h)
		uvSize := int(stride) * ((int(h) + 1) / 2)
		buf := make([]byte, ySize+uvSize)
		C.CopyFrame((*C.uint8_t)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
		sink([3][]byte{buf[:ySize], buf[ySize:], nil}, [3]int{int(stride), int(stride), 0}, int(w), int(h), NV12v, ns)
	case 2: // GOCAM_FMT_RGB32 (byte order matches BGRA32 in this engine's model)
		size := int(stride) * int(h)
		buf := make([]byte, size)
		C.CopyFrame((*C.uint8_t)(unsafe.Pointer(&buf[0])), C.int(size))
		sink([3][]byte{buf, nil, nil}, [3]int{int(stride), 0, 0}, int(w), int(h), BGRA32, ns)
	}
}

func (s *windowsShim) Stop() error {
	s.mu.Lock()
	stop, done := s.stopPump, s.donePump
	s.mu.Unlock()
	if done != nil {
		close(stop)
		<-done
	}
	C.StopCapture()
	s.started = false
	return nil
}

func (s *windowsShim) Close() error {
	if s.started {
		s.Stop()
	}
	s.opened = false
	return nil
}

func (s *windowsShim) OnDisconnect(cb func(error)) { s.disconnectCb = cb }

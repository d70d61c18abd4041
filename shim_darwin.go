//go:build darwin

package gocam

/*
#cgo darwin CFLAGS: -x objective-c -fobjc-arc -fmodules
#cgo darwin LDFLAGS: -framework AVFoundation -framework CoreMedia -framework CoreVideo -framework Foundation

#import <AVFoundation/AVFoundation.h>
#import <CoreMedia/CoreMedia.h>
#import <CoreVideo/CoreVideo.h>
#import <stdlib.h>
#import <string.h>

// Native sample formats this shim negotiates, mapped 1:1 onto the Go
// PixelFormat families the conversion engine understands. kCVPixelFormatType
// _444YpCbCr8 (which the teacher preferred) has no family in that model, so
// it is intentionally not requested here; see DESIGN.md.
typedef enum { GOCAM_FMT_NONE = 0, GOCAM_FMT_NV12 = 1, GOCAM_FMT_BGRA32 = 2 } gocam_native_fmt;

static AVCaptureSession *gSession;
static AVCaptureDevice *gDevice;
static dispatch_queue_t gQueue;
static NSLock *gLock;

static uint8_t *gPlaneY;
static uint8_t *gPlaneUV;
static uint8_t *gPlanePacked;
static int gStrideY, gStrideUV, gStridePacked;
static int gWidth, gHeight;
static gocam_native_fmt gFormat;
static int gFrameReady;
static int64_t gTimestampNs;

@interface GoFrameDelegate : NSObject<AVCaptureVideoDataOutputSampleBufferDelegate>
@end

@implementation GoFrameDelegate
- (void)captureOutput:(AVCaptureOutput *)output
 didOutputSampleBuffer:(CMSampleBufferRef)sampleBuffer
        fromConnection:(AVCaptureConnection *)connection
{
    CVImageBufferRef img = CMSampleBufferGetImageBuffer(sampleBuffer);
    if (!img) return;

    CVPixelBufferLockBaseAddress(img, kCVPixelBufferLock_ReadOnly);
    size_t w = CVPixelBufferGetWidth(img);
    size_t h = CVPixelBufferGetHeight(img);
    OSType fmt = CVPixelBufferGetPixelFormatType(img);
    if (w == 0 || h == 0) {
        CVPixelBufferUnlockBaseAddress(img, kCVPixelBufferLock_ReadOnly);
        return;
    }

    CMTime pts = CMSampleBufferGetPresentationTimeStamp(sampleBuffer);
    int64_t ns = (int64_t)(CMTimeGetSeconds(pts) * 1e9);

    [gLock lock];

    if (fmt == kCVPixelFormatType_420YpCbCr8BiPlanarFullRange ||
        fmt == kCVPixelFormatType_420YpCbCr8BiPlanarVideoRange) {
        if (CVPixelBufferGetPlaneCount(img) < 2) { [gLock unlock]; goto done; }

        uint8_t *srcY = (uint8_t *)CVPixelBufferGetBaseAddressOfPlane(img, 0);
        size_t strideY = CVPixelBufferGetBytesPerRowOfPlane(img, 0);
        uint8_t *srcUV = (uint8_t *)CVPixelBufferGetBaseAddressOfPlane(img, 1);
        size_t strideUV = CVPixelBufferGetBytesPerRowOfPlane(img, 1);
        size_t uvRows = (h + 1) / 2;

        size_t needY = strideY * h;
        size_t needUV = strideUV * uvRows;
        free(gPlaneY); free(gPlaneUV); free(gPlanePacked);
        gPlaneY = (uint8_t *)malloc(needY);
        gPlaneUV = (uint8_t *)malloc(needUV);
        gPlanePacked = NULL;
        if (gPlaneY && gPlaneUV) {
            memcpy(gPlaneY, srcY, needY);
            memcpy(gPlaneUV, srcUV, needUV);
            gStrideY = (int)strideY;
            gStrideUV = (int)strideUV;
            gWidth = (int)w;
            gHeight = (int)h;
            gFormat = GOCAM_FMT_NV12;
            gTimestampNs = ns;
            gFrameReady = 1;
        }
    } else if (fmt == kCVPixelFormatType_32BGRA) {
        uint8_t *src = (uint8_t *)CVPixelBufferGetBaseAddress(img);
        size_t stride = CVPixelBufferGetBytesPerRow(img);
        size_t need = stride * h;

        free(gPlaneY); free(gPlaneUV); free(gPlanePacked);
        gPlaneY = NULL; gPlaneUV = NULL;
        gPlanePacked = (uint8_t *)malloc(need);
        if (gPlanePacked) {
            memcpy(gPlanePacked, src, need);
            gStridePacked = (int)stride;
            gWidth = (int)w;
            gHeight = (int)h;
            gFormat = GOCAM_FMT_BGRA32;
            gTimestampNs = ns;
            gFrameReady = 1;
        }
    }

    [gLock unlock];
done:
    CVPixelBufferUnlockBaseAddress(img, kCVPixelBufferLock_ReadOnly);
}
@end

static GoFrameDelegate *gDelegate;

int EnumerateDeviceCount() {
    NSArray<AVCaptureDevice *> *devices = [AVCaptureDevice devicesWithMediaType:AVMediaTypeVideo];
    return (int)devices.count;
}

// DescribeDevice copies the index'th device's uniqueID and localizedName
// into caller-supplied buffers, NUL-terminated, truncating if too long.
int DescribeDevice(int index, char *idBuf, int idLen, char *nameBuf, int nameLen) {
    NSArray<AVCaptureDevice *> *devices = [AVCaptureDevice devicesWithMediaType:AVMediaTypeVideo];
    if (index < 0 || index >= (int)devices.count) return -1;
    AVCaptureDevice *dev = devices[index];
    strlcpy(idBuf, dev.uniqueID.UTF8String, (size_t)idLen);
    strlcpy(nameBuf, dev.localizedName.UTF8String, (size_t)nameLen);
    return 0;
}

// OpenDevice binds gDevice to the device with the given uniqueID, or the
// system default if idOrEmpty is empty.
int OpenDevice(const char *idOrEmpty) {
    @autoreleasepool {
        AVCaptureDevice *dev = nil;
        if (idOrEmpty && strlen(idOrEmpty) > 0) {
            dev = [AVCaptureDevice deviceWithUniqueID:[NSString stringWithUTF8String:idOrEmpty]];
        } else {
            dev = [AVCaptureDevice defaultDeviceWithMediaType:AVMediaTypeVideo];
        }
        if (!dev) return -1;
        gDevice = dev;
        gLock = [NSLock new];
        return 0;
    }
}

// StartCapture configures and starts gSession against gDevice, preferring
// NV12 (video range) and falling back to BGRA32. 0 ok, <0 error.
int StartCapture(int wantWidth, int wantHeight) {
    @autoreleasepool {
        if (!gDevice) return -1;

        NSError *err = nil;
        AVCaptureDeviceInput *input = [AVCaptureDeviceInput deviceInputWithDevice:gDevice error:&err];
        if (err || !input) return -2;

        AVCaptureSession *session = [[AVCaptureSession alloc] init];
        if (!session) return -3;

        [session beginConfiguration];
        if (wantWidth >= 1280 && wantHeight >= 720 && [session canSetSessionPreset:AVCaptureSessionPreset1280x720]) {
            session.sessionPreset = AVCaptureSessionPreset1280x720;
        } else if ([session canSetSessionPreset:AVCaptureSessionPreset640x480]) {
            session.sessionPreset = AVCaptureSessionPreset640x480;
        }

        if (![session canAddInput:input]) return -4;
        [session addInput:input];

        AVCaptureVideoDataOutput *out = [[AVCaptureVideoDataOutput alloc] init];
        OSType chosen = kCVPixelFormatType_420YpCbCr8BiPlanarVideoRange;
        NSArray<NSNumber *> *available = out.availableVideoCVPixelFormatTypes;
        BOOL haveNV12 = NO;
        for (NSNumber *num in available) {
            if ((OSType)num.unsignedIntValue == kCVPixelFormatType_420YpCbCr8BiPlanarVideoRange) { haveNV12 = YES; break; }
        }
        if (!haveNV12) chosen = kCVPixelFormatType_32BGRA;

        out.videoSettings = @{ (id)kCVPixelBufferPixelFormatTypeKey : @(chosen) };
        out.alwaysDiscardsLateVideoFrames = YES;

        gDelegate = [GoFrameDelegate new];
        gQueue = dispatch_queue_create("gocam.capture", DISPATCH_QUEUE_SERIAL);
        [out setSampleBufferDelegate:gDelegate queue:gQueue];

        if (![session canAddOutput:out]) return -5;
        [session addOutput:out];

        [session commitConfiguration];
        [session startRunning];
        gSession = session;
    }
    return 0;
}

void StopCapture() {
    @autoreleasepool {
        if (gSession) {
            [gSession stopRunning];
            gSession = nil;
        }
        [gLock lock];
        free(gPlaneY); free(gPlaneUV); free(gPlanePacked);
        gPlaneY = NULL; gPlaneUV = NULL; gPlanePacked = NULL;
        gFrameReady = 0;
        [gLock unlock];
        gDelegate = nil;
        gQueue = nil;
    }
}

void CloseDevice() {
    gDevice = nil;
    gLock = nil;
}

// GetFrame reports the currently buffered sample's shape; 0 ok, -1 none
// ready yet.
int GetFrame(int *format, int *w, int *h, int *strideY, int *strideUV, int64_t *ts) {
    if (!gLock) return -1;
    [gLock lock];
    if (!gFrameReady) { [gLock unlock]; return -1; }
    *format = (int)gFormat;
    *w = gWidth; *h = gHeight;
    *strideY = (gFormat == GOCAM_FMT_NV12) ? gStrideY : gStridePacked;
    *strideUV = gStrideUV;
    *ts = gTimestampNs;
    gFrameReady = 0;
    [gLock unlock];
    return 0;
}

// CopyPlanes copies the most recently reported sample's plane(s) into
// caller-supplied buffers, sized by the caller from GetFrame's strides.
void CopyPlanes(uint8_t *yOrPacked, uint8_t *uv, int ySize, int uvSize) {
    [gLock lock];
    if (gPlaneY && yOrPacked) memcpy(yOrPacked, gPlaneY, (size_t)ySize);
    if (gPlaneUV && uv) memcpy(uv, gPlaneUV, (size_t)uvSize);
    if (gPlanePacked && yOrPacked) memcpy(yOrPacked, gPlanePacked, (size_t)ySize);
    [gLock unlock];
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

// This file is the darwin PlatformShim, grounded on the teacher's
// capture_macos.go (not shipped in this tree): the same
// AVCaptureSession / AVCaptureVideoDataOutput / GoFrameDelegate cgo
// structure, generalized from a single hardcoded-CIF global pipeline into
// the PlatformShim's per-instance, configurable-format contract (§4.4). The
// teacher's in-C conversion to packed YCbCr444 is replaced with passing NV12
// or BGRA32 straight through to the Go conversion engine, since both are
// families the engine already understands -- the double memcpy the teacher
// used to marshal out of the delegate's callback is kept, since
// CVPixelBuffer's backing memory is only valid for the duration of the
// delegate call.

type darwinShim struct {
	mu           sync.Mutex
	opened       bool
	started      bool
	disconnectCb func(error)
	stopPoll     chan struct{}
	donePoll     chan struct{}
}

func newPlatformShim() PlatformShim { return &darwinShim{} }

func (s *darwinShim) EnumerateDevices() ([]DeviceInfo, error) {
	n := int(C.EnumerateDeviceCount())
	devices := make([]DeviceInfo, 0, n)
	idBuf := make([]byte, 256)
	nameBuf := make([]byte, 256)
	for i := 0; i < n; i++ {
		rc := C.DescribeDevice(C.int(i), (*C.char)(unsafe.Pointer(&idBuf[0])), C.int(len(idBuf)), (*C.char)(unsafe.Pointer(&nameBuf[0])), C.int(len(nameBuf)))
		if rc != 0 {
			continue
		}
		id := C.GoString((*C.char)(unsafe.Pointer(&idBuf[0])))
		name := C.GoString((*C.char)(unsafe.Pointer(&nameBuf[0])))
		devices = append(devices, DeviceInfo{ID: id, Name: name, Virtual: isVirtualDeviceName(name)})
	}
	return devices, nil
}

func (s *darwinShim) Open(idOrEmpty string) error {
	var cid *C.char
	if idOrEmpty != "" {
		cid = C.CString(idOrEmpty)
		defer C.free(unsafe.Pointer(cid))
	}
	if rc := C.OpenDevice(cid); rc != 0 {
		return fmt.Errorf("open device %q failed, rc=%d", idOrEmpty, int(rc))
	}
	s.opened = true
	return nil
}

// SupportedFormats reports the two native families this shim negotiates;
// AVFoundation does not expose a cheap discrete resolution/fps enumeration
// ahead of starting a session the way V4L2 does, so a small fixed ladder of
// common resolutions is reported instead (§4.3 only needs candidates to pick
// among, not an exhaustive device capability dump).
func (s *darwinShim) SupportedFormats() ([]FormatSpec, error) {
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

func (s *darwinShim) Configure(width, height int, fps float64, format PixelFormat) (int, int, float64, PixelFormat, error) {
	if rc := C.StartCapture(C.int(width), C.int(height)); rc != 0 {
		return 0, 0, 0, 0, fmt.Errorf("AVCaptureSession configuration failed, rc=%d", int(rc))
	}
	// StartCapture both configures and starts the session; Start (below) just
	// begins the Go-side polling loop. Stop undoes both halves together.
	s.started = true
	return width, height, fps, format, nil
}

func (s *darwinShim) Start(sink SampleSink) error {
	s.mu.Lock()
	s.stopPoll = make(chan struct{})
	s.donePoll = make(chan struct{})
	stop, done := s.stopPoll, s.donePoll
	s.mu.Unlock()

	go func() {
		defer close(done)
		var format, w, h, strideY, strideUV C.int
		var ts C.int64_t
		for {
			select {
			case <-stop:
				return
			default:
			}
			if C.GetFrame(&format, &w, &h, &strideY, &strideUV, &ts) != 0 {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			s.deliver(sink, int(format), int(w), int(h), int(strideY), int(strideUV), int64(ts))
		}
	}()
	return nil
}

func (s *darwinShim) deliver(sink SampleSink, format, w, h, strideY, strideUV int, ts int64) {
	switch format {
	case 1: // GOCAM_FMT_NV12
		ySize := strideY * h
		uvSize := strideUV * ((h + 1) / 2)
		y := make([]byte, ySize)
		uv := make([]byte, uvSize)
		C.CopyPlanes((*C.uint8_t)(unsafe.Pointer(&y[0])), (*C.uint8_t)(unsafe.Pointer(&uv[0])), C.int(ySize), C.int(uvSize))
		sink([3][]byte{y, uv, nil}, [3]int{strideY, strideUV, 0}, w, h, NV12v, ts)
	case 2: // GOCAM_FMT_BGRA32
		size := strideY * h
		packed := make([]byte, size)
		C.CopyPlanes((*C.uint8_t)(unsafe.Pointer(&packed[0])), nil, C.int(size), 0)
		sink([3][]byte{packed, nil, nil}, [3]int{strideY, 0, 0}, w, h, BGRA32, ts)
	}
}

func (s *darwinShim) Stop() error {
	s.mu.Lock()
	stop, done := s.stopPoll, s.donePoll
	s.mu.Unlock()
	if done != nil {
		close(stop)
		<-done
	}
	C.StopCapture()
	s.started = false
	return nil
}

func (s *darwinShim) Close() error {
	if s.started {
		s.Stop()
	}
	if s.opened {
		C.CloseDevice()
		s.opened = false
	}
	return nil
}

func (s *darwinShim) OnDisconnect(cb func(error)) { s.disconnectCb = cb }

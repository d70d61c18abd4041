//go:build linux

package gocam

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// This file is the Linux PlatformShim, grounded on the teacher's
// capture_linux.go (not shipped in this tree): the same
// VIDIOC_* ioctl plumbing and mmap buffer management, generalized from a
// single hardcoded CIF/YUV24 pipeline into the configurable
// width/height/fps/PixelFormat negotiation §4.3/§4.4 require. Raw
// syscall.Syscall(SYS_IOCTL, ...) is replaced with golang.org/x/sys/unix,
// following go4vl's v4l2 ioctl style
// (_examples/other_examples, v4l2-streaming.go.go).

const (
	v4l2BufTypeVideoCapture = 1
	v4l2FieldAny            = 0
	v4l2MemoryMMap          = 1
)

const (
	v4l2PixFmtRGB24 = 0x33424752 // 'RGB3'
	v4l2PixFmtBGR24 = 0x33524742 // 'BGR3'
	v4l2PixFmtYUYV  = 0x56595559 // 'YUYV'
	v4l2PixFmtNV12  = 0x3231564E // 'NV12'
	v4l2PixFmtYUV420 = 0x32315559 // 'YU12' (I420)
)

const (
	v4l2CapVideoCapture = 0x00000001
	v4l2CapStreaming    = 0x04000000
	v4l2CapDeviceCaps   = 0x80000000
)

const (
	v4l2FrmsizeTypeDiscrete = 1
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	Pixelformat  uint32
	Field        uint32
	Bytesperline uint32
	Sizeimage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

type v4l2Format struct {
	Type uint32
	_    [4]byte
	fmt  [200]byte
}

type v4l2RequestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	Reserved [2]uint32
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	Bytesused uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	Offset    uint32
	_         uint32
	Length    uint32
	Reserved2 uint32
	Reserved  uint32
}

type v4l2Fmtdesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	Pixelformat uint32
	Reserved    [4]uint32
}

type v4l2Frmsizeenum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	Union       [24]byte
	Reserved    [2]uint32
}

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}
func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

var (
	vidiocQuerycap        = ior(uintptr('V'), 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt         = iowr(uintptr('V'), 2, unsafe.Sizeof(v4l2Fmtdesc{}))
	vidiocSFmt            = iowr(uintptr('V'), 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs         = iowr(uintptr('V'), 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf        = iowr(uintptr('V'), 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf            = iowr(uintptr('V'), 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf           = iowr(uintptr('V'), 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn        = iow(uintptr('V'), 18, unsafe.Sizeof(uint32(0)))
	vidiocStreamOff       = iow(uintptr('V'), 19, unsafe.Sizeof(uint32(0)))
	vidiocEnumFramesizes  = iowr(uintptr('V'), 74, unsafe.Sizeof(v4l2Frmsizeenum{}))
)

// ioctlPtr issues a V4L2 ioctl taking a pointer argument, the same way the
// teacher's raw syscall.Syscall(SYS_IOCTL, ...) call did, but through
// golang.org/x/sys/unix.
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func v4l2CString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func v4l2FourCCFromPixelFormat(pf PixelFormat) []uint32 {
	switch pf.Family() {
	case FamilyI420:
		return []uint32{v4l2PixFmtYUV420, v4l2PixFmtNV12, v4l2PixFmtYUYV}
	case FamilyNV12, FamilyNV21:
		return []uint32{v4l2PixFmtNV12, v4l2PixFmtYUV420, v4l2PixFmtYUYV}
	case FamilyBGR:
		return []uint32{v4l2PixFmtBGR24, v4l2PixFmtRGB24}
	default:
		return []uint32{v4l2PixFmtRGB24, v4l2PixFmtBGR24}
	}
}

func pixelFormatFromV4L2FourCC(fourcc uint32) (PixelFormat, bool) {
	switch fourcc {
	case v4l2PixFmtYUV420:
		return I420, true
	case v4l2PixFmtNV12:
		return NV12, true
	case v4l2PixFmtYUYV:
		return I420, true // delivered after in-shim YUYV->I420 conversion
	case v4l2PixFmtRGB24:
		return RGB24, true
	case v4l2PixFmtBGR24:
		return BGR24, true
	default:
		return 0, false
	}
}

type mappedBuffer struct {
	data []byte
}

// linuxShim implements PlatformShim over a single /dev/videoN node.
type linuxShim struct {
	mu sync.Mutex

	fd      int
	devPath string
	caps    v4l2Capability

	width, height uint32
	stride        int
	fourcc        uint32

	buffers   []mappedBuffer
	streaming bool

	sink         SampleSink
	disconnectCb func(error)

	stopCh chan struct{}
	doneCh chan struct{}
}

func newPlatformShim() PlatformShim { return &linuxShim{fd: -1} }

func (s *linuxShim) EnumerateDevices() ([]DeviceInfo, error) {
	paths, _ := filepath.Glob("/dev/video*")
	sort.Strings(paths)

	var devices []DeviceInfo
	for _, path := range paths {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
		if err != nil {
			continue
		}
		var caps v4l2Capability
		err = ioctlPtr(fd, vidiocQuerycap, unsafe.Pointer(&caps))
		unix.Close(fd)
		if err != nil {
			continue
		}
		capsToCheck := caps.Capabilities
		if capsToCheck&v4l2CapDeviceCaps != 0 {
			capsToCheck = caps.DeviceCaps
		}
		if capsToCheck&v4l2CapVideoCapture == 0 {
			continue
		}
		name := v4l2CString(caps.Card[:])
		if name == "" {
			name = path
		}
		devices = append(devices, DeviceInfo{ID: path, Name: name, Virtual: isVirtualDeviceName(name)})
	}
	return devices, nil
}

func (s *linuxShim) Open(idOrEmpty string) error {
	path := idOrEmpty
	if path == "" {
		path = "/dev/video0"
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var caps v4l2Capability
	if err := ioctlPtr(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd)
		return fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	capsToCheck := caps.Capabilities
	if capsToCheck&v4l2CapDeviceCaps != 0 {
		capsToCheck = caps.DeviceCaps
	}
	if capsToCheck&v4l2CapVideoCapture == 0 || capsToCheck&v4l2CapStreaming == 0 {
		unix.Close(fd)
		return fmt.Errorf("%s does not support streaming video capture", path)
	}

	s.fd = fd
	s.devPath = path
	s.caps = caps
	return nil
}

func (s *linuxShim) SupportedFormats() ([]FormatSpec, error) {
	var specs []FormatSpec

	for i := uint32(0); ; i++ {
		desc := v4l2Fmtdesc{Index: i, Type: v4l2BufTypeVideoCapture}
		if err := ioctlPtr(s.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			break
		}
		pf, ok := pixelFormatFromV4L2FourCC(desc.Pixelformat)
		if !ok {
			continue
		}

		any := false
		for j := uint32(0); ; j++ {
			fe := v4l2Frmsizeenum{Index: j, PixelFormat: desc.Pixelformat}
			if err := ioctlPtr(s.fd, vidiocEnumFramesizes, unsafe.Pointer(&fe)); err != nil {
				break
			}
			if fe.Type != v4l2FrmsizeTypeDiscrete {
				w := binary.LittleEndian.Uint32(fe.Union[4:8])
				h := binary.LittleEndian.Uint32(fe.Union[16:20])
				specs = append(specs, FormatSpec{PixelFormat: pf, Width: int(w), Height: int(h), FPSMin: 1, FPSMax: 30})
				any = true
				break
			}
			w := binary.LittleEndian.Uint32(fe.Union[0:4])
			h := binary.LittleEndian.Uint32(fe.Union[4:8])
			specs = append(specs, FormatSpec{PixelFormat: pf, Width: int(w), Height: int(h), FPSMin: 1, FPSMax: 30})
			any = true
		}
		if !any {
			specs = append(specs, FormatSpec{PixelFormat: pf, Width: 640, Height: 480, FPSMin: 1, FPSMax: 30})
		}
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no enumerable formats on %s", s.devPath)
	}
	return specs, nil
}

func (s *linuxShim) Configure(width, height int, fps float64, format PixelFormat) (int, int, float64, PixelFormat, error) {
	var lastErr error
	for _, fourcc := range v4l2FourCCFromPixelFormat(format) {
		f := v4l2Format{Type: v4l2BufTypeVideoCapture}
		pix := (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
		pix.Width = uint32(width)
		pix.Height = uint32(height)
		pix.Pixelformat = fourcc
		pix.Field = v4l2FieldAny

		if err := ioctlPtr(s.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
			lastErr = err
			continue
		}
		if pix.Pixelformat != fourcc {
			lastErr = fmt.Errorf("device substituted format 0x%x for 0x%x", pix.Pixelformat, fourcc)
			continue
		}

		s.width, s.height, s.fourcc = pix.Width, pix.Height, pix.Pixelformat
		s.stride = int(pix.Bytesperline)
		if s.stride == 0 {
			s.stride = v4l2DefaultStride(fourcc, int(pix.Width))
		}

		eff, _ := pixelFormatFromV4L2FourCC(fourcc)
		return int(pix.Width), int(pix.Height), fps, eff, nil
	}
	return 0, 0, 0, 0, fmt.Errorf("no acceptable format negotiated: %w", lastErr)
}

func v4l2DefaultStride(fourcc uint32, width int) int {
	switch fourcc {
	case v4l2PixFmtRGB24, v4l2PixFmtBGR24:
		return width * 3
	case v4l2PixFmtYUYV:
		return width * 2
	case v4l2PixFmtNV12, v4l2PixFmtYUV420:
		return width
	default:
		return width
	}
}

func (s *linuxShim) Start(sink SampleSink) error {
	req := v4l2RequestBuffers{Count: 4, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap}
	if err := ioctlPtr(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	if req.Count < 2 {
		return fmt.Errorf("insufficient buffers: %d", req.Count)
	}

	buffers := make([]mappedBuffer, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap, Index: i}
		if err := ioctlPtr(s.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF %d: %w", i, err)
		}
		data, err := unix.Mmap(s.fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		buffers[i] = mappedBuffer{data: data}
		if err := ioctlPtr(s.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QBUF %d: %w", i, err)
		}
	}

	bufType := uint32(v4l2BufTypeVideoCapture)
	if err := ioctlPtr(s.fd, vidiocStreamOn, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}

	s.buffers = buffers
	s.streaming = true
	s.sink = sink
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.captureLoop()
	return nil
}

func (s *linuxShim) captureLoop() {
	defer close(s.doneCh)

	width, height, stride, fourcc := int(s.width), int(s.height), s.stride, s.fourcc
	pf, _ := pixelFormatFromV4L2FourCC(fourcc)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMMap}
		if err := ioctlPtr(s.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
			if err == unix.EAGAIN {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if s.disconnectCb != nil {
				s.disconnectCb(err)
			}
			return
		}

		if int(buf.Index) < len(s.buffers) {
			data := s.buffers[buf.Index].data
			sz := int(buf.Bytesused)
			if sz <= 0 || sz > len(data) {
				sz = len(data)
			}
			s.deliver(data[:sz], width, height, stride, fourcc, pf)
			ioctlPtr(s.fd, vidiocQBuf, unsafe.Pointer(&buf))
		}
	}
}

// deliver hands one decoded sample to the sink. YUYV is converted to I420
// here, since I420 is the nearest family in the engine's model; every other
// native format passes through untouched.
func (s *linuxShim) deliver(src []byte, width, height, stride int, fourcc uint32, pf PixelFormat) {
	ts := time.Now().UnixNano()

	switch fourcc {
	case v4l2PixFmtYUV420:
		ySize := stride * height
		cStride := stride / 2
		cSize := cStride * height / 2
		if ySize+2*cSize > len(src) {
			return
		}
		planes := [3][]byte{src[:ySize], src[ySize : ySize+cSize], src[ySize+cSize : ySize+2*cSize]}
		strides := [3]int{stride, cStride, cStride}
		s.sink(planes, strides, width, height, pf, ts)

	case v4l2PixFmtNV12:
		ySize := stride * height
		uvSize := stride * height / 2
		if ySize+uvSize > len(src) {
			return
		}
		planes := [3][]byte{src[:ySize], src[ySize : ySize+uvSize], nil}
		strides := [3]int{stride, stride, 0}
		s.sink(planes, strides, width, height, pf, ts)

	case v4l2PixFmtRGB24, v4l2PixFmtBGR24:
		if stride*height > len(src) {
			return
		}
		planes := [3][]byte{src[:stride*height], nil, nil}
		strides := [3]int{stride, 0, 0}
		s.sink(planes, strides, width, height, pf, ts)

	case v4l2PixFmtYUYV:
		y, u, v := yuyvToI420(src, width, height, stride)
		if y == nil {
			return
		}
		cStride := (width + 1) / 2
		planes := [3][]byte{y, u, v}
		strides := [3]int{width, cStride, cStride}
		s.sink(planes, strides, width, height, I420, ts)
	}
}

// yuyvToI420 box-filters 2x1 YUYV chroma samples down to 2x2 I420 chroma,
// averaging each pair of vertically adjacent rows.
func yuyvToI420(src []byte, width, height, stride int) (y, u, v []byte) {
	rowBytes := width * 2
	if rowBytes <= 0 || stride < rowBytes || stride*height > len(src) {
		return nil, nil, nil
	}

	cw, ch := (width+1)/2, (height+1)/2
	y = make([]byte, width*height)
	u = make([]byte, cw*ch)
	v = make([]byte, cw*ch)

	for row := 0; row < height; row++ {
		srcRow := src[row*stride : row*stride+rowBytes]
		for x := 0; x < width; x += 2 {
			si := x * 2
			if si+3 >= len(srcRow) {
				break
			}
			y[row*width+x] = srcRow[si]
			if x+1 < width {
				y[row*width+x+1] = srcRow[si+2]
			}
			ci := (row/2)*cw + x/2
			if row%2 == 0 {
				u[ci] = srcRow[si+1]
				v[ci] = srcRow[si+3]
			} else {
				u[ci] = byte((int(u[ci]) + int(srcRow[si+1]) + 1) / 2)
				v[ci] = byte((int(v[ci]) + int(srcRow[si+3]) + 1) / 2)
			}
		}
	}
	return y, u, v
}

func (s *linuxShim) Stop() error {
	if !s.streaming {
		return nil
	}
	close(s.stopCh)
	<-s.doneCh

	bufType := uint32(v4l2BufTypeVideoCapture)
	ioctlPtr(s.fd, vidiocStreamOff, unsafe.Pointer(&bufType))
	for _, b := range s.buffers {
		unix.Munmap(b.data)
	}
	s.buffers = nil
	s.streaming = false
	return nil
}

func (s *linuxShim) Close() error {
	if s.streaming {
		s.Stop()
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
		s.fd = -1
	}
	return nil
}

func (s *linuxShim) OnDisconnect(cb func(error)) { s.disconnectCb = cb }

//go:build gocam_cv

package gocam

import (
	"image"

	"gocv.io/x/gocv"
)

// MotionDetector wraps a background-subtraction motion algorithm over
// delivered frames, adapted from the ausocean-av filter package's MOG
// detector (there it ran over re-decoded JPEGs pulled off an encoder
// pipe; here it runs directly over an RGB-family Frame's bytes, so no
// IMDecode round trip is needed). Built only with the gocam_cv tag since
// it requires cgo and a system OpenCV install.
type MotionDetector struct {
	bs      gocv.BackgroundSubtractorMOG2
	knl     gocv.Mat
	minArea float64
}

// NewMotionDetector returns a MotionDetector using the Mixture-of-Gaussians
// background model. history and threshold are passed straight through to
// OpenCV's MOG2; minArea is the smallest contour (in pixels^2) that counts
// as motion rather than sensor noise.
func NewMotionDetector(minArea float64, history int, threshold float64) *MotionDetector {
	return &MotionDetector{
		bs:      gocv.NewBackgroundSubtractorMOG2WithParams(history, threshold, false),
		knl:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		minArea: minArea,
	}
}

// Close releases the cgo-backed OpenCV resources. Must be called exactly
// once; gocv.Mat and the background subtractor do not finalize themselves.
func (m *MotionDetector) Close() error {
	m.knl.Close()
	return m.bs.Close()
}

// Detect reports whether f contains motion against the running background
// model. f must be an RGB-family frame (BGR24/RGB24/RGBA32/BGRA32); convert
// a YUV-family frame with ConvertInPlace first. The frame's bytes are
// wrapped, not copied, so Detect must not be called concurrently with the
// frame's release.
func (m *MotionDetector) Detect(f Frame) (bool, error) {
	if !f.PixelFormat.IsRGBFamily() {
		return false, newErr(ErrConversionMisuse, "motion detection requires an RGB-family frame", nil)
	}
	ch := f.PixelFormat.BytesPerPixel()
	img, err := gocv.NewMatFromBytes(f.Height, f.Width, matTypeFor(ch), f.Data[0][:f.Height*f.Stride[0]])
	if err != nil {
		return false, newErr(ErrConversionMisuse, "wrap frame as Mat", err)
	}
	defer img.Close()

	fg := gocv.NewMat()
	defer fg.Close()
	m.bs.Apply(img, &fg)
	gocv.Erode(fg, &fg, m.knl)
	gocv.Dilate(fg, &fg, m.knl)

	contours := gocv.FindContours(fg, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) >= m.minArea {
			return true, nil
		}
	}
	return false, nil
}

func matTypeFor(bytesPerPixel int) gocv.MatType {
	if bytesPerPixel == 4 {
		return gocv.MatTypeCV8UC4
	}
	return gocv.MatTypeCV8UC3
}

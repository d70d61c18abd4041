package gocam

import "fmt"

// ConvertInPlace runs the in-place conversion engine against f, replacing
// its Data[0] with newly allocated memory holding the pixels reinterpreted
// as target, optionally flipped vertically. It implements the contract in
// §4.5:
//
//   - f.Data[0] must currently alias external (non-Allocator) memory; a
//     second in-place conversion on the same Frame is forbidden and returns
//     a ConversionMisuse error (debug builds additionally panic, matching
//     "Violation is a programmer error; debug builds must assert").
//   - f.Allocator is resized to the target's byte size and f.Data[0] is
//     reassigned to it; Data[1] and Data[2] are cleared for packed targets.
//   - On return, f.Allocator.Data()'s backing array is what f.Data[0] points
//     into.
func ConvertInPlace(f *Frame, target PixelFormat, flip bool) error {
	if !f.zeroCopy {
		if debugAsserts {
			panic("gocam: ConvertInPlace called twice on the same Frame")
		}
		return newErr(ErrConversionMisuse, "frame already converted in place", nil)
	}
	if f.Allocator == nil {
		return newErr(ErrConversionMisuse, "frame has no allocator", nil)
	}

	width, height := f.Width, f.Height
	dstCh := target.BytesPerPixel()
	dstStride := width * dstCh
	dstSize := dstStride * height

	if err := f.Allocator.Resize(dstSize); err != nil {
		return newErr(ErrConversionMisuse, "allocator resize failed", err)
	}
	dst := f.Allocator.Data()

	if err := runConversion(f, dst, dstStride, target, flip); err != nil {
		return err
	}

	f.Data[0] = dst
	f.Data[1] = nil
	f.Data[2] = nil
	f.Stride[0] = dstStride
	f.Stride[1] = 0
	f.Stride[2] = 0
	f.PixelFormat = target.WithoutForce()
	f.SizeInBytes = dstSize
	f.zeroCopy = false
	if flip {
		f.Orientation = flipOrientation(f.Orientation)
	}
	return nil
}

// debugAsserts gates the extra panic on conversion misuse. It mirrors the
// spec's "debug builds must assert" language; release callers get the
// ConversionMisuse error either way.
var debugAsserts = false

func SetDebugAsserts(v bool) { debugAsserts = v }

func flipOrientation(o Orientation) Orientation {
	if o == OrientationTopDown {
		return OrientationBottomUp
	}
	return OrientationTopDown
}

func runConversion(f *Frame, dst []byte, dstStride int, target PixelFormat, flip bool) error {
	src := f.PixelFormat
	dstCh := target.BytesPerPixel()
	dstBGR := target.IsBGROrder()
	accel := activeSIMDLevel() == simdAccelerated

	switch {
	case src.IsYUV():
		full := src.Range() == RangeFull
		switch src.Family() {
		case FamilyI420:
			y, u, v := f.Data[0], f.Data[1], f.Data[2]
			ys, us, vs := f.Stride[0], f.Stride[1], f.Stride[2]
			if accel {
				triplanarYUVToRGBAccel(dst, dstStride, y, ys, u, us, v, vs, f.Width, f.Height, full, dstBGR, dstCh, flip)
			} else {
				triplanarYUVToRGBScalar(dst, dstStride, y, ys, u, us, v, vs, f.Width, f.Height, full, dstBGR, dstCh, flip)
			}
			return nil
		case FamilyNV12, FamilyNV21:
			y, uv := f.Data[0], f.Data[1]
			ys, uvs := f.Stride[0], f.Stride[1]
			swapUV := src.Family() == FamilyNV21
			if accel {
				biplanarYUVToRGBAccel(dst, dstStride, y, ys, uv, uvs, f.Width, f.Height, swapUV, full, dstBGR, dstCh, flip)
			} else {
				biplanarYUVToRGBScalar(dst, dstStride, y, ys, uv, uvs, f.Width, f.Height, swapUV, full, dstBGR, dstCh, flip)
			}
			return nil
		}
		return newErr(ErrFormatUnsupported, fmt.Sprintf("no YUV conversion from %s", src), nil)

	case src.IsRGBFamily():
		perm, srcCh, alphaFill := shufflePerm(src.IsBGROrder(), dstBGR, src.HasAlpha(), target.HasAlpha())
		if accel {
			shuffleAccel(dst, f.Data[0], f.Stride[0], dstStride, f.Width, f.Height, srcCh, dstCh, perm, alphaFill, flip)
		} else {
			shuffleScalar(dst, f.Data[0], f.Stride[0], dstStride, f.Width, f.Height, srcCh, dstCh, perm, alphaFill, flip)
		}
		return nil
	}

	return newErr(ErrFormatUnsupported, fmt.Sprintf("no conversion path from %s to %s", src, target), nil)
}

// shufflePerm computes the per-destination-channel source index for a
// packed RGB-family-to-RGB-family shuffle. Canonical channel ids are
// 0=R,1=G,2=B; both the identity and full-reversal physical orderings are
// involutions, which is what makes RGBA->BGRA->RGBA reproduce the input
// exactly (§8).
func shufflePerm(srcBGR, dstBGR, srcAlpha, dstAlpha bool) (perm [4]int8, srcCh int, alphaFill byte) {
	srcPhysical := [3]int8{0, 1, 2}
	dstPhysical := [3]int8{0, 1, 2}
	if srcBGR {
		srcPhysical = [3]int8{2, 1, 0}
	}
	if dstBGR {
		dstPhysical = [3]int8{2, 1, 0}
	}
	for i := 0; i < 3; i++ {
		perm[i] = srcPhysical[dstPhysical[i]]
	}
	alphaFill = 0xFF
	if dstAlpha {
		if srcAlpha {
			perm[3] = 3
		} else {
			perm[3] = -1
		}
	}
	srcCh = 3
	if srcAlpha {
		srcCh = 4
	}
	return perm, srcCh, alphaFill
}

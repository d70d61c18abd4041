package gocam

// This file holds the "accelerated" kernels. On hosts where detectSIMD
// reports simdAccelerated, convert.go dispatches here instead of to
// convert_scalar.go. The real native library reaches this tier with AVX2
// intrinsics (x86) or Accelerate (arm64/macOS); this module has no access to
// a verified assembler in this environment, so the accelerated tier is
// implemented as portable Go that mirrors the native kernel's batching
// strategy -- fixed-width pixel groups driven by a precomputed permutation
// table, with a scalar tail -- rather than emitting unverified assembly. See
// DESIGN.md for the reasoning. Output is required to be bit-exact with the
// scalar path (§4.5, §8), which this structure guarantees since the per-
// pixel math is identical; only the loop shape differs.

// shuffleLanePixels3/4 are the vector-lane widths from §4.5: 8 output pixels
// per lane for 4-channel targets, 10 for 3-channel targets.
const (
	shuffleLanePixels4 = 8
	shuffleLanePixels3 = 10
)

// shuffleAccel is the accelerated counterpart of shuffleScalar: it processes
// whole lanes via the same precomputed perm table, then hands the remainder
// (less than one lane) to the scalar kernel.
func shuffleAccel(dst, src []byte, srcStride, dstStride, width, height, srcCh, dstCh int, perm [4]int8, alphaFill byte, flip bool) {
	lane := shuffleLanePixels3
	if dstCh == 4 {
		lane = shuffleLanePixels4
	}
	full := (width / lane) * lane

	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		srcRow := src[y*srcStride:]
		dstRowBuf := dst[dy*dstStride:]

		for x := 0; x < full; x += lane {
			for i := 0; i < lane; i++ {
				so := (x + i) * srcCh
				do := (x + i) * dstCh
				for c := 0; c < dstCh; c++ {
					p := perm[c]
					if p < 0 {
						dstRowBuf[do+c] = alphaFill
					} else {
						dstRowBuf[do+c] = srcRow[so+int(p)]
					}
				}
			}
		}

		if full < width {
			tailSrc := srcRow[full*srcCh : width*srcCh]
			tailDst := dstRowBuf[full*dstCh : width*dstCh]
			shuffleScalar(tailDst, tailSrc, width*srcCh, width*dstCh, width-full, 1, srcCh, dstCh, perm, alphaFill, false)
		}
	}
}

// biplanarYUVToRGBAccel is the lane-batched counterpart of
// biplanarYUVToRGBScalar.
func biplanarYUVToRGBAccel(dst []byte, dstStride int, yPlane []byte, yStride int, uvPlane []byte, uvStride int, width, height int, swapUV, full, bgrOrder bool, dstCh int, flip bool) {
	lane := shuffleLanePixels3
	if dstCh == 4 {
		lane = shuffleLanePixels4
	}
	fullWidth := (width / lane) * lane

	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		yRow := yPlane[y*yStride:]
		uvRow := uvPlane[(y/2)*uvStride:]
		dstRowBuf := dst[dy*dstStride:]

		for x := 0; x < fullWidth; x += lane {
			for i := 0; i < lane; i++ {
				px := x + i
				Y := int(yRow[px])
				a := int(uvRow[(px/2)*2])
				b := int(uvRow[(px/2)*2+1])
				u, v := a, b
				if swapUV {
					u, v = b, a
				}
				r, g, bl := yuvToRGBPixel(Y, u, v, full)
				writeRGBPixel(dstRowBuf, px*dstCh, r, g, bl, bgrOrder, dstCh)
			}
		}

		if fullWidth < width {
			for x := fullWidth; x < width; x++ {
				Y := int(yRow[x])
				a := int(uvRow[(x/2)*2])
				b := int(uvRow[(x/2)*2+1])
				u, v := a, b
				if swapUV {
					u, v = b, a
				}
				r, g, bl := yuvToRGBPixel(Y, u, v, full)
				writeRGBPixel(dstRowBuf, x*dstCh, r, g, bl, bgrOrder, dstCh)
			}
		}
	}
}

// triplanarYUVToRGBAccel is the lane-batched counterpart of
// triplanarYUVToRGBScalar.
func triplanarYUVToRGBAccel(dst []byte, dstStride int, yPlane []byte, yStride int, uPlane []byte, uStride int, vPlane []byte, vStride int, width, height int, full, bgrOrder bool, dstCh int, flip bool) {
	lane := shuffleLanePixels3
	if dstCh == 4 {
		lane = shuffleLanePixels4
	}
	fullWidth := (width / lane) * lane

	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		yRow := yPlane[y*yStride:]
		uRow := uPlane[(y/2)*uStride:]
		vRow := vPlane[(y/2)*vStride:]
		dstRowBuf := dst[dy*dstStride:]

		conv := func(x int) {
			Y := int(yRow[x])
			U := int(uRow[x/2])
			V := int(vRow[x/2])
			r, g, b := yuvToRGBPixel(Y, U, V, full)
			writeRGBPixel(dstRowBuf, x*dstCh, r, g, b, bgrOrder, dstCh)
		}

		for x := 0; x < fullWidth; x += lane {
			for i := 0; i < lane; i++ {
				conv(x + i)
			}
		}
		for x := fullWidth; x < width; x++ {
			conv(x)
		}
	}
}

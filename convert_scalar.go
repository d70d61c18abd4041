package gocam

// This file holds the scalar (portable, bit-exact reference) kernels for the
// pixel conversion engine, per §4.5. The accelerated counterparts in
// convert_accel.go must produce identical output; only their internal batch
// size differs.

// clipByte saturates v to [0,255].
func clipByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// yuvToRGBPixel applies the BT.601 video/full-range conversion from §4.5.
// Rounding is "add 128 then arithmetic shift right by 8"; the 128 chroma
// offset applies in both ranges. Video range additionally offsets luma by
// 16 and scales by the 255/219 expansion gain (fixed-point 298); full range
// carries no luma offset and a unity luma gain (fixed-point 256) -- it is
// NOT simply the video-range coefficients with the offset dropped, since
// the luma gain itself differs between the two ranges. A video-range Y
// below 16 is allowed to underflow through the final clip -- no
// special-casing here is intentional.
func yuvToRGBPixel(y, u, v int, full bool) (r, g, b byte) {
	cb := u - 128
	cr := v - 128
	if full {
		r = clipByte((256*y + 359*cr + 128) >> 8)
		g = clipByte((256*y - 88*cb - 183*cr + 128) >> 8)
		b = clipByte((256*y + 454*cb + 128) >> 8)
		return
	}
	y1 := y - 16
	r = clipByte((298*y1 + 409*cr + 128) >> 8)
	g = clipByte((298*y1 - 100*cb - 208*cr + 128) >> 8)
	b = clipByte((298*y1 + 516*cb + 128) >> 8)
	return
}

// dstRow returns the destination row index for source row y, honoring the
// vertical-flip convention described in §4.5. Rather than the C negative-
// stride trick, the Go kernels simply remap which output row a given input
// row lands on; the observable contract (flip is its own inverse, row 0
// becomes row height-1) is identical.
func dstRow(y, height int, flip bool) int {
	if flip {
		return height - 1 - y
	}
	return y
}

// shuffleScalar performs an arbitrary byte-permutation channel shuffle from
// srcCh-channel packed pixels to dstCh-channel packed pixels. perm[i] gives
// the source channel index to read for destination channel i, or -1 to fill
// with alphaFill (used for the RGB/BGR -> RGBA/BGRA add-alpha paths).
func shuffleScalar(dst, src []byte, srcStride, dstStride, width, height, srcCh, dstCh int, perm [4]int8, alphaFill byte, flip bool) {
	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		srcRow := src[y*srcStride : y*srcStride+width*srcCh]
		dstRowBuf := dst[dy*dstStride : dy*dstStride+width*dstCh]
		for x := 0; x < width; x++ {
			so := x * srcCh
			do := x * dstCh
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
}

// biplanarYUVToRGBScalar converts an NV12 (swapUV=false) or NV21 (swapUV=true)
// image to a packed RGB-family target.
func biplanarYUVToRGBScalar(dst []byte, dstStride int, yPlane []byte, yStride int, uvPlane []byte, uvStride int, width, height int, swapUV, full, bgrOrder bool, dstCh int, flip bool) {
	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		yRow := yPlane[y*yStride:]
		uvRow := uvPlane[(y/2)*uvStride:]
		dstRowBuf := dst[dy*dstStride : dy*dstStride+width*dstCh]
		for x := 0; x < width; x++ {
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

// triplanarYUVToRGBScalar converts an I420 image to a packed RGB-family
// target.
func triplanarYUVToRGBScalar(dst []byte, dstStride int, yPlane []byte, yStride int, uPlane []byte, uStride int, vPlane []byte, vStride int, width, height int, full, bgrOrder bool, dstCh int, flip bool) {
	for y := 0; y < height; y++ {
		dy := dstRow(y, height, flip)
		yRow := yPlane[y*yStride:]
		uRow := uPlane[(y/2)*uStride:]
		vRow := vPlane[(y/2)*vStride:]
		dstRowBuf := dst[dy*dstStride : dy*dstStride+width*dstCh]
		for x := 0; x < width; x++ {
			Y := int(yRow[x])
			U := int(uRow[x/2])
			V := int(vRow[x/2])
			r, g, b := yuvToRGBPixel(Y, U, V, full)
			writeRGBPixel(dstRowBuf, x*dstCh, r, g, b, bgrOrder, dstCh)
		}
	}
}

// writeRGBPixel writes one packed pixel honoring channel order and optional
// alpha, shared by both YUV-source kernels.
func writeRGBPixel(row []byte, off int, r, g, b byte, bgrOrder bool, ch int) {
	if bgrOrder {
		row[off+0] = b
		row[off+1] = g
		row[off+2] = r
	} else {
		row[off+0] = r
		row[off+1] = g
		row[off+2] = b
	}
	if ch == 4 {
		row[off+3] = 0xFF
	}
}

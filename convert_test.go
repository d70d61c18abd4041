package gocam

import "testing"

func TestConvertInPlaceRejectsSecondConversion(t *testing.T) {
	width, height := 4, 2
	y := make([]byte, width*height)
	u := make([]byte, (width/2)*(height/2))
	v := make([]byte, (width/2)*(height/2))
	for i := range y {
		y[i] = 128
	}

	f := Frame{
		Data:        [3][]byte{y, u, v},
		Stride:      [3]int{width, width / 2, width / 2},
		PixelFormat: I420,
		Width:       width,
		Height:      height,
		Allocator:   NewSliceAllocator(),
		zeroCopy:    true,
	}

	if err := ConvertInPlace(&f, RGB24, false); err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	if f.PixelFormat != RGB24 {
		t.Errorf("PixelFormat after conversion = %s, want RGB24", f.PixelFormat)
	}
	if got, want := len(f.Data[0]), width*height*3; got != want {
		t.Errorf("converted data length = %d, want %d", got, want)
	}
	if f.Data[1] != nil || f.Data[2] != nil {
		t.Error("expected chroma planes cleared after conversion to a packed format")
	}

	err := ConvertInPlace(&f, BGR24, false)
	if KindOf(err) != ErrConversionMisuse {
		t.Errorf("second in-place conversion: got %v, want ErrConversionMisuse", err)
	}
}

func TestConvertInPlaceFlipTogglesOrientation(t *testing.T) {
	width, height := 2, 2
	f := Frame{
		Data:        [3][]byte{make([]byte, width*height*3)},
		Stride:      [3]int{width * 3},
		PixelFormat: RGB24,
		Width:       width,
		Height:      height,
		Allocator:   NewSliceAllocator(),
		zeroCopy:    true,
		Orientation: OrientationTopDown,
	}

	if err := ConvertInPlace(&f, BGR24, true); err != nil {
		t.Fatalf("conversion: %v", err)
	}
	if f.Orientation != OrientationBottomUp {
		t.Errorf("Orientation = %v, want OrientationBottomUp after a flip conversion", f.Orientation)
	}
}

// shufflePerm must be an involution for same-alpha-shape swaps (RGBA<->BGRA,
// RGB24<->BGR24): applying it twice reproduces the original pixel.
func TestShufflePermIsInvolutionForSymmetricSwaps(t *testing.T) {
	cases := []struct {
		name               string
		srcBGR, dstBGR     bool
		srcAlpha, dstAlpha bool
	}{
		{"RGB24<->BGR24", false, true, false, false},
		{"RGBA32<->BGRA32", false, true, true, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			perm, srcCh, _ := shufflePerm(c.srcBGR, c.dstBGR, c.srcAlpha, c.dstAlpha)
			inv, _, _ := shufflePerm(c.dstBGR, c.srcBGR, c.dstAlpha, c.srcAlpha)

			pixel := make([]byte, srcCh)
			for i := range pixel {
				pixel[i] = byte(10 * (i + 1))
			}

			mid := applyPerm(pixel, perm)
			back := applyPerm(mid, inv)

			for i := range pixel {
				if back[i] != pixel[i] {
					t.Errorf("round trip byte %d = %d, want %d", i, back[i], pixel[i])
				}
			}
		})
	}
}

func applyPerm(src []byte, perm [4]int8) []byte {
	dst := make([]byte, len(src))
	for i := 0; i < len(src) && i < len(perm); i++ {
		if perm[i] < 0 {
			dst[i] = 0xFF
			continue
		}
		dst[i] = src[perm[i]]
	}
	return dst
}

// solidI420 builds a width*height I420 frame with every Y/U/V sample set to
// the given values, laid out with tight strides.
func solidI420(width, height int, y, u, v byte) Frame {
	ySize := width * height
	cw, ch := width/2, height/2
	yp := make([]byte, ySize)
	up := make([]byte, cw*ch)
	vp := make([]byte, cw*ch)
	for i := range yp {
		yp[i] = y
	}
	for i := range up {
		up[i] = u
		vp[i] = v
	}
	return Frame{
		Data:        [3][]byte{yp, up, vp},
		Stride:      [3]int{width, cw, cw},
		PixelFormat: I420f,
		Width:       width,
		Height:      height,
		Allocator:   NewSliceAllocator(),
		zeroCopy:    true,
	}
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// TestYUVToRGBMidGraySanity covers §8's round-trip sanity check: a neutral
// chroma pixel (U=V=128, no color) must land within +/-1 of its mid-gray
// luma in both video and full range. The two ranges encode the same scene
// luma into different Y bytes (video range's 219-step span vs full range's
// 256-step span), so each range gets the Y byte that range would actually
// produce for mid-gray, not a shared literal.
func TestYUVToRGBMidGraySanity(t *testing.T) {
	cases := []struct {
		full bool
		y    int
	}{
		{full: false, y: 124},
		{full: true, y: 126},
	}
	for _, c := range cases {
		r, g, b := yuvToRGBPixel(c.y, 128, 128, c.full)
		for _, ch := range []struct {
			name string
			got  byte
		}{{"R", r}, {"G", g}, {"B", b}} {
			if absDiff(int(ch.got), 126) > 1 {
				t.Errorf("full=%v y=%d %s = %d, want within 1 of 126", c.full, c.y, ch.name, ch.got)
			}
		}
	}
}

// TestConvertInPlaceI420fAllZeroIsBlackOpaque covers §8 scenario 5: a
// Y=0 image with neutral chroma (U=V=128, per §4.5's "U,V offset by 128"
// convention -- literal zero bytes would mean maximally negative chroma,
// not "no color") converts to RGBA32 with every pixel (0,0,0,255).
func TestConvertInPlaceI420fAllZeroIsBlackOpaque(t *testing.T) {
	f := solidI420(4, 2, 0, 128, 128)
	if err := ConvertInPlace(&f, RGBA32, false); err != nil {
		t.Fatalf("ConvertInPlace: %v", err)
	}
	for i := 0; i < f.Width*f.Height; i++ {
		px := f.Data[0][i*4 : i*4+4]
		if px[0] != 0 || px[1] != 0 || px[2] != 0 || px[3] != 255 {
			t.Fatalf("pixel %d = %v, want [0 0 0 255]", i, px)
		}
	}
}

// TestConvertInPlaceI420fAllWhiteIsWhiteOpaque covers §8 scenario 5: an
// all-(255,128,128) I420f image converts to RGBA32 with every pixel within
// +/-1 of (255,255,255,255).
func TestConvertInPlaceI420fAllWhiteIsWhiteOpaque(t *testing.T) {
	f := solidI420(4, 2, 255, 128, 128)
	if err := ConvertInPlace(&f, RGBA32, false); err != nil {
		t.Fatalf("ConvertInPlace: %v", err)
	}
	for i := 0; i < f.Width*f.Height; i++ {
		px := f.Data[0][i*4 : i*4+4]
		if absDiff(int(px[0]), 255) > 1 || absDiff(int(px[1]), 255) > 1 || absDiff(int(px[2]), 255) > 1 || px[3] != 255 {
			t.Fatalf("pixel %d = %v, want within 1 of [255 255 255 255]", i, px)
		}
	}
}

// TestConvertAccelMatchesScalarForShuffle ensures the accelerated shuffle
// path stays bit-exact with the scalar reference (§4.5, §8), including its
// sub-lane tail handling.
func TestConvertAccelMatchesScalarForShuffle(t *testing.T) {
	width, height := 23, 3 // not a multiple of either lane width
	srcCh, dstCh := 4, 3
	src := make([]byte, width*height*srcCh)
	for i := range src {
		src[i] = byte(i * 7)
	}
	perm, _, alphaFill := shufflePerm(false, true, true, false)

	gotAccel := make([]byte, width*height*dstCh)
	gotScalar := make([]byte, width*height*dstCh)
	shuffleAccel(gotAccel, src, width*srcCh, width*dstCh, width, height, srcCh, dstCh, perm, alphaFill, false)
	shuffleScalar(gotScalar, src, width*srcCh, width*dstCh, width, height, srcCh, dstCh, perm, alphaFill, false)

	for i := range gotAccel {
		if gotAccel[i] != gotScalar[i] {
			t.Fatalf("byte %d: accel=%d scalar=%d", i, gotAccel[i], gotScalar[i])
		}
	}
}

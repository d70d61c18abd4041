package gocam

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSortDevicesRealFirst(t *testing.T) {
	devices := []DeviceInfo{
		{ID: "1", Name: "OBS Virtual Camera", Virtual: true},
		{ID: "2", Name: "Integrated Webcam"},
		{ID: "3", Name: "Fake Camera", Virtual: true},
		{ID: "4", Name: "USB Capture"},
	}
	sortDevicesRealFirst(devices)

	want := []string{"2", "4", "1", "3"}
	for i, id := range want {
		if devices[i].ID != id {
			t.Errorf("position %d: got id %s, want %s", i, devices[i].ID, id)
		}
	}
}

func TestIsVirtualDeviceName(t *testing.T) {
	cases := map[string]bool{
		"OBS Virtual Camera": true,
		"fake-cam":           true,
		"Logitech BRIO":      false,
		"USB2.0 HD UVC":      false,
	}
	for name, want := range cases {
		if got := isVirtualDeviceName(name); got != want {
			t.Errorf("isVirtualDeviceName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestChooseResolutionPrefersSmallestCovering(t *testing.T) {
	candidates := []FormatSpec{
		{Width: 640, Height: 480},
		{Width: 1280, Height: 720},
		{Width: 1920, Height: 1080},
	}
	got, ok := chooseResolution(1000, 600, candidates)
	if !ok {
		t.Fatal("expected a match")
	}
	want := FormatSpec{Width: 1280, Height: 720}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chooseResolution mismatch (-want +got):\n%s", diff)
	}
}

func TestChooseResolutionFallsBackWhenNothingCovers(t *testing.T) {
	candidates := []FormatSpec{
		{Width: 320, Height: 240},
		{Width: 640, Height: 480},
	}
	got, ok := chooseResolution(1920, 1080, candidates)
	if !ok {
		t.Fatal("expected a match")
	}
	want := FormatSpec{Width: 640, Height: 480}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chooseResolution fallback mismatch (-want +got, expected closest total pixels):\n%s", diff)
	}
}

func TestChooseFormatForForceFallsBackToPreferenceOrder(t *testing.T) {
	native := []FormatSpec{{PixelFormat: I420}, {PixelFormat: BGRA32}}
	got, ok := chooseFormatForForce(NV12.WithForce(), native)
	if !ok {
		t.Fatal("expected a candidate")
	}
	// NV12 has no same-family candidate here (I420 is a different family),
	// so it falls to the NV12f/NV12v/BGRA32/BGR24 preference order.
	if got != BGRA32 {
		t.Errorf("chooseFormatForForce = %s, want BGRA32 per the fallback preference order", got)
	}
}

func TestChooseFormatForForceSameFamilyWins(t *testing.T) {
	native := []FormatSpec{{PixelFormat: I420v}, {PixelFormat: BGRA32}}
	got, ok := chooseFormatForForce(I420.WithForce(), native)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if got != I420v {
		t.Errorf("chooseFormatForForce = %s, want I420v (same family as the forced target)", got)
	}
}

package loopback

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestRoundUpPowerOfTwo(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {16, 16}, {17, 32}, {1000, 1024},
	}
	for _, c := range cases {
		if got := roundUpPowerOfTwo(c.in); got != c.want {
			t.Errorf("roundUpPowerOfTwo(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRingBuffer_CapacityRoundedUp(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 100)
	if r.CapacityFrames() != 128 {
		t.Fatalf("CapacityFrames() = %d, want 128", r.CapacityFrames())
	}
}

func makeFrames(count uint64, base float32) []byte {
	buf := make([]byte, count*BytesPerFrame)
	for i := uint64(0); i < count; i++ {
		v := base + float32(i)
		off := i * BytesPerFrame
		putFloat32(buf[off:], v)
		putFloat32(buf[off+4:], v)
	}
	return buf
}

func putFloat32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// RB1: fresh ring reports empty time bounds.
func TestRingBuffer_FreshIsEmpty(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	start, end, err := r.GetTimeBounds()
	if err != nil {
		t.Fatalf("GetTimeBounds: %v", err)
	}
	if start != 0 || end != 0 {
		t.Fatalf("fresh ring bounds = (%d,%d), want (0,0)", start, end)
	}
}

// RB2: a Store followed by a Fetch of the same range round-trips exactly.
func TestRingBuffer_StoreFetchRoundTrip(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	in := makeFrames(4, 1.0)
	if err := r.Store(in, 4, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	out := make([]byte, 4*BytesPerFrame)
	if err := r.Fetch(out, 4, 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("byte %d: got %d want %d", i, out[i], in[i])
		}
	}
}

// RB3: fetching a range that has never been written zero-fills.
func TestRingBuffer_FetchBeforeAnyStoreIsZero(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	out := makeFrames(4, 9.0) // pre-fill with garbage to prove it gets zeroed
	if err := r.Fetch(out, 4, 100); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

// RB4: a fetch whose range straddles the valid window is clipped, with the
// out-of-range portions zero-filled and the overlap copied.
func TestRingBuffer_FetchClipsPartialOverlap(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	in := makeFrames(4, 2.0)
	if err := r.Store(in, 4, 8); err != nil {
		t.Fatalf("Store: %v", err)
	}
	out := make([]byte, 8*BytesPerFrame)
	if err := r.Fetch(out, 8, 6); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	// frames 6,7 are before the valid window -> zero.
	for i := 0; i < 2*BytesPerFrame; i++ {
		if out[i] != 0 {
			t.Fatalf("leading byte %d = %d, want 0", i, out[i])
		}
	}
	// frames 8..11 are the stored data.
	for i := 0; i < 4*BytesPerFrame; i++ {
		if out[2*BytesPerFrame+i] != in[i] {
			t.Fatalf("overlap byte %d mismatch", i)
		}
	}
}

func TestRingBuffer_StoreCountExceedingCapacityFails(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	in := makeFrames(20, 1.0)
	err := r.Store(in, 20, 0)
	if !errors.Is(err, ErrRingTooMuch) {
		t.Fatalf("Store with oversized count: got %v, want ErrRingTooMuch", err)
	}
}

func TestRingBuffer_FetchCountExceedingCapacityFails(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	out := make([]byte, 20*BytesPerFrame)
	err := r.Fetch(out, 20, 0)
	if !errors.Is(err, ErrRingTooMuch) {
		t.Fatalf("Fetch with oversized count: got %v, want ErrRingTooMuch", err)
	}
	for _, b := range out {
		if b != 0 {
			t.Fatalf("oversized fetch should zero dst, found nonzero byte")
		}
	}
}

// A request that starts before the valid window and ends after it is
// clipped to the overlap and zero-filled on both sides, not rejected:
// TooMuch is reserved for a count wider than the ring's own capacity.
// This is the capacity-8, bounds-(0,2), Fetch(4, t=-1) example: the result
// is {0, (frame 0), (frame 1), 0}, and the call succeeds.
func TestRingBuffer_FetchOverlappingBothSidesClipsAndSucceeds(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 8)
	in := makeFrames(2, 1.0)
	if err := r.Store(in, 2, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	out := make([]byte, 4*BytesPerFrame)
	if err := r.Fetch(out, 4, -1); err != nil {
		t.Fatalf("Fetch: got %v, want nil (clip, not TooMuch)", err)
	}
	// absolute frame -1 is before the window -> zero.
	for i := 0; i < BytesPerFrame; i++ {
		if out[i] != 0 {
			t.Fatalf("leading byte %d = %d, want 0", i, out[i])
		}
	}
	// absolute frames 0,1 are the stored overlap.
	for i := 0; i < 2*BytesPerFrame; i++ {
		if out[BytesPerFrame+i] != in[i] {
			t.Fatalf("overlap byte %d mismatch", i)
		}
	}
	// absolute frame 2 is after the window -> zero.
	for i := 0; i < BytesPerFrame; i++ {
		if out[3*BytesPerFrame+i] != 0 {
			t.Fatalf("trailing byte %d = %d, want 0", i, out[3*BytesPerFrame+i])
		}
	}
}

func TestRingBuffer_StoreAdvancesWithLargeGapResetsWindow(t *testing.T) {
	r := NewRingBuffer(BytesPerFrame, 16)
	in := makeFrames(4, 1.0)
	if err := r.Store(in, 4, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	// Jump far ahead, beyond capacity: old data should be considered gone.
	in2 := makeFrames(4, 5.0)
	if err := r.Store(in2, 4, 1000); err != nil {
		t.Fatalf("Store: %v", err)
	}
	start, end, err := r.GetTimeBounds()
	if err != nil {
		t.Fatalf("GetTimeBounds: %v", err)
	}
	if start != 1000 || end != 1004 {
		t.Fatalf("bounds after gap = (%d,%d), want (1000,1004)", start, end)
	}
}

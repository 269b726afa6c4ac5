package loopback

import (
	"encoding/binary"
	"math"
)

// DecodeFrames unpacks a little-endian, interleaved-stereo-float32 byte
// buffer into Frame values. Grounded on the teacher's frame.go header
// codec: plain encoding/binary, no unsafe. It backs driver.Plugin's
// DoIOOperation ProcessMix/ProcessOutput cases and the diagnostics CLI's
// WAV export, and allocates a new slice on every call.
func DecodeFrames(buf []byte) []Frame {
	count := len(buf) / BytesPerFrame
	frames := make([]Frame, count)
	for i := 0; i < count; i++ {
		off := i * BytesPerFrame
		frames[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		frames[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
	}
	return frames
}

// EncodeFrames packs frames back into buf in the same layout DecodeFrames
// reads. len(buf) must be at least len(frames)*BytesPerFrame.
func EncodeFrames(buf []byte, frames []Frame) {
	for i, f := range frames {
		off := i * BytesPerFrame
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(f[1]))
	}
}

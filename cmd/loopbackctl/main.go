// Command loopbackctl is a diagnostics tool for the loopback audio
// driver core: it feeds a synthetic tone through a Device's ring buffer
// the same way a real client would, then dumps what comes back out as a
// WAV file. It exists because the real companion GUI application that
// would normally drain this device is out of scope for this repository.
//
// Grounded on the teacher's cmd/debug-capacity tool: a small, single-shot
// diagnostic binary that exercises the core data structure directly and
// prints what it finds.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/elements-storage/AudioLoopback/internal/loopback"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a loopback config file (optional)")
		outPath    = flag.String("out", "loopbackctl.wav", "path to write the captured WAV file")
		seconds    = flag.Float64("seconds", 1.0, "seconds of synthetic tone to push through the ring")
		toneHz     = flag.Float64("tone-hz", 440.0, "frequency of the synthetic test tone")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loopback.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	device := loopback.NewDevice(cfg, nil, logger)
	defer device.Close()

	if err := device.Activate(); err != nil {
		logger.Error("failed to activate device", "err", err)
		os.Exit(1)
	}

	const clientID = 1
	if err := device.AddClient(loopback.Client{ClientID: clientID, ProcessID: int32(os.Getpid()), BundleID: "com.example.loopbackctl"}); err != nil {
		logger.Error("failed to add diagnostic client", "err", err)
		os.Exit(1)
	}
	if err := device.StartIO(clientID); err != nil {
		logger.Error("failed to start IO", "err", err)
		os.Exit(1)
	}

	totalFrames := uint64(*seconds * cfg.SampleRate)
	chunkFrames := device.RingCapacityFrames() / 2
	if chunkFrames == 0 {
		chunkFrames = 1
	}

	logger.Info("pushing synthetic tone through ring buffer",
		"total_frames", totalFrames, "chunk_frames", chunkFrames, "tone_hz", *toneHz, "sample_rate", cfg.SampleRate)

	capturedL := make([]int, 0, totalFrames)
	capturedR := make([]int, 0, totalFrames)

	var sampleTime int64
	for sampleTime = 0; uint64(sampleTime) < totalFrames; sampleTime += int64(chunkFrames) {
		n := chunkFrames
		if remaining := totalFrames - uint64(sampleTime); remaining < n {
			n = remaining
		}

		frames := make([]loopback.Frame, n)
		for i := uint64(0); i < n; i++ {
			t := float64(sampleTime+int64(i)) / cfg.SampleRate
			v := float32(math.Sin(2 * math.Pi * *toneHz * t))
			frames[i] = loopback.Frame{v, v}
		}
		buf := make([]byte, n*loopback.BytesPerFrame)
		loopback.EncodeFrames(buf, frames)

		if err := device.WriteMix(buf, n, sampleTime); err != nil {
			logger.Error("WriteMix failed", "err", err, "sample_time", sampleTime)
			os.Exit(1)
		}

		out := make([]byte, n*loopback.BytesPerFrame)
		if err := device.ReadInput(out, n, sampleTime); err != nil {
			logger.Error("ReadInput failed", "err", err, "sample_time", sampleTime)
			os.Exit(1)
		}
		readFrames := loopback.DecodeFrames(out)
		for _, f := range readFrames {
			capturedL = append(capturedL, float32ToPCM16(f[0]))
			capturedR = append(capturedR, float32ToPCM16(f[1]))
		}
	}

	if err := device.StopIO(clientID); err != nil {
		logger.Warn("StopIO failed", "err", err)
	}

	if err := writeWAV(*outPath, cfg.SampleRate, capturedL, capturedR); err != nil {
		logger.Error("failed to write WAV file", "err", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d frames to %s\n", len(capturedL), *outPath)
}

func float32ToPCM16(v float32) int {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int(v * 32767)
}

func writeWAV(path string, sampleRate float64, left, right []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, int(sampleRate), 16, 2, 1)
	defer enc.Close()

	interleaved := make([]int, 0, len(left)+len(right))
	for i := range left {
		interleaved = append(interleaved, left[i], right[i])
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: int(sampleRate)},
		Data:   interleaved,
	}
	return enc.Write(buf)
}

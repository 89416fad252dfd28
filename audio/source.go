package audio

// Audio sources
//
// Every source yields mono float32 samples in [-1, 1] at the requested sample
// rate, optionally cropped to a window:
//
//   - WavSource decodes PCM WAV files in-process (go-audio/wav) and resamples
//     with a high quality polyphase resampler.
//   - FFmpegSource shells out to ffmpeg for every other container or codec.
//   - AutoSource picks between the two by file extension.
//
// durationMs <= 0 reads to the end of the file; startMs <= 0 reads from the
// beginning.

import (
	"context"
	"path/filepath"
	"strings"
)

type Source interface {
	ReadMono(ctx context.Context, path string, sampleRate, durationMs, startMs int) ([]float32, error)
}

// AutoSource decodes .wav files natively and everything else through ffmpeg.
type AutoSource struct {
	Wav    WavSource
	FFmpeg FFmpegSource
}

func (a AutoSource) ReadMono(ctx context.Context, path string, sampleRate, durationMs, startMs int) ([]float32, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return a.Wav.ReadMono(ctx, path, sampleRate, durationMs, startMs)
	}
	return a.FFmpeg.ReadMono(ctx, path, sampleRate, durationMs, startMs)
}

// crop returns the [startMs, startMs+durationMs) window of samples at rate.
func crop(samples []float64, rate, durationMs, startMs int) []float64 {
	if startMs > 0 {
		skip := int(int64(startMs) * int64(rate) / 1000)
		if skip >= len(samples) {
			return nil
		}
		samples = samples[skip:]
	}
	if durationMs > 0 {
		keep := int(int64(durationMs) * int64(rate) / 1000)
		if keep < len(samples) {
			samples = samples[:keep]
		}
	}
	return samples
}

func toFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = float32(s)
	}
	return out
}

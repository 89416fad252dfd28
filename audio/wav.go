package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

type WavSource struct{}

func (WavSource) ReadMono(ctx context.Context, path string, sampleRate, durationMs, startMs int) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	return decodeWav(ctx, file, sampleRate, durationMs, startMs)
}

// DecodeWav reads a complete WAV image held in memory.
func DecodeWav(ctx context.Context, data []byte, sampleRate int) ([]float32, error) {
	return decodeWav(ctx, bytes.NewReader(data), sampleRate, 0, 0)
}

func decodeWav(ctx context.Context, r io.ReadSeeker, sampleRate, durationMs, startMs int) ([]float32, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read PCM buffer: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, errors.New("WAV file has no usable format")
	}

	mono := downmix(buf)
	mono = crop(mono, buf.Format.SampleRate, durationMs, startMs)

	resampled, err := Resample(mono, buf.Format.SampleRate, sampleRate)
	if err != nil {
		return nil, err
	}
	return toFloat32(resampled), nil
}

// downmix averages interleaved channels and scales integers to [-1, 1].
func downmix(buf *goaudio.IntBuffer) []float64 {
	channels := buf.Format.NumChannels
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		scale = 128
	}

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if bitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		out[i] = sum / float64(channels) / scale
	}
	return out
}

// Resample converts mono samples between rates. Equal rates are returned as is.
func Resample(samples []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resampling rates %d -> %d", fromRate, toRate)
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := resampler.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to resample %d -> %d: %w", fromRate, toRate, err)
	}
	return out, nil
}

// WriteWav stores mono samples as 16-bit PCM.
func WriteWav(path string, samples []float32, sampleRate int) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output file creation error: %w", err)
	}
	defer out.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		data[i] = int(v * 32767)
	}

	encoder := wav.NewEncoder(out, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("data writing error: %w", err)
	}
	return encoder.Close()
}

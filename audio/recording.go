package audio

// Live recordings
//
// Clients send recordings as base64 text, either a complete WAV file or raw
// interleaved little-endian PCM described by the accompanying channel count,
// sample rate and sample size. Both shapes end up as mono float32 samples at
// the pipeline's sample rate.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"findsimilar/models"
)

// DecodeRecording converts a client payload into mono samples at sampleRate.
func DecodeRecording(ctx context.Context, rec models.RecordData, sampleRate int) ([]float32, error) {
	decodedAudioData, err := base64.StdEncoding.DecodeString(rec.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	if len(decodedAudioData) == 0 {
		return nil, fmt.Errorf("recording is empty")
	}

	if bytes.HasPrefix(decodedAudioData, []byte("RIFF")) {
		return DecodeWav(ctx, decodedAudioData, sampleRate)
	}

	mono, err := rawPCMToMono(decodedAudioData, rec.Channels, rec.SampleSize)
	if err != nil {
		return nil, err
	}
	if rec.SampleRate <= 0 {
		return nil, fmt.Errorf("recording has no sample rate")
	}

	resampled, err := Resample(mono, rec.SampleRate, sampleRate)
	if err != nil {
		return nil, err
	}
	return toFloat32(resampled), nil
}

func rawPCMToMono(data []byte, channels, sampleSize int) ([]float64, error) {
	if channels <= 0 {
		channels = 1
	}
	if sampleSize <= 0 {
		sampleSize = 16
	}

	var width int
	var read func(b []byte) float64
	switch sampleSize {
	case 16:
		width = 2
		read = func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case 24:
		width = 3
		read = func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / (1 << 23)
		}
	case 32:
		width = 4
		read = func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31) }
	default:
		return nil, fmt.Errorf("unsupported sample size %d", sampleSize)
	}

	frameBytes := width * channels
	frames := len(data) / frameBytes
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*width
			sum += read(data[off : off+width])
		}
		out[i] = sum / float64(channels)
	}
	return out, nil
}

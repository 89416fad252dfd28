package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegSource decodes through an ffmpeg binary on PATH unless Binary is set.
type FFmpegSource struct {
	Binary string
}

func (f FFmpegSource) binary() string {
	if f.Binary != "" {
		return f.Binary
	}
	return "ffmpeg"
}

// CheckFFmpegAvailable reports whether ffmpeg can be executed.
func CheckFFmpegAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

func (f FFmpegSource) ReadMono(ctx context.Context, path string, sampleRate, durationMs, startMs int) ([]float32, error) {
	args := []string{"-hide_banner", "-v", "error"}
	if startMs > 0 {
		args = append(args, "-ss", msToSeconds(startMs))
	}
	if durationMs > 0 {
		args = append(args, "-t", msToSeconds(durationMs))
	}
	args = append(args,
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseFloat32LE(out.Bytes())
}

func parseFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("unexpected byte length")
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return samples, nil
}

func msToSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

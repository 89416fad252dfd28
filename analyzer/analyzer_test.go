package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"findsimilar/audio"
	"findsimilar/config"
	"findsimilar/db"
	"findsimilar/fingerprint"
	"findsimilar/models"
)

// synthSource serves generated signals. Each path selects a seed and a
// sample offset into that signal.
type synthSource struct {
	seconds int
	clips   map[string]synthClip
}

type synthClip struct {
	seed   uint64
	offset int
	silent bool
}

func (s synthSource) ReadMono(_ context.Context, path string, sampleRate, durationMs, startMs int) ([]float32, error) {
	clip, ok := s.clips[path]
	if !ok {
		return nil, errors.New("no such clip")
	}
	n := s.seconds * sampleRate
	if durationMs > 0 {
		n = min(n, durationMs*sampleRate/1000)
	}
	out := make([]float32, n)
	if clip.silent {
		return out, nil
	}
	signal := synthesize(clip.seed, sampleRate, clip.offset+n+startMs*sampleRate/1000)
	copy(out, signal[clip.offset+startMs*sampleRate/1000:])
	return out, nil
}

func synthesize(seed uint64, sampleRate, n int) []float32 {
	rng := rand.New(rand.NewPCG(seed, 7))
	freqs := []float64{400 + rng.Float64()*200, 700 + rng.Float64()*300, 1200 + rng.Float64()*400}
	rates := []float64{0.37, 0.61, 0.93}
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		var v float64
		for k, f := range freqs {
			// slow amplitude modulation gives the spectrogram structure over time
			v += 0.2 * math.Sin(2*math.Pi*f*t) * (1 + math.Sin(2*math.Pi*rates[k]*t))
		}
		v += 0.05 * (rng.Float64()*2 - 1)
		out[i] = float32(v)
	}
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.FingerprintLength = 32
	cfg.LogBins = 16
	cfg.TopWavelets = 50
	cfg.SamplesPerFingerprint = 32 * cfg.Overlap
	cfg.DatabaseStridePolicy = fmt.Sprintf("incremental:%d", 32*cfg.Overlap)
	cfg.NormalizeSignal = false
	return cfg
}

func newTestAnalyzer(t *testing.T, cfg config.Config, clips map[string]synthClip) *Analyzer {
	t.Helper()
	a, err := New(cfg, WithSource(synthSource{seconds: 10, clips: clips}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return a
}

func newTestStore(t *testing.T) *db.BadgerClient {
	t.Helper()
	store, err := db.NewBadgerClient(db.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerClient returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFingerprintsAreDeterministic(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, testConfig(), map[string]synthClip{"a": {seed: 1}})
	first, err := a.Fingerprints(context.Background(), "a", a.DatabaseStride())
	if err != nil {
		t.Fatalf("Fingerprints returned error: %v", err)
	}
	second, err := a.Fingerprints(context.Background(), "a", a.DatabaseStride())
	if err != nil {
		t.Fatalf("Fingerprints returned error: %v", err)
	}
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("fingerprint counts %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].AnchorTimeMs != second[i].AnchorTimeMs || len(first[i].Keys) != testConfig().HashTables {
			t.Fatalf("fingerprint %d differs", i)
		}
		for k := range first[i].Keys {
			if first[i].Keys[k] != second[i].Keys[k] {
				t.Fatalf("fingerprint %d key %d differs", i, k)
			}
		}
	}
}

func TestIndexThenMatchExcerpt(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	// three images into the track
	offset := 3 * cfg.FingerprintLength * cfg.Overlap
	a := newTestAnalyzer(t, cfg, map[string]synthClip{
		"original.wav": {seed: 1},
		"other.wav":    {seed: 2},
		"excerpt.wav":  {seed: 1, offset: offset},
	})
	store := newTestStore(t)
	ctx := context.Background()

	track, err := a.Index(ctx, store, "original.wav", models.Track{Artist: "Synth"})
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	if track.Title != "original" || track.Duration <= 0 {
		t.Fatalf("unexpected indexed track %+v", track)
	}
	if _, err := a.Index(ctx, store, "other.wav", models.Track{Artist: "Synth"}); err != nil {
		t.Fatalf("Index returned error: %v", err)
	}

	query, err := a.Fingerprints(ctx, "excerpt.wav", a.DatabaseStride())
	if err != nil {
		t.Fatalf("Fingerprints returned error: %v", err)
	}
	matches, _, err := fingerprint.FindMatches(ctx, store, query, cfg.MatchThreshold)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	best := matches[0]
	if best.TrackID != track.ID {
		t.Fatalf("best match is track %d, expected %d", best.TrackID, track.ID)
	}
	// the last three query images run past the end of the original
	if int(best.Score) != len(query)-3 {
		t.Fatalf("expected %d aligned images, score %v", len(query)-3, best.Score)
	}
	expectedMs := uint32(offset * 1000 / cfg.SampleRate / 100 * 100)
	if best.Timestamp != expectedMs {
		t.Fatalf("timestamp %d, expected %d", best.Timestamp, expectedMs)
	}

	model, ok, err := store.GetModel(track.ID)
	if err != nil || !ok || model.Dim() != cfg.MFCCCoefficients {
		t.Fatalf("stored model = %v, %v", ok, err)
	}
}

func meanSpacing(images []fingerprint.Image) float64 {
	if len(images) < 2 {
		return math.Inf(1)
	}
	return float64(images[len(images)-1].StartFrame-images[0].StartFrame) / float64(len(images)-1)
}

func TestQueryStrideDenserThanDatabaseStride(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	a, err := New(cfg, WithQuerySeed(3))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	// ten seconds at the default rate
	logSpec := make([][]float64, 861)
	for i := range logSpec {
		logSpec[i] = make([]float64, cfg.LogBins)
	}
	stored := fingerprint.CutLogSpectrogram(logSpec, a.DatabaseStride(), cfg.FingerprintLength, cfg.Overlap)
	queried := fingerprint.CutLogSpectrogram(logSpec, a.QueryStride(), cfg.FingerprintLength, cfg.Overlap)

	if got := meanSpacing(stored); got != 80 {
		t.Fatalf("database images %v frames apart, expected 80", got)
	}
	if meanSpacing(queried) >= meanSpacing(stored) || len(queried) <= len(stored) {
		t.Fatalf("query stride (%d images, %.1f apart) not denser than database stride (%d images, %.1f apart)",
			len(queried), meanSpacing(queried), len(stored), meanSpacing(stored))
	}
	for i := 1; i < len(queried); i++ {
		if step := queried[i].StartFrame - queried[i-1].StartFrame; step < 4 || step > 8 {
			t.Fatalf("query images %d and %d are %d frames apart", i-1, i, step)
		}
	}
}

func TestMatchExcerptWithQueryStride(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	// a stored image at every frame, so every query position has an exact twin
	cfg.DatabaseStridePolicy = fmt.Sprintf("incremental:%d", cfg.Overlap)
	offset := 3 * cfg.FingerprintLength * cfg.Overlap
	a, err := New(cfg, WithSource(synthSource{seconds: 10, clips: map[string]synthClip{
		"original.wav": {seed: 1},
		"other.wav":    {seed: 2},
		"excerpt.wav":  {seed: 1, offset: offset},
	}}), WithQuerySeed(11))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	store := newTestStore(t)
	ctx := context.Background()

	track, err := a.Index(ctx, store, "original.wav", models.Track{Artist: "Synth"})
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	if _, err := a.Index(ctx, store, "other.wav", models.Track{Artist: "Synth"}); err != nil {
		t.Fatalf("Index returned error: %v", err)
	}

	query, err := a.Fingerprints(ctx, "excerpt.wav", a.QueryStride())
	if err != nil {
		t.Fatalf("Fingerprints returned error: %v", err)
	}
	matches, _, err := fingerprint.FindMatches(ctx, store, query, cfg.MatchThreshold)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	best := matches[0]
	if best.TrackID != track.ID {
		t.Fatalf("best match is track %d, expected %d", best.TrackID, track.ID)
	}
	if int(best.Score) < len(query)/2 {
		t.Fatalf("only %v of %d query images aligned", best.Score, len(query))
	}
	expectedMs := uint32(offset * 1000 / cfg.SampleRate / 100 * 100)
	if best.Timestamp != expectedMs {
		t.Fatalf("timestamp %d, expected %d", best.Timestamp, expectedMs)
	}
}

func TestAnalyzeSilentFileHasNoModel(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, testConfig(), map[string]synthClip{"quiet": {silent: true}})
	analysis, err := a.Analyze(context.Background(), "quiet", a.DatabaseStride())
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.Model != nil {
		t.Fatalf("expected no model for silence, got %v", analysis.Model)
	}
	if len(analysis.Fingerprints) != 0 {
		t.Fatalf("expected no fingerprints for silence, got %d", len(analysis.Fingerprints))
	}

	if _, err := a.Analyze(context.Background(), "missing", a.DatabaseStride()); err == nil {
		t.Fatal("expected error for unknown file")
	}
}

func TestIndexSilentTrackWithoutModel(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, testConfig(), map[string]synthClip{"quiet": {silent: true}})
	store := newTestStore(t)

	track, err := a.Index(context.Background(), store, "quiet", models.Track{Title: "Quiet", Artist: "Nobody"})
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	if _, ok, err := store.GetModel(track.ID); err != nil || ok {
		t.Fatalf("expected no model for silence, got %v, %v", ok, err)
	}
	if _, ok, _ := store.GetTrackByID(track.ID); !ok {
		t.Fatal("silent track was not registered")
	}
}

func TestIndexMissingFileRegistersNothing(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, testConfig(), nil)
	store := newTestStore(t)

	if _, err := a.Index(context.Background(), store, "missing", models.Track{}); err == nil {
		t.Fatal("expected error for unknown file")
	}
	if total, _ := store.TotalTracks(); total != 0 {
		t.Fatalf("expected no tracks, got %d", total)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.WdftSize = 1000
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for non power-of-two transform size")
	}

	cfg = testConfig()
	cfg.FFT = "quantum"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown FFT")
	}

	cfg = testConfig()
	cfg.QueryStridePolicy = "whenever"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown stride policy")
	}
}

func TestAnalyzeWavFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.NormalizeSignal = true
	path := filepath.Join(t.TempDir(), "synth.wav")
	if err := audio.WriteWav(path, synthesize(3, 22050, 22050*6), 22050); err != nil {
		t.Fatalf("WriteWav returned error: %v", err)
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	analysis, err := a.Analyze(context.Background(), path, a.QueryStride())
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if analysis.Model == nil || analysis.Model.Dim() != cfg.MFCCCoefficients {
		t.Fatalf("unexpected model %v", analysis.Model)
	}
	if len(analysis.Fingerprints) == 0 {
		t.Fatal("expected fingerprints")
	}
}

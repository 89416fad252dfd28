// Package analyzer turns audio files into the two representations the rest
// of the system works with: fingerprints for duplicate matching and a
// Gaussian model for similarity ranking.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"findsimilar/audio"
	"findsimilar/config"
	"findsimilar/dsp"
	"findsimilar/fingerprint"
	"findsimilar/mfcc"
	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"

	"golang.org/x/sync/errgroup"
)

type Analyzer struct {
	cfg    config.Config
	source audio.Source

	spectrogram   dsp.SpectrogramBuilder
	logIndex      dsp.LogFrequencyIndex
	fingerprinter fingerprint.Fingerprinter

	modelSpectrogram dsp.SpectrogramBuilder
	mfcc             *mfcc.Extractor

	// querySeed fixes the query stride sequence; zero reseeds from the clock.
	querySeed uint64
}

type Option func(*Analyzer)

// WithSource replaces the default WAV/ffmpeg reader.
func WithSource(source audio.Source) Option {
	return func(a *Analyzer) { a.source = source }
}

// WithQuerySeed makes QueryStride reproducible.
func WithQuerySeed(seed uint64) Option {
	return func(a *Analyzer) { a.querySeed = seed }
}

// New validates cfg and precomputes windows, the log index and hash
// permutations.
func New(cfg config.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	for _, policy := range []string{cfg.DatabaseStridePolicy, cfg.QueryStridePolicy} {
		if _, err := fingerprint.ParseStride(policy, cfg.SamplesPerFingerprint, cfg.HashSeed); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	newFFT, err := dsp.NewFFTFactory(cfg.FFT)
	if err != nil {
		return nil, err
	}
	window, err := dsp.NewWindow(cfg.WindowFunction, cfg.WdftSize)
	if err != nil {
		return nil, err
	}
	modelWindow, err := dsp.NewWindow(cfg.WindowFunction, cfg.ModelWdftSize)
	if err != nil {
		return nil, err
	}

	logIndex, err := dsp.NewLogFrequencyIndex(dsp.LogFrequencyParams{
		SampleRate:   cfg.SampleRate,
		WdftSize:     cfg.WdftSize,
		MinFrequency: cfg.MinFrequency,
		MaxFrequency: cfg.MaxFrequency,
		LogBins:      cfg.LogBins,
		LogBase:      cfg.LogBase,
		Dynamic:      cfg.UseDynamicLogBase,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := fingerprint.NewMinHasher(2*cfg.FingerprintLength*cfg.LogBins, cfg.HashTables, cfg.HashKeysPerTable, cfg.HashSeed)
	if err != nil {
		return nil, err
	}

	extractor, err := mfcc.New(mfcc.Config{
		SampleRate:   cfg.ModelSampleRate,
		WdftSize:     cfg.ModelWdftSize,
		Filters:      cfg.MFCCFilters,
		Coefficients: cfg.MFCCCoefficients,
		LowFreq:      20,
	})
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:    cfg,
		source: audio.AutoSource{},
		spectrogram: dsp.SpectrogramBuilder{
			WdftSize: cfg.WdftSize,
			Overlap:  cfg.Overlap,
			Window:   window,
			NewFFT:   newFFT,
			Workers:  cfg.Workers,
		},
		logIndex: logIndex,
		fingerprinter: fingerprint.Fingerprinter{
			ImageLength: cfg.FingerprintLength,
			Overlap:     cfg.Overlap,
			SampleRate:  cfg.SampleRate,
			Encoder:     fingerprint.Encoder{TopWavelets: cfg.TopWavelets},
			Hasher:      hasher,
			Workers:     cfg.Workers,
		},
		modelSpectrogram: dsp.SpectrogramBuilder{
			WdftSize: cfg.ModelWdftSize,
			Overlap:  cfg.ModelOverlap,
			Window:   modelWindow,
			NewFFT:   newFFT,
			Workers:  cfg.Workers,
		},
		mfcc: extractor,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Analyzer) Config() config.Config { return a.cfg }

// DatabaseStride is the stride used when indexing tracks. It must stay wider
// than QueryStride so every stored image has query images close to it.
func (a *Analyzer) DatabaseStride() fingerprint.Stride {
	return a.stride(a.cfg.DatabaseStridePolicy, a.cfg.HashSeed)
}

// QueryStride is the dense, randomised stride used for lookups. Each call
// returns a fresh stride that must not be shared between goroutines.
func (a *Analyzer) QueryStride() fingerprint.Stride {
	seed := a.querySeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return a.stride(a.cfg.QueryStridePolicy, seed)
}

// stride parses a policy already checked by New.
func (a *Analyzer) stride(policy string, seed uint64) fingerprint.Stride {
	stride, err := fingerprint.ParseStride(policy, a.cfg.SamplesPerFingerprint, seed)
	if err != nil {
		panic(fmt.Sprintf("analyzer: stride policy %q: %v", policy, err))
	}
	return stride
}

// FingerprintSamples fingerprints mono samples at the configured sample rate.
// samples may be rescaled in place.
func (a *Analyzer) FingerprintSamples(samples []float32, stride fingerprint.Stride) ([]fingerprint.Fingerprint, error) {
	if a.cfg.NormalizeSignal {
		dsp.Normalize(samples)
	}
	logSpectrogram, err := a.spectrogram.LogSpectrogram(samples, a.logIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to compute log spectrogram: %w", err)
	}
	return a.fingerprinter.Fingerprints(logSpectrogram, stride)
}

// Fingerprints reads path and fingerprints the whole file.
func (a *Analyzer) Fingerprints(ctx context.Context, path string, stride fingerprint.Stride) ([]fingerprint.Fingerprint, error) {
	samples, err := a.source.ReadMono(ctx, path, a.cfg.SampleRate, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return a.FingerprintSamples(samples, stride)
}

// ModelSamples builds a model from mono samples at the model sample rate.
func (a *Analyzer) ModelSamples(samples []float32) (*scms.Model, error) {
	if a.cfg.NormalizeSignal {
		dsp.Normalize(samples)
	}
	frames, err := a.modelSpectrogram.Spectrogram(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to compute spectrogram: %w", err)
	}
	coefficients, err := a.mfcc.Extract(frames)
	if err != nil {
		return nil, err
	}
	return scms.Build(coefficients)
}

// Model reads the configured excerpt of path and builds its model.
func (a *Analyzer) Model(ctx context.Context, path string) (*scms.Model, error) {
	samples, err := a.source.ReadMono(ctx, path, a.cfg.ModelSampleRate, a.cfg.ModelSeconds*1000, a.cfg.ModelStartSeconds*1000)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return a.ModelSamples(samples)
}

// Analysis holds everything extracted from one file.
type Analysis struct {
	Path         string
	Model        *scms.Model
	Fingerprints []fingerprint.Fingerprint
	Elapsed      time.Duration
}

// Analyze extracts fingerprints and the model of path concurrently. A file
// whose model cannot be built yields a nil Model and no error.
func (a *Analyzer) Analyze(ctx context.Context, path string, stride fingerprint.Stride) (Analysis, error) {
	start := time.Now()
	result := Analysis{Path: path}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fps, err := a.Fingerprints(gctx, path, stride)
		result.Fingerprints = fps
		return err
	})
	g.Go(func() error {
		model, err := a.Model(gctx, path)
		var constructionErr *scms.ModelConstructionError
		if errors.As(err, &constructionErr) {
			utils.GetLogger().WarnContext(gctx, "no similarity model for file", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		result.Model = model
		return err
	})
	if err := g.Wait(); err != nil {
		return Analysis{}, err
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// Store is the write side of persistence needed for indexing.
type Store interface {
	RegisterTrack(track models.Track) (uint32, error)
	DeleteTrackByID(trackID uint32) error
	StoreModel(trackID uint32, model *scms.Model) error
	StoreFingerprints(couples map[uint64][]models.Couple) error
}

// Index analyses path and persists the track, its model and its fingerprint
// keys. Title defaults to the file name when empty. A track whose model
// cannot be built is still indexed for duplicate matching.
func (a *Analyzer) Index(ctx context.Context, store Store, path string, track models.Track) (models.Track, error) {
	logger := utils.GetLogger()

	if track.Title == "" {
		track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if track.Path == "" {
		track.Path = path
	}

	analysis, err := a.Analyze(ctx, path, a.DatabaseStride())
	if err != nil {
		return models.Track{}, err
	}
	fps, model := analysis.Fingerprints, analysis.Model

	track.Duration = a.fingerprintDuration(fps)
	trackID, err := store.RegisterTrack(track)
	if err != nil {
		return models.Track{}, fmt.Errorf("failed to register track: %w", err)
	}
	track.ID = trackID

	if err := a.persist(store, trackID, model, fps); err != nil {
		if delErr := store.DeleteTrackByID(trackID); delErr != nil {
			logger.ErrorContext(ctx, "failed to roll back track", slog.Any("trackID", trackID), slog.Any("error", delErr))
		}
		return models.Track{}, err
	}

	logger.InfoContext(ctx, "indexed track",
		slog.Any("trackID", trackID),
		slog.String("title", track.Title),
		slog.Int("fingerprints", len(fps)),
		slog.Bool("model", model != nil),
	)
	return track, nil
}

func (a *Analyzer) persist(store Store, trackID uint32, model *scms.Model, fps []fingerprint.Fingerprint) error {
	if model != nil {
		if err := store.StoreModel(trackID, model); err != nil {
			return fmt.Errorf("failed to store model: %w", err)
		}
	}
	if err := store.StoreFingerprints(fingerprint.Couples(trackID, fps)); err != nil {
		return fmt.Errorf("failed to store fingerprints: %w", err)
	}
	return nil
}

// fingerprintDuration approximates track length in seconds from the last
// fingerprint, which is all that is known without decoding twice.
func (a *Analyzer) fingerprintDuration(fps []fingerprint.Fingerprint) float64 {
	if len(fps) == 0 {
		return 0
	}
	last := fps[len(fps)-1].AnchorTimeMs
	imageMs := float64(a.cfg.FingerprintLength*a.cfg.Overlap) * 1000 / float64(a.cfg.SampleRate)
	return (float64(last) + imageMs) / 1000
}

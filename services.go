package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"findsimilar/analyzer"
	"findsimilar/audio"
	"findsimilar/db"
	"findsimilar/fingerprint"
	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/similar"
	"findsimilar/utils"

	"golang.org/x/sync/errgroup"
)

// services bundles what every command and handler works with.
type services struct {
	analyzer *analyzer.Analyzer
	store    db.Client
	ranker   similar.Ranker
}

func openServices() (*services, error) {
	a, err := analyzer.New(cfg)
	if err != nil {
		return nil, err
	}
	store, err := db.NewDBClient(cfg)
	if err != nil {
		return nil, err
	}
	return &services{
		analyzer: a,
		store:    store,
		ranker: similar.Ranker{
			Kind:          scms.KullbackLeibler,
			Workers:       cfg.Workers,
			SignatureBits: cfg.SignatureBits,
			Seed:          cfg.HashSeed,
		},
	}, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

type recordingResult struct {
	Matches   []fingerprint.Match `json:"matches"`
	Similar   []similar.Result    `json:"similar"`
	LatencyMs float64             `json:"latencyMs"`
}

// analyzeRecording runs duplicate matching and similarity ranking on a
// client recording. A recording too short for a model still gets matches.
func (s *services) analyzeRecording(ctx context.Context, rec models.RecordData, topK int) (recordingResult, error) {
	logger := utils.GetLogger()
	started := time.Now()
	var result recordingResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		samples, err := audio.DecodeRecording(gctx, rec, cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to decode recording: %w", err)
		}
		fps, err := s.analyzer.FingerprintSamples(samples, s.analyzer.QueryStride())
		if err != nil {
			return err
		}
		matches, _, err := fingerprint.FindMatches(gctx, s.store, fps, cfg.MatchThreshold)
		if err != nil {
			return err
		}
		result.Matches = matches
		return nil
	})
	g.Go(func() error {
		samples, err := audio.DecodeRecording(gctx, rec, cfg.ModelSampleRate)
		if err != nil {
			return fmt.Errorf("failed to decode recording: %w", err)
		}
		model, err := s.analyzer.ModelSamples(samples)
		var constructionErr *scms.ModelConstructionError
		if errors.As(err, &constructionErr) {
			logger.InfoContext(gctx, "recording has no similarity model", slog.Any("error", err))
			return nil
		}
		if err != nil {
			return err
		}
		ranked, err := s.ranker.Similar(gctx, s.store, model, topK, 0)
		if err != nil {
			return err
		}
		result.Similar = ranked
		return nil
	})
	if err := g.Wait(); err != nil {
		return recordingResult{}, err
	}

	result.LatencyMs = float64(time.Since(started).Microseconds()) / 1000
	return result, nil
}

// Package similar ranks stored track models by their distance to a query
// model.
package similar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"

	"golang.org/x/sync/errgroup"
)

type Result struct {
	TrackID  uint32  `json:"trackId"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Distance float64 `json:"distance"`
}

// ModelStore is the read side of persistence the ranker needs.
type ModelStore interface {
	AllModels() (map[uint32]*scms.Model, error)
	GetTrackByID(trackID uint32) (models.Track, bool, error)
}

// Ranker compares one query against many candidates with a single distance
// kind. The zero value ranks by Kullback-Leibler divergence.
type Ranker struct {
	Kind scms.DistanceKind
	// Workers bounds parallelism; zero means GOMAXPROCS.
	Workers int
	// Signer is required for Hamming; one is derived from SignatureBits and
	// Seed when nil.
	Signer        scms.Signer
	SignatureBits int
	Seed          uint64
	DTW           scms.DTW
}

type scored struct {
	id       uint32
	distance float64
	ok       bool
}

// Rank returns the topK candidates closest to query, ascending by distance.
// topK <= 0 returns every comparable candidate. Candidates whose dimension
// differs from the query are skipped.
func (r Ranker) Rank(ctx context.Context, query *scms.Model, candidates map[uint32]*scms.Model, topK int) ([]Result, error) {
	logger := utils.GetLogger()

	opts, err := r.comparerOptions(query)
	if err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(ids) + workers - 1) / max(workers, 1)
	results := make([]scored, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		g.Go(func() error {
			comparer := scms.NewComparer(query.Dim(), opts...)
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				id := ids[i]
				d, err := comparer.Distance(r.Kind, query, candidates[id])
				var mismatch *scms.DimensionMismatchError
				if errors.As(err, &mismatch) {
					logger.WarnContext(gctx, "skipping model with different dimension",
						slog.Any("trackID", id), slog.Int("dim", candidates[id].Dim()), slog.Int("queryDim", query.Dim()))
					continue
				}
				if err != nil {
					return fmt.Errorf("track %d: %w", id, err)
				}
				results[i] = scored{id: id, distance: d, ok: true}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]Result, 0, len(results))
	for _, s := range results {
		if s.ok {
			ranked = append(ranked, Result{TrackID: s.id, Distance: s.distance})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Distance < ranked[j].Distance
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// Similar ranks every stored model except excludeID and attaches track
// metadata to the results.
func (r Ranker) Similar(ctx context.Context, store ModelStore, query *scms.Model, topK int, excludeID uint32) ([]Result, error) {
	candidates, err := store.AllModels()
	if err != nil {
		return nil, fmt.Errorf("error loading models: %w", err)
	}
	delete(candidates, excludeID)

	ranked, err := r.Rank(ctx, query, candidates, topK)
	if err != nil {
		return nil, err
	}

	for i := range ranked {
		track, ok, err := store.GetTrackByID(ranked[i].TrackID)
		if err != nil {
			return nil, err
		}
		if ok {
			ranked[i].Title = track.Title
			ranked[i].Artist = track.Artist
		}
	}
	return ranked, nil
}

func (r Ranker) comparerOptions(query *scms.Model) ([]scms.ComparerOption, error) {
	var opts []scms.ComparerOption
	if r.DTW != nil {
		opts = append(opts, scms.WithDTW(r.DTW))
	}
	signer := r.Signer
	if signer == nil && r.Kind == scms.Hamming {
		bits := r.SignatureBits
		if bits <= 0 {
			bits = 256
		}
		s, err := scms.NewHyperplaneSigner(query.Dim(), bits, r.Seed)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	if signer != nil {
		opts = append(opts, scms.WithSigner(signer))
	}
	return opts, nil
}

package fingerprint

import (
	"fmt"
	"runtime"

	"findsimilar/models"

	"golang.org/x/sync/errgroup"
)

// Fingerprint is one encoded image ready to be stored or looked up.
type Fingerprint struct {
	Index        int
	AnchorTimeMs uint32
	Signature    Signature
	Keys         []uint64
}

// Fingerprinter cuts a log-spectrogram into images and hashes each of them.
type Fingerprinter struct {
	ImageLength int
	Overlap     int
	SampleRate  int
	Encoder     Encoder
	Hasher      *MinHasher
	Workers     int
}

// Fingerprints returns one entry per non-silent image, in image order.
func (f Fingerprinter) Fingerprints(logSpectrogram [][]float64, stride Stride) ([]Fingerprint, error) {
	if f.Hasher == nil {
		return nil, fmt.Errorf("fingerprinter has no hasher")
	}
	images := CutLogSpectrogram(logSpectrogram, stride, f.ImageLength, f.Overlap)
	results := make([]*Fingerprint, len(images))

	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, image := range images {
		g.Go(func() error {
			sig := f.Encoder.Encode(image)
			if sig.Count() == 0 {
				return nil
			}
			keys, err := f.Hasher.Keys(sig)
			if err != nil {
				return fmt.Errorf("image %d: %w", image.Index, err)
			}
			results[i] = &Fingerprint{
				Index:        image.Index,
				AnchorTimeMs: f.frameToMs(image.StartFrame),
				Signature:    sig,
				Keys:         keys,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Fingerprint, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f Fingerprinter) frameToMs(frame int) uint32 {
	if f.SampleRate <= 0 {
		return 0
	}
	return uint32(int64(frame) * int64(f.Overlap) * 1000 / int64(f.SampleRate))
}

// Couples groups fingerprints by hash key for storage under trackID.
func Couples(trackID uint32, fingerprints []Fingerprint) map[uint64][]models.Couple {
	out := make(map[uint64][]models.Couple)
	for _, fp := range fingerprints {
		couple := models.Couple{AnchorTimeMs: fp.AnchorTimeMs, TrackID: trackID}
		for _, key := range fp.Keys {
			out[key] = append(out[key], couple)
		}
	}
	return out
}

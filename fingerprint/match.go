package fingerprint

// Duplicate matching
//
// Every query fingerprint carries one hash key per min-hash table. A stored
// image is a candidate for a query image when at least `threshold` of their
// keys agree. Candidates are then grouped per track and voted into offset
// buckets: a true duplicate lines many query images up with stored images at
// one consistent time offset, while chance collisions scatter.
//
// The score of a track is the size of its best offset bucket, and the
// reported timestamp is that offset, i.e. where in the stored track the query
// begins.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"findsimilar/models"
	"findsimilar/utils"
)

// offsetBucketMs is the tolerance when aligning query and stored times.
const offsetBucketMs = 100

type Match struct {
	TrackID   uint32  `json:"trackId"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Timestamp uint32  `json:"timestamp"`
	Score     float64 `json:"score"`
	// Candidates counts image pairs that passed the key threshold.
	Candidates int `json:"candidates"`
}

// Store is the lookup side of fingerprint persistence.
type Store interface {
	GetCouples(keys []uint64) (map[uint64][]models.Couple, error)
	GetTrackByID(id uint32) (models.Track, bool, error)
}

// FindMatches looks up query fingerprints and returns tracks ordered by score.
func FindMatches(ctx context.Context, store Store, query []Fingerprint, threshold int) ([]Match, time.Duration, error) {
	startTime := time.Now()
	logger := utils.GetLogger()

	seen := make(map[uint64]struct{})
	var keys []uint64
	for _, fp := range query {
		for _, key := range fp.Keys {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}

	couples, err := store.GetCouples(keys)
	if err != nil {
		return nil, time.Since(startTime), fmt.Errorf("error looking up fingerprints: %w", err)
	}

	matches := candidatePairs(query, couples, threshold)
	scores, offsets := analyzeOffsets(matches)

	var matchList []Match
	for trackID, score := range scores {
		if err := ctx.Err(); err != nil {
			return nil, time.Since(startTime), err
		}
		track, exists, err := store.GetTrackByID(trackID)
		if err != nil {
			logger.WarnContext(ctx, "failed to get track", slog.Any("trackID", trackID), slog.Any("error", err))
			continue
		}
		if !exists {
			logger.InfoContext(ctx, "matched track no longer exists", slog.Any("trackID", trackID))
			continue
		}

		matchList = append(matchList, Match{
			TrackID:    trackID,
			Title:      track.Title,
			Artist:     track.Artist,
			Timestamp:  offsets[trackID],
			Score:      score,
			Candidates: len(matches[trackID]),
		})
	}

	sort.Slice(matchList, func(i, j int) bool {
		if matchList[i].Score != matchList[j].Score {
			return matchList[i].Score > matchList[j].Score
		}
		return matchList[i].TrackID < matchList[j].TrackID
	})

	return matchList, time.Since(startTime), nil
}

// candidatePairs returns trackID -> [(queryTime, storedTime)] for every stored
// image that shares at least threshold keys with a query image.
func candidatePairs(query []Fingerprint, couples map[uint64][]models.Couple, threshold int) map[uint32][][2]uint32 {
	matches := map[uint32][][2]uint32{}
	for _, fp := range query {
		votes := map[models.Couple]int{}
		for _, key := range fp.Keys {
			for _, couple := range couples[key] {
				votes[couple]++
			}
		}
		for couple, count := range votes {
			if count >= threshold {
				matches[couple.TrackID] = append(matches[couple.TrackID], [2]uint32{fp.AnchorTimeMs, couple.AnchorTimeMs})
			}
		}
	}
	return matches
}

// analyzeOffsets scores each track by its most populated offset bucket.
func analyzeOffsets(matches map[uint32][][2]uint32) (map[uint32]float64, map[uint32]uint32) {
	scores := make(map[uint32]float64)
	offsets := make(map[uint32]uint32)
	for trackID, times := range matches {
		buckets := map[int64]int{}
		bestBucket, bestCount := int64(0), 0
		for _, pair := range times {
			offset := int64(pair[1]) - int64(pair[0])
			bucket := floorDiv(offset, offsetBucketMs)
			buckets[bucket]++
			if c := buckets[bucket]; c > bestCount || (c == bestCount && bucket < bestBucket) {
				bestBucket, bestCount = bucket, c
			}
		}
		scores[trackID] = float64(bestCount)
		if start := bestBucket * offsetBucketMs; start > 0 {
			offsets[trackID] = uint32(start)
		}
	}
	return scores, offsets
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

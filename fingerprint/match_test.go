package fingerprint

import (
	"context"
	"testing"

	"findsimilar/models"
)

type memoryStore struct {
	couples map[uint64][]models.Couple
	tracks  map[uint32]models.Track
}

func newMemoryStore() *memoryStore {
	return &memoryStore{couples: map[uint64][]models.Couple{}, tracks: map[uint32]models.Track{}}
}

func (m *memoryStore) add(track models.Track, fps []Fingerprint) {
	m.tracks[track.ID] = track
	for _, fp := range fps {
		for _, key := range fp.Keys {
			m.couples[key] = append(m.couples[key], models.Couple{AnchorTimeMs: fp.AnchorTimeMs, TrackID: track.ID})
		}
	}
}

func (m *memoryStore) GetCouples(keys []uint64) (map[uint64][]models.Couple, error) {
	out := make(map[uint64][]models.Couple, len(keys))
	for _, k := range keys {
		if c, ok := m.couples[k]; ok {
			out[k] = c
		}
	}
	return out, nil
}

func (m *memoryStore) GetTrackByID(id uint32) (models.Track, bool, error) {
	t, ok := m.tracks[id]
	return t, ok, nil
}

func fingerprintsWithKeys(start uint32, step uint32, keys [][]uint64) []Fingerprint {
	out := make([]Fingerprint, len(keys))
	for i, k := range keys {
		out[i] = Fingerprint{Index: i, AnchorTimeMs: start + uint32(i)*step, Keys: k}
	}
	return out
}

func TestFindMatchesAlignsOffset(t *testing.T) {
	t.Parallel()

	keys := [][]uint64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12}}
	store := newMemoryStore()
	store.add(models.Track{ID: 1, Title: "Original"}, fingerprintsWithKeys(0, 1000, keys))
	// a different track that shares one image at an unrelated time
	store.add(models.Track{ID: 2, Title: "Other"}, fingerprintsWithKeys(5000, 1000, keys[2:3]))

	// the query is the last three images, recorded from 2s into the track
	query := fingerprintsWithKeys(0, 1000, keys[1:])

	matches, _, err := FindMatches(context.Background(), store, query, 2)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	best := matches[0]
	if best.TrackID != 1 || best.Score != 3 {
		t.Fatalf("unexpected best match %+v", best)
	}
	if best.Timestamp != 1000 {
		t.Fatalf("expected offset 1000ms, got %d", best.Timestamp)
	}
	if matches[1].TrackID != 2 || matches[1].Score != 1 {
		t.Fatalf("unexpected second match %+v", matches[1])
	}
}

func TestFindMatchesThreshold(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(models.Track{ID: 9}, fingerprintsWithKeys(0, 1000, [][]uint64{{1, 2, 3}}))
	query := fingerprintsWithKeys(0, 1000, [][]uint64{{1, 20, 30}})

	matches, _, err := FindMatches(context.Background(), store, query, 2)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches below threshold, got %+v", matches)
	}
}

func TestFindMatchesSkipsDeletedTracks(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(models.Track{ID: 3}, fingerprintsWithKeys(0, 1000, [][]uint64{{1, 2}}))
	delete(store.tracks, 3)

	matches, _, err := FindMatches(context.Background(), store, fingerprintsWithKeys(0, 1000, [][]uint64{{1, 2}}), 1)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected deleted track to be skipped, got %+v", matches)
	}
}

func TestFloorDiv(t *testing.T) {
	t.Parallel()

	cases := [][3]int64{{250, 100, 2}, {-50, 100, -1}, {-100, 100, -1}, {0, 100, 0}}
	for _, c := range cases {
		if got := floorDiv(c[0], c[1]); got != c[2] {
			t.Errorf("floorDiv(%d, %d) = %d, expected %d", c[0], c[1], got, c[2])
		}
	}
}

func TestFingerprinterEndToEnd(t *testing.T) {
	t.Parallel()

	logSpec := syntheticLogSpectrogram(400, 8)
	hasher, err := NewMinHasher(2*16*8, 10, 3, 11)
	if err != nil {
		t.Fatalf("NewMinHasher returned error: %v", err)
	}
	fp := Fingerprinter{ImageLength: 16, Overlap: 64, SampleRate: 5512, Encoder: Encoder{TopWavelets: 24}, Hasher: hasher, Workers: 2}

	stored, err := fp.Fingerprints(logSpec, StaticStride{})
	if err != nil {
		t.Fatalf("Fingerprints returned error: %v", err)
	}
	if len(stored) == 0 {
		t.Fatal("no fingerprints produced")
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].AnchorTimeMs <= stored[i-1].AnchorTimeMs {
			t.Fatalf("fingerprints out of order at %d", i)
		}
	}

	store := newMemoryStore()
	store.add(models.Track{ID: 42, Title: "Self"}, stored)

	matches, _, err := FindMatches(context.Background(), store, stored, 10)
	if err != nil {
		t.Fatalf("FindMatches returned error: %v", err)
	}
	if len(matches) == 0 || matches[0].TrackID != 42 {
		t.Fatalf("expected self match, got %+v", matches)
	}
	if matches[0].Timestamp != 0 {
		t.Fatalf("self match offset %d, expected 0", matches[0].Timestamp)
	}
}

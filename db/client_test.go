package db

import (
	"errors"
	"path/filepath"
	"testing"

	"findsimilar/config"
	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"
)

func backends(t *testing.T) map[string]func(t *testing.T) Client {
	t.Helper()
	out := map[string]func(t *testing.T) Client{
		"sqlite": func(t *testing.T) Client {
			c, err := NewSQLiteClient(filepath.Join(t.TempDir(), "nested", "test.sqlite3"))
			if err != nil {
				t.Fatalf("NewSQLiteClient returned error: %v", err)
			}
			return c
		},
		"badger": func(t *testing.T) Client {
			c, err := NewBadgerClient(BadgerOptions{InMemory: true})
			if err != nil {
				t.Fatalf("NewBadgerClient returned error: %v", err)
			}
			return c
		},
	}
	if uri := utils.GetEnv("MONGO_URI"); uri != "" {
		out["mongo"] = func(t *testing.T) Client {
			c, err := NewMongoClient(uri)
			if err != nil {
				t.Fatalf("NewMongoClient returned error: %v", err)
			}
			for _, name := range []string{"tracks", "fingerprints", "models"} {
				if err := c.DeleteCollection(name); err != nil {
					t.Fatalf("failed to reset %s: %v", name, err)
				}
			}
			return c
		}
	}
	return out
}

func testModel(t *testing.T, scale float32) *scms.Model {
	t.Helper()
	m, err := scms.NewModel(
		[]float32{scale, 2 * scale},
		[]float32{1, 0.5, 2},
		[]float32{1.3333334, -0.33333334, 0.6666667},
	)
	if err != nil {
		t.Fatalf("NewModel returned error: %v", err)
	}
	return m
}

func TestClientTracks(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := open(t)
			defer c.Close()

			id, err := c.RegisterTrack(models.Track{Title: "Song", Artist: "Band", Path: "a.wav", Duration: 12.5})
			if err != nil {
				t.Fatalf("RegisterTrack returned error: %v", err)
			}

			track, ok, err := c.GetTrackByID(id)
			if err != nil || !ok {
				t.Fatalf("GetTrackByID = %v, %v", ok, err)
			}
			if track.Title != "Song" || track.Artist != "Band" || track.Path != "a.wav" || track.Duration != 12.5 {
				t.Fatalf("unexpected track %+v", track)
			}

			byKey, ok, err := c.GetTrackByKey(utils.GenerateTrackKey("song", "band"))
			if err != nil || !ok || byKey.ID != id {
				t.Fatalf("GetTrackByKey = %+v, %v, %v", byKey, ok, err)
			}

			if _, err := c.RegisterTrack(models.Track{Title: " SONG ", Artist: "band"}); !errors.Is(err, ErrDuplicateTrack) {
				t.Fatalf("expected ErrDuplicateTrack, got %v", err)
			}

			if _, err := c.RegisterTrack(models.Track{Title: "Other", Artist: "Band"}); err != nil {
				t.Fatalf("RegisterTrack returned error: %v", err)
			}
			total, err := c.TotalTracks()
			if err != nil || total != 2 {
				t.Fatalf("TotalTracks = %d, %v", total, err)
			}
			tracks, err := c.ListTracks()
			if err != nil || len(tracks) != 2 {
				t.Fatalf("ListTracks = %d tracks, %v", len(tracks), err)
			}

			if _, ok, err := c.GetTrackByID(id + 1); err != nil || ok {
				t.Fatalf("expected missing track, got %v, %v", ok, err)
			}
		})
	}
}

func TestClientFingerprintsAndModels(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := open(t)
			defer c.Close()

			keep, err := c.RegisterTrack(models.Track{Title: "Keep", Artist: "A"})
			if err != nil {
				t.Fatalf("RegisterTrack returned error: %v", err)
			}
			drop, err := c.RegisterTrack(models.Track{Title: "Drop", Artist: "A"})
			if err != nil {
				t.Fatalf("RegisterTrack returned error: %v", err)
			}

			// the high key exercises the signed column round trip
			const highKey = uint64(1) << 63
			err = c.StoreFingerprints(map[uint64][]models.Couple{
				7:       {{AnchorTimeMs: 0, TrackID: keep}, {AnchorTimeMs: 500, TrackID: drop}},
				highKey: {{AnchorTimeMs: 1000, TrackID: keep}},
			})
			if err != nil {
				t.Fatalf("StoreFingerprints returned error: %v", err)
			}

			couples, err := c.GetCouples([]uint64{7, highKey, 99})
			if err != nil {
				t.Fatalf("GetCouples returned error: %v", err)
			}
			if len(couples[7]) != 2 || len(couples[highKey]) != 1 || len(couples[99]) != 0 {
				t.Fatalf("unexpected couples %v", couples)
			}
			if couples[highKey][0] != (models.Couple{AnchorTimeMs: 1000, TrackID: keep}) {
				t.Fatalf("unexpected couple %+v", couples[highKey][0])
			}

			for id, scale := range map[uint32]float32{keep: 1, drop: 3} {
				if err := c.StoreModel(id, testModel(t, scale)); err != nil {
					t.Fatalf("StoreModel returned error: %v", err)
				}
			}
			got, ok, err := c.GetModel(keep)
			if err != nil || !ok || !got.Equal(testModel(t, 1)) {
				t.Fatalf("GetModel = %v, %v", ok, err)
			}
			all, err := c.AllModels()
			if err != nil || len(all) != 2 || !all[drop].Equal(testModel(t, 3)) {
				t.Fatalf("AllModels = %d models, %v", len(all), err)
			}

			if err := c.DeleteTrackByID(drop); err != nil {
				t.Fatalf("DeleteTrackByID returned error: %v", err)
			}
			if _, ok, _ := c.GetModel(drop); ok {
				t.Fatal("model of deleted track still present")
			}
			couples, err = c.GetCouples([]uint64{7})
			if err != nil || len(couples[7]) != 1 || couples[7][0].TrackID != keep {
				t.Fatalf("fingerprints after delete = %v, %v", couples, err)
			}
			if total, _ := c.TotalTracks(); total != 1 {
				t.Fatalf("expected 1 track after delete, got %d", total)
			}
			if _, err := c.RegisterTrack(models.Track{Title: "Drop", Artist: "A"}); err != nil {
				t.Fatalf("re-registering a deleted track failed: %v", err)
			}
		})
	}
}

func TestNewDBClient(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "db.sqlite3")
	c, err := NewDBClient(cfg)
	if err != nil {
		t.Fatalf("NewDBClient returned error: %v", err)
	}
	if _, ok := c.(*SQLiteClient); !ok {
		t.Fatalf("expected SQLite client, got %T", c)
	}
	c.Close()

	cfg.DBType = "badger"
	cfg.DBPath = filepath.Join(t.TempDir(), "badger")
	c, err = NewDBClient(cfg)
	if err != nil {
		t.Fatalf("NewDBClient returned error: %v", err)
	}
	if _, ok := c.(*BadgerClient); !ok {
		t.Fatalf("expected Badger client, got %T", c)
	}
	c.Close()

	cfg.DBType = "postgres"
	if _, err := NewDBClient(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestDeleteCollectionRejectsUnknown(t *testing.T) {
	t.Parallel()

	c, err := NewSQLiteClient(filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatalf("NewSQLiteClient returned error: %v", err)
	}
	defer c.Close()
	if err := c.DeleteCollection("tracks; DROP TABLE models"); err == nil {
		t.Fatal("expected error for unknown collection")
	}
	if err := c.DeleteCollection("fingerprints"); err != nil {
		t.Fatalf("DeleteCollection returned error: %v", err)
	}
}

package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"findsimilar/config"
	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"
)

// Client is implemented by every storage backend.
type Client interface {
	Close() error

	RegisterTrack(track models.Track) (uint32, error)
	GetTrackByID(trackID uint32) (models.Track, bool, error)
	GetTrackByKey(key string) (models.Track, bool, error)
	ListTracks() ([]models.Track, error)
	DeleteTrackByID(trackID uint32) error
	TotalTracks() (int, error)

	StoreFingerprints(couples map[uint64][]models.Couple) error
	GetCouples(keys []uint64) (map[uint64][]models.Couple, error)

	StoreModel(trackID uint32, model *scms.Model) error
	GetModel(trackID uint32) (*scms.Model, bool, error)
	AllModels() (map[uint32]*scms.Model, error)

	DeleteCollection(collectionName string) error
}

// NewDBClient opens the backend selected by cfg.DBType.
func NewDBClient(cfg config.Config) (Client, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "sqlite":
		return NewSQLiteClient(cfg.DBPath)
	case "badger":
		return NewBadgerClient(BadgerOptions{Dir: cfg.DBPath})
	case "mongo", "mongodb":
		return NewMongoClient(cfg.MongoURI)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

// ErrDuplicateTrack is returned when a track with the same key already exists.
var ErrDuplicateTrack = errors.New("track with this key already exists")

func prepareTrack(track *models.Track) {
	if track.ID == 0 {
		track.ID = utils.GenerateUniqueID()
	}
	if track.Key == "" {
		track.Key = utils.GenerateTrackKey(track.Title, track.Artist)
	}
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now().UTC()
	}
}

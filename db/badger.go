package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout:
//
//	t/<id>                      msgpack models.Track
//	k/<track key>               <id>
//	f/<hash><trackID><anchor>   empty
//	r/<trackID><hash><anchor>   empty, per-track index of the f/ entries
//	m/<id>                      scms binary model
var (
	trackPrefix       = []byte("t/")
	trackKeyPrefix    = []byte("k/")
	fingerprintPrefix = []byte("f/")
	reversePrefix     = []byte("r/")
	modelPrefix       = []byte("m/")
)

type BadgerClient struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir is the directory for the data files. Required unless InMemory.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool
}

func NewBadgerClient(opts BadgerOptions) (*BadgerClient, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger directory is required for on-disk mode")
	}
	if !opts.InMemory {
		if err := utils.CreateFolder(opts.Dir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}
	return &BadgerClient{db: db}, nil
}

func (b *BadgerClient) Close() error {
	return b.db.Close()
}

func withID(prefix []byte, id uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), prefix...), id)
}

func hashPrefix(key uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), fingerprintPrefix...), key)
}

// fingerprintKeys returns the f/ entry of a couple and its r/ twin.
func fingerprintKeys(key uint64, couple models.Couple) ([]byte, []byte) {
	forward := hashPrefix(key)
	forward = binary.BigEndian.AppendUint32(forward, couple.TrackID)
	forward = binary.BigEndian.AppendUint32(forward, couple.AnchorTimeMs)

	reverse := withID(reversePrefix, couple.TrackID)
	reverse = binary.BigEndian.AppendUint64(reverse, key)
	reverse = binary.BigEndian.AppendUint32(reverse, couple.AnchorTimeMs)
	return forward, reverse
}

func (b *BadgerClient) RegisterTrack(track models.Track) (uint32, error) {
	prepareTrack(&track)

	value, err := msgpack.Marshal(&track)
	if err != nil {
		return 0, fmt.Errorf("error encoding track: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		keyEntry := append(append([]byte(nil), trackKeyPrefix...), track.Key...)
		if _, err := txn.Get(keyEntry); err == nil {
			return ErrDuplicateTrack
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(keyEntry, binary.BigEndian.AppendUint32(nil, track.ID)); err != nil {
			return err
		}
		return txn.Set(withID(trackPrefix, track.ID), value)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateTrack) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to register track: %w", err)
	}
	return track.ID, nil
}

func (b *BadgerClient) GetTrackByID(trackID uint32) (models.Track, bool, error) {
	var track models.Track
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withID(trackPrefix, trackID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &track)
		})
	})
	if err != nil {
		return models.Track{}, false, fmt.Errorf("failed to retrieve track: %w", err)
	}
	return track, found, nil
}

func (b *BadgerClient) GetTrackByKey(key string) (models.Track, bool, error) {
	var trackID uint32
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(append(append([]byte(nil), trackKeyPrefix...), key...))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 {
				return fmt.Errorf("corrupt track key entry for %q", key)
			}
			trackID = binary.BigEndian.Uint32(val)
			found = true
			return nil
		})
	})
	if err != nil {
		return models.Track{}, false, fmt.Errorf("failed to retrieve track: %w", err)
	}
	if !found {
		return models.Track{}, false, nil
	}
	return b.GetTrackByID(trackID)
}

func (b *BadgerClient) ListTracks() ([]models.Track, error) {
	var tracks []models.Track
	err := b.scan(trackPrefix, true, func(_ []byte, val []byte) error {
		var track models.Track
		if err := msgpack.Unmarshal(val, &track); err != nil {
			return err
		}
		tracks = append(tracks, track)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing tracks: %w", err)
	}
	return tracks, nil
}

func (b *BadgerClient) TotalTracks() (int, error) {
	count := 0
	err := b.scan(trackPrefix, false, func([]byte, []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error counting tracks: %w", err)
	}
	return count, nil
}

// DeleteTrackByID removes a track along with its fingerprints and model.
func (b *BadgerClient) DeleteTrackByID(trackID uint32) error {
	track, found, err := b.GetTrackByID(trackID)
	if err != nil {
		return err
	}

	var doomed [][]byte
	err = b.scan(withID(reversePrefix, trackID), false, func(key []byte, _ []byte) error {
		// r/ + trackID(4) + hash(8) + anchor(4)
		if len(key) != len(reversePrefix)+16 {
			return nil
		}
		rest := key[len(reversePrefix)+4:]
		forward, _ := fingerprintKeys(binary.BigEndian.Uint64(rest), models.Couple{
			TrackID:      trackID,
			AnchorTimeMs: binary.BigEndian.Uint32(rest[8:]),
		})
		doomed = append(doomed, forward, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	doomed = append(doomed, withID(modelPrefix, trackID), withID(trackPrefix, trackID))
	if found {
		doomed = append(doomed, append(append([]byte(nil), trackKeyPrefix...), track.Key...))
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete track: %w", err)
		}
	}
	return wb.Flush()
}

func (b *BadgerClient) StoreFingerprints(couples map[uint64][]models.Couple) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for key, list := range couples {
		for _, couple := range list {
			forward, reverse := fingerprintKeys(key, couple)
			if err := wb.Set(forward, nil); err != nil {
				return fmt.Errorf("error storing fingerprint: %w", err)
			}
			if err := wb.Set(reverse, nil); err != nil {
				return fmt.Errorf("error storing fingerprint: %w", err)
			}
		}
	}
	return wb.Flush()
}

func (b *BadgerClient) GetCouples(keys []uint64) (map[uint64][]models.Couple, error) {
	couples := make(map[uint64][]models.Couple)
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for _, key := range keys {
			prefix := hashPrefix(key)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				k := it.Item().Key()
				if len(k) != len(prefix)+8 {
					continue
				}
				couples[key] = append(couples[key], models.Couple{
					TrackID:      binary.BigEndian.Uint32(k[len(prefix):]),
					AnchorTimeMs: binary.BigEndian.Uint32(k[len(prefix)+4:]),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error querying fingerprints: %w", err)
	}
	return couples, nil
}

func (b *BadgerClient) StoreModel(trackID uint32, model *scms.Model) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(withID(modelPrefix, trackID), scms.Marshal(model))
	})
	if err != nil {
		return fmt.Errorf("error storing model: %w", err)
	}
	return nil
}

func (b *BadgerClient) GetModel(trackID uint32) (*scms.Model, bool, error) {
	var model *scms.Model
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(withID(modelPrefix, trackID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			model, err = scms.Unmarshal(val)
			return err
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to retrieve model: %w", err)
	}
	return model, model != nil, nil
}

func (b *BadgerClient) AllModels() (map[uint32]*scms.Model, error) {
	out := make(map[uint32]*scms.Model)
	err := b.scan(modelPrefix, true, func(key []byte, val []byte) error {
		trackID := binary.BigEndian.Uint32(key[len(modelPrefix):])
		model, err := scms.Unmarshal(val)
		if err != nil {
			return fmt.Errorf("failed to decode model for track %d: %w", trackID, err)
		}
		out[trackID] = model
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCollection drops every entry belonging to the named collection.
func (b *BadgerClient) DeleteCollection(collectionName string) error {
	var prefixes [][]byte
	switch collectionName {
	case "tracks":
		prefixes = [][]byte{trackPrefix, trackKeyPrefix}
	case "fingerprints":
		prefixes = [][]byte{fingerprintPrefix, reversePrefix}
	case "models":
		prefixes = [][]byte{modelPrefix}
	default:
		return fmt.Errorf("unknown collection %q", collectionName)
	}
	if err := b.db.DropPrefix(prefixes...); err != nil {
		return fmt.Errorf("error deleting collection: %w", err)
	}
	return nil
}

// scan calls fn with a copy of every key under prefix, and its value when
// withValues is set.
func (b *BadgerClient) scan(prefix []byte, withValues bool, fn func(key, val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = withValues
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var val []byte
			if withValues {
				var err error
				if val, err = item.ValueCopy(nil); err != nil {
					return err
				}
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger warnings into the application logger and drops
// its info and debug chatter.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	utils.GetLogger().Error(fmt.Sprintf("badger: "+f, v...))
}
func (badgerLogger) Warningf(f string, v ...interface{}) {
	utils.GetLogger().Warn(fmt.Sprintf("badger: "+f, v...))
}
func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

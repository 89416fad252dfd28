package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	err = createTables(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

func createTables(db *sql.DB) error {
	createTracksTable := `
    CREATE TABLE IF NOT EXISTS tracks (
        id INTEGER PRIMARY KEY,
        title TEXT NOT NULL,
        artist TEXT NOT NULL,
        path TEXT,
        key TEXT NOT NULL UNIQUE,
        duration REAL NOT NULL DEFAULT 0,
        createdAt DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    `

	// keys are stored as the signed reinterpretation of the uint64 hash
	createFingerprintsTable := `
    CREATE TABLE IF NOT EXISTS fingerprints (
        key INTEGER NOT NULL,
        anchorTimeMs INTEGER NOT NULL,
        trackID INTEGER NOT NULL,
        PRIMARY KEY (key, anchorTimeMs, trackID)
    );
    CREATE INDEX IF NOT EXISTS idx_fingerprints_track ON fingerprints(trackID);
    `

	createModelsTable := `
    CREATE TABLE IF NOT EXISTS models (
        trackID INTEGER PRIMARY KEY,
        dim INTEGER NOT NULL,
        data BLOB NOT NULL
    );
    `

	_, err := db.Exec(createTracksTable)
	if err != nil {
		return fmt.Errorf("error creating tracks table: %s", err)
	}

	_, err = db.Exec(createFingerprintsTable)
	if err != nil {
		return fmt.Errorf("error creating fingerprints table: %s", err)
	}

	_, err = db.Exec(createModelsTable)
	if err != nil {
		return fmt.Errorf("error creating models table: %s", err)
	}

	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

func (db *SQLiteClient) StoreFingerprints(couples map[uint64][]models.Couple) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO fingerprints (key, anchorTimeMs, trackID) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	for key, list := range couples {
		for _, couple := range list {
			if _, err := stmt.Exec(int64(key), couple.AnchorTimeMs, couple.TrackID); err != nil {
				tx.Rollback()
				return fmt.Errorf("error executing statement: %s", err)
			}
		}
	}

	return tx.Commit()
}

func (db *SQLiteClient) GetCouples(keys []uint64) (map[uint64][]models.Couple, error) {
	couples := make(map[uint64][]models.Couple)

	stmt, err := db.db.Prepare("SELECT anchorTimeMs, trackID FROM fingerprints WHERE key = ?")
	if err != nil {
		return nil, fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		rows, err := stmt.Query(int64(key))
		if err != nil {
			return nil, fmt.Errorf("error querying database: %s", err)
		}

		var keyCouples []models.Couple
		for rows.Next() {
			var couple models.Couple
			if err := rows.Scan(&couple.AnchorTimeMs, &couple.TrackID); err != nil {
				rows.Close()
				return nil, fmt.Errorf("error scanning row: %s", err)
			}
			keyCouples = append(keyCouples, couple)
		}
		rows.Close()

		if len(keyCouples) > 0 {
			couples[key] = keyCouples
		}
	}

	return couples, nil
}

func (db *SQLiteClient) TotalTracks() (int, error) {
	var count int
	err := db.db.QueryRow("SELECT COUNT(*) FROM tracks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting tracks: %s", err)
	}
	return count, nil
}

func (db *SQLiteClient) RegisterTrack(track models.Track) (uint32, error) {
	prepareTrack(&track)

	_, err := db.db.Exec(
		"INSERT INTO tracks (id, title, artist, path, key, duration, createdAt) VALUES (?, ?, ?, ?, ?, ?, ?)",
		track.ID, track.Title, track.Artist, track.Path, track.Key, track.Duration, track.CreatedAt,
	)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "UNIQUE constraint") || strings.Contains(errMsg, "constraint failed") {
			return 0, fmt.Errorf("%w: %v", ErrDuplicateTrack, err)
		}
		return 0, fmt.Errorf("failed to register track: %v", err)
	}

	return track.ID, nil
}

var sqliteFilterKeys = map[string]bool{"id": true, "key": true}

// GetTrack retrieves a track by filter key
func (db *SQLiteClient) GetTrack(filterKey string, value interface{}) (models.Track, bool, error) {
	if !sqliteFilterKeys[filterKey] {
		return models.Track{}, false, fmt.Errorf("invalid filter key")
	}

	query := fmt.Sprintf("SELECT id, title, artist, path, key, duration, createdAt FROM tracks WHERE %s = ?", filterKey)

	track, err := scanTrack(db.db.QueryRow(query, value))
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Track{}, false, nil
		}
		return models.Track{}, false, fmt.Errorf("failed to retrieve track: %s", err)
	}

	return track, true, nil
}

func (db *SQLiteClient) GetTrackByID(trackID uint32) (models.Track, bool, error) {
	return db.GetTrack("id", trackID)
}

func (db *SQLiteClient) GetTrackByKey(key string) (models.Track, bool, error) {
	return db.GetTrack("key", key)
}

func (db *SQLiteClient) ListTracks() ([]models.Track, error) {
	rows, err := db.db.Query("SELECT id, title, artist, path, key, duration, createdAt FROM tracks ORDER BY createdAt, id")
	if err != nil {
		return nil, fmt.Errorf("error querying tracks: %s", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning track: %s", err)
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row rowScanner) (models.Track, error) {
	var track models.Track
	var path sql.NullString
	err := row.Scan(&track.ID, &track.Title, &track.Artist, &path, &track.Key, &track.Duration, &track.CreatedAt)
	track.Path = path.String
	return track, err
}

// DeleteTrackByID removes a track along with its fingerprints and model.
func (db *SQLiteClient) DeleteTrackByID(trackID uint32) error {
	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}

	for _, query := range []string{
		"DELETE FROM fingerprints WHERE trackID = ?",
		"DELETE FROM models WHERE trackID = ?",
		"DELETE FROM tracks WHERE id = ?",
	} {
		if _, err := tx.Exec(query, trackID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete track: %v", err)
		}
	}

	return tx.Commit()
}

func (db *SQLiteClient) StoreModel(trackID uint32, model *scms.Model) error {
	_, err := db.db.Exec(
		"INSERT OR REPLACE INTO models (trackID, dim, data) VALUES (?, ?, ?)",
		trackID, model.Dim(), scms.Marshal(model),
	)
	if err != nil {
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

func (db *SQLiteClient) GetModel(trackID uint32) (*scms.Model, bool, error) {
	var data []byte
	err := db.db.QueryRow("SELECT data FROM models WHERE trackID = ?", trackID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to retrieve model: %s", err)
	}

	model, err := scms.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode model for track %d: %w", trackID, err)
	}
	return model, true, nil
}

func (db *SQLiteClient) AllModels() (map[uint32]*scms.Model, error) {
	rows, err := db.db.Query("SELECT trackID, data FROM models")
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer rows.Close()

	out := make(map[uint32]*scms.Model)
	for rows.Next() {
		var trackID uint32
		var data []byte
		if err := rows.Scan(&trackID, &data); err != nil {
			return nil, fmt.Errorf("error scanning model: %s", err)
		}
		model, err := scms.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode model for track %d: %w", trackID, err)
		}
		out[trackID] = model
	}
	return out, rows.Err()
}

var sqliteCollections = map[string]bool{"tracks": true, "fingerprints": true, "models": true}

// DeleteCollection drops a table; it is recreated empty on the next open.
func (db *SQLiteClient) DeleteCollection(collectionName string) error {
	if !sqliteCollections[collectionName] {
		return fmt.Errorf("unknown collection %q", collectionName)
	}
	_, err := db.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", collectionName))
	if err != nil {
		return fmt.Errorf("error deleting collection: %v", err)
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"findsimilar/models"
	"findsimilar/scms"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDatabase = "findsimilar"
	mongoTimeout  = 30 * time.Second
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

type fingerprintDoc struct {
	Key          int64  `bson:"key"`
	AnchorTimeMs uint32 `bson:"anchorTimeMs"`
	TrackID      uint32 `bson:"trackID"`
}

type modelDoc struct {
	TrackID uint32 `bson:"_id"`
	Dim     int    `bson:"dim"`
	Data    []byte `bson:"data"`
}

func NewMongoClient(uri string) (*MongoClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %s", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging MongoDB: %s", err)
	}

	m := &MongoClient{client: client, db: client.Database(mongoDatabase)}
	if err := m.createIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MongoClient) createIndexes(ctx context.Context) error {
	_, err := m.db.Collection("tracks").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("error creating track index: %s", err)
	}

	_, err = m.db.Collection("fingerprints").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}, {Key: "anchorTimeMs", Value: 1}, {Key: "trackID", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "trackID", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("error creating fingerprint indexes: %s", err)
	}
	return nil
}

func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoClient) RegisterTrack(track models.Track) (uint32, error) {
	prepareTrack(&track)
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := m.db.Collection("tracks").InsertOne(ctx, track); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: %v", ErrDuplicateTrack, err)
		}
		return 0, fmt.Errorf("failed to register track: %v", err)
	}
	return track.ID, nil
}

func (m *MongoClient) getTrack(filter bson.M) (models.Track, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var track models.Track
	err := m.db.Collection("tracks").FindOne(ctx, filter).Decode(&track)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Track{}, false, nil
	}
	if err != nil {
		return models.Track{}, false, fmt.Errorf("failed to retrieve track: %s", err)
	}
	return track, true, nil
}

func (m *MongoClient) GetTrackByID(trackID uint32) (models.Track, bool, error) {
	return m.getTrack(bson.M{"_id": trackID})
}

func (m *MongoClient) GetTrackByKey(key string) (models.Track, bool, error) {
	return m.getTrack(bson.M{"key": key})
}

func (m *MongoClient) ListTracks() ([]models.Track, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	cursor, err := m.db.Collection("tracks").Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error querying tracks: %s", err)
	}
	var tracks []models.Track
	if err := cursor.All(ctx, &tracks); err != nil {
		return nil, fmt.Errorf("error decoding tracks: %s", err)
	}
	return tracks, nil
}

func (m *MongoClient) TotalTracks() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	count, err := m.db.Collection("tracks").CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("error counting tracks: %s", err)
	}
	return int(count), nil
}

// DeleteTrackByID removes a track along with its fingerprints and model.
func (m *MongoClient) DeleteTrackByID(trackID uint32) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := m.db.Collection("fingerprints").DeleteMany(ctx, bson.M{"trackID": trackID}); err != nil {
		return fmt.Errorf("failed to delete fingerprints: %v", err)
	}
	if _, err := m.db.Collection("models").DeleteOne(ctx, bson.M{"_id": trackID}); err != nil {
		return fmt.Errorf("failed to delete model: %v", err)
	}
	if _, err := m.db.Collection("tracks").DeleteOne(ctx, bson.M{"_id": trackID}); err != nil {
		return fmt.Errorf("failed to delete track: %v", err)
	}
	return nil
}

func (m *MongoClient) StoreFingerprints(couples map[uint64][]models.Couple) error {
	var writes []mongo.WriteModel
	for key, list := range couples {
		for _, couple := range list {
			doc := fingerprintDoc{Key: int64(key), AnchorTimeMs: couple.AnchorTimeMs, TrackID: couple.TrackID}
			writes = append(writes, mongo.NewReplaceOneModel().SetFilter(doc).SetReplacement(doc).SetUpsert(true))
		}
	}
	if len(writes) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	if _, err := m.db.Collection("fingerprints").BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("error storing fingerprints: %s", err)
	}
	return nil
}

func (m *MongoClient) GetCouples(keys []uint64) (map[uint64][]models.Couple, error) {
	couples := make(map[uint64][]models.Couple)
	if len(keys) == 0 {
		return couples, nil
	}

	signed := make([]int64, len(keys))
	for i, k := range keys {
		signed[i] = int64(k)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	cursor, err := m.db.Collection("fingerprints").Find(ctx, bson.M{"key": bson.M{"$in": signed}})
	if err != nil {
		return nil, fmt.Errorf("error querying fingerprints: %s", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc fingerprintDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding fingerprint: %s", err)
		}
		key := uint64(doc.Key)
		couples[key] = append(couples[key], models.Couple{AnchorTimeMs: doc.AnchorTimeMs, TrackID: doc.TrackID})
	}
	return couples, cursor.Err()
}

func (m *MongoClient) StoreModel(trackID uint32, model *scms.Model) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	doc := modelDoc{TrackID: trackID, Dim: model.Dim(), Data: scms.Marshal(model)}
	_, err := m.db.Collection("models").ReplaceOne(ctx, bson.M{"_id": trackID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("error storing model: %s", err)
	}
	return nil
}

func (m *MongoClient) GetModel(trackID uint32) (*scms.Model, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var doc modelDoc
	err := m.db.Collection("models").FindOne(ctx, bson.M{"_id": trackID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to retrieve model: %s", err)
	}
	model, err := scms.Unmarshal(doc.Data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode model for track %d: %w", trackID, err)
	}
	return model, true, nil
}

func (m *MongoClient) AllModels() (map[uint32]*scms.Model, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	cursor, err := m.db.Collection("models").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error querying models: %s", err)
	}
	defer cursor.Close(ctx)

	out := make(map[uint32]*scms.Model)
	for cursor.Next(ctx) {
		var doc modelDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("error decoding model: %s", err)
		}
		model, err := scms.Unmarshal(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode model for track %d: %w", doc.TrackID, err)
		}
		out[doc.TrackID] = model
	}
	return out, cursor.Err()
}

func (m *MongoClient) DeleteCollection(collectionName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if err := m.db.Collection(collectionName).Drop(ctx); err != nil {
		return fmt.Errorf("error deleting collection: %v", err)
	}
	return nil
}

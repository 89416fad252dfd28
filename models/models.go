package models

import "time"

// Couple ties one hashed fingerprint key to the image it was cut from.
type Couple struct {
	AnchorTimeMs uint32
	TrackID      uint32
}

type Track struct {
	ID        uint32    `json:"id" bson:"_id"`
	Title     string    `json:"title" bson:"title"`
	Artist    string    `json:"artist" bson:"artist"`
	Path      string    `json:"path" bson:"path"`
	Key       string    `json:"key" bson:"key"`
	Duration  float64   `json:"duration" bson:"duration"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// RecordData is the payload a client sends with a live recording.
type RecordData struct {
	Audio      string  `json:"audio"`
	Duration   float64 `json:"duration"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	SampleSize int     `json:"sampleSize"`
}

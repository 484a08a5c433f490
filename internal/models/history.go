package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HistoryRecord is one retained transport message. Message holds the raw JSON payload.
type HistoryRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Channel   string             `bson:"channel" json:"channel"`
	Publisher string             `bson:"publisher" json:"publisher"`
	Timetoken int64              `bson:"timetoken" json:"timetoken"`
	Message   string             `bson:"message" json:"message"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

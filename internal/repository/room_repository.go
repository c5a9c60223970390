package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

type RoomRepository struct {
	col *mongo.Collection
}

func NewRoomRepository(db *mongo.Database) *RoomRepository {
	return &RoomRepository{col: db.Collection(roomsCollection)}
}

// Upsert replaces the whole room, peer directory included. A re-accept after a
// rollback therefore starts from an empty directory.
func (r *RoomRepository) Upsert(ctx context.Context, room *models.Room) error {
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": room.ID}, room, options.Replace().SetUpsert(true))
	return translate(err)
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&room); err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (r *RoomRepository) Deactivate(ctx context.Context, id, by, reason string, at time.Time) error {
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"active":     false,
		"ended_at":   at,
		"ended_by":   by,
		"end_reason": reason,
	}})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *RoomRepository) SetPeerID(ctx context.Context, roomID, uid, peerID string) error {
	res, err := r.col.UpdateByID(ctx, roomID, bson.M{"$set": bson.M{"peer_ids." + uid: peerID}})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

// MessageRepository stores offline thread messages, one document per message.
type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{col: db.Collection(messagesCollection)}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *models.OfflineMessage) error {
	_, err := r.col.InsertOne(ctx, msg)
	return translate(err)
}

func (r *MessageRepository) ListByRequest(ctx context.Context, requestID string) ([]models.OfflineMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return findAll[models.OfflineMessage](ctx, r.col, bson.M{"request_id": requestID}, opts)
}

func (r *MessageRepository) DeleteByRequest(ctx context.Context, requestID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"request_id": requestID})
	if err != nil {
		return 0, translate(err)
	}
	return res.DeletedCount, nil
}

func (r *MessageRepository) Delete(ctx context.Context, requestID, messageID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": messageID, "request_id": requestID})
	if err != nil {
		return translate(err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

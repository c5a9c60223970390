package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

type NotificationRepository struct {
	col *mongo.Collection
}

func NewNotificationRepository(db *mongo.Database) *NotificationRepository {
	return &NotificationRepository{col: db.Collection(notificationsCollection)}
}

func (r *NotificationRepository) Create(ctx context.Context, notif *models.Notification) error {
	notif.Read = false
	_, err := r.col.InsertOne(ctx, notif)
	return translate(err)
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int64) ([]models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return findAll[models.Notification](ctx, r.col, bson.M{"user_id": userID}, opts)
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, userID, id string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "user_id": userID}, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

// UserStateRepository keeps the per-user active-request pointer.
type UserStateRepository struct {
	col *mongo.Collection
}

func NewUserStateRepository(db *mongo.Database) *UserStateRepository {
	return &UserStateRepository{col: db.Collection(userStateCollection)}
}

func (r *UserStateRepository) GetActiveRequest(ctx context.Context, uid string) (string, error) {
	var state models.UserState
	err := r.col.FindOne(ctx, bson.M{"_id": uid}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", translate(err)
	}
	return state.ActiveRequestID, nil
}

func (r *UserStateRepository) SetActiveRequest(ctx context.Context, uid, requestID string) error {
	_, err := r.col.UpdateByID(ctx, uid,
		bson.M{"$set": bson.M{"active_request_id": requestID}},
		options.Update().SetUpsert(true))
	return translate(err)
}

func (r *UserStateRepository) ClearActiveRequest(ctx context.Context, uid, requestID string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": uid, "active_request_id": requestID},
		bson.M{"$set": bson.M{"active_request_id": ""}})
	return translate(err)
}

type BanRepository struct {
	col *mongo.Collection
}

func NewBanRepository(db *mongo.Database) *BanRepository {
	return &BanRepository{col: db.Collection(bansCollection)}
}

func (r *BanRepository) Put(ctx context.Context, ban *models.Ban) error {
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": ban.UID}, ban, options.Replace().SetUpsert(true))
	return translate(err)
}

func (r *BanRepository) Delete(ctx context.Context, uid string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": uid})
	return translate(err)
}

func (r *BanRepository) Get(ctx context.Context, uid string) (*models.Ban, error) {
	var ban models.Ban
	if err := r.col.FindOne(ctx, bson.M{"_id": uid}).Decode(&ban); err != nil {
		return nil, translate(err)
	}
	return &ban, nil
}

func (r *BanRepository) List(ctx context.Context) ([]models.Ban, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	return findAll[models.Ban](ctx, r.col, bson.M{}, opts)
}

type PushTokenRepository struct {
	col *mongo.Collection
}

func NewPushTokenRepository(db *mongo.Database) *PushTokenRepository {
	return &PushTokenRepository{col: db.Collection(pushTokensCollection)}
}

// Register is idempotent per (uid, key).
func (r *PushTokenRepository) Register(ctx context.Context, t *models.PushToken) error {
	if t.ID == "" {
		t.ID = t.UID + "/" + t.Key
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.ReplaceOne(ctx, bson.M{"uid": t.UID, "key": t.Key}, t, options.Replace().SetUpsert(true))
	return translate(err)
}

func (r *PushTokenRepository) ListByUser(ctx context.Context, uid string) ([]models.PushToken, error) {
	return findAll[models.PushToken](ctx, r.col, bson.M{"uid": uid})
}

func (r *PushTokenRepository) Remove(ctx context.Context, uid, key string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"uid": uid, "key": key})
	return translate(err)
}

package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

type RequestRepository struct {
	col *mongo.Collection
}

func NewRequestRepository(db *mongo.Database) *RequestRepository {
	return &RequestRepository{col: db.Collection(requestsCollection)}
}

func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	_, err := r.col.InsertOne(ctx, req)
	return translate(err)
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&req); err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (r *RequestRepository) ListByStatus(ctx context.Context, status models.RequestStatus) ([]models.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findAll[models.Request](ctx, r.col, bson.M{"status": status}, opts)
}

func (r *RequestRepository) ListByCreator(ctx context.Context, uid string) ([]models.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findAll[models.Request](ctx, r.col, bson.M{"created_by_uid": uid}, opts)
}

func (r *RequestRepository) ListWithOffline(ctx context.Context, limit int64) ([]models.Request, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_offline_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	filter := bson.M{"last_offline_at": bson.M{"$gt": time.Unix(0, 0)}}
	return findAll[models.Request](ctx, r.col, filter, opts)
}

func transitionFilter(id string, from models.RequestStatus) bson.M {
	return bson.M{"_id": id, "status": from}
}

// revertFilter matches only the accept that issued roomToken.
func revertFilter(id, roomToken string) bson.M {
	return bson.M{"_id": id, "status": models.StatusAccepted, "room_token": roomToken}
}

// refreshFilter matches while the stored summary is not newer than at.
func refreshFilter(id string, at time.Time) bson.M {
	return bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"last_offline_at": bson.M{"$lte": at}},
			bson.M{"last_offline_at": bson.M{"$exists": false}},
		},
	}
}

// swapFilter matches while the stored summary is still expected. A zero
// expected value also matches documents written before the summary existed.
func swapFilter(id string, expected time.Time) bson.M {
	if expected.IsZero() {
		return bson.M{
			"_id": id,
			"$or": bson.A{
				bson.M{"last_offline_at": expected},
				bson.M{"last_offline_at": bson.M{"$exists": false}},
			},
		}
	}
	return bson.M{"_id": id, "last_offline_at": expected}
}

// transition applies update only while the request is in status from.
func (r *RequestRepository) transition(ctx context.Context, id string, from models.RequestStatus, update bson.M) error {
	res, err := r.col.UpdateOne(ctx, transitionFilter(id, from), update)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return conditionalMiss(ctx, r.col, id, models.ErrInvalidTransition)
	}
	return nil
}

func (r *RequestRepository) MarkAccepted(ctx context.Context, id, adminUID, roomID, roomToken string, at time.Time) error {
	return r.transition(ctx, id, models.StatusPending, bson.M{"$set": bson.M{
		"status":             models.StatusAccepted,
		"accepted_at":        at,
		"assigned_admin_uid": adminUID,
		"room_id":            roomID,
		"room_token":         roomToken,
	}})
}

// RevertAccepted undoes MarkAccepted, but only the one that issued roomToken.
func (r *RequestRepository) RevertAccepted(ctx context.Context, id, roomToken string) error {
	res, err := r.col.UpdateOne(ctx,
		revertFilter(id, roomToken),
		bson.M{
			"$set": bson.M{
				"status":             models.StatusPending,
				"assigned_admin_uid": "",
				"room_id":            "",
				"room_token":         "",
			},
			"$unset": bson.M{"accepted_at": ""},
		})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return conditionalMiss(ctx, r.col, id, models.ErrInvalidTransition)
	}
	return nil
}

func (r *RequestRepository) MarkRejected(ctx context.Context, id, adminUID string, at time.Time) error {
	return r.transition(ctx, id, models.StatusPending, bson.M{"$set": bson.M{
		"status":             models.StatusRejected,
		"rejected_at":        at,
		"assigned_admin_uid": adminUID,
	}})
}

func (r *RequestRepository) MarkClosed(ctx context.Context, id, adminUID, reason string, at time.Time) error {
	return r.transition(ctx, id, models.StatusAccepted, bson.M{"$set": bson.M{
		"status":     models.StatusClosed,
		"ended_at":   at,
		"ended_by":   adminUID,
		"end_reason": reason,
		"room_id":    "",
		"room_token": "",
	}})
}

func summarySet(s models.OfflineSummary) bson.M {
	return bson.M{
		"last_offline_at":   s.LastOfflineAt,
		"last_offline_from": s.LastOfflineFrom,
		"last_offline_text": s.LastOfflineText,
	}
}

func (r *RequestRepository) RefreshOfflineSummary(ctx context.Context, id string, s models.OfflineSummary) error {
	res, err := r.col.UpdateOne(ctx, refreshFilter(id, s.LastOfflineAt), bson.M{"$set": summarySet(s)})
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		// a newer message already owns the summary
		return conditionalMiss(ctx, r.col, id, nil)
	}
	return nil
}

func (r *RequestRepository) update(ctx context.Context, id string, update bson.M) error {
	res, err := r.col.UpdateByID(ctx, id, update)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *RequestRepository) SwapOfflineSummary(ctx context.Context, id string, expected time.Time, s models.OfflineSummary) (bool, error) {
	res, err := r.col.UpdateOne(ctx, swapFilter(id, expected), bson.M{"$set": summarySet(s)})
	if err != nil {
		return false, translate(err)
	}
	if res.MatchedCount == 0 {
		return false, conditionalMiss(ctx, r.col, id, nil)
	}
	return true, nil
}

func (r *RequestRepository) SetAdminReply(ctx context.Context, id string, reply models.AdminReply) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{
		"admin_reply_at":   reply.AdminReplyAt,
		"admin_reply_text": reply.AdminReplyText,
		"admin_reply_by":   reply.AdminReplyBy,
	}})
}

func (r *RequestRepository) ClearOffline(ctx context.Context, id string) error {
	set := summarySet(models.OfflineSummary{})
	set["admin_reply_at"] = time.Time{}
	set["admin_reply_text"] = ""
	set["admin_reply_by"] = ""
	return r.update(ctx, id, bson.M{"$set": set})
}

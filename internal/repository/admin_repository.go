package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

type AdminRepository struct {
	col *mongo.Collection
}

func NewAdminRepository(db *mongo.Database) *AdminRepository {
	return &AdminRepository{col: db.Collection(adminsCollection)}
}

func (r *AdminRepository) IsAdmin(ctx context.Context, uid string) (bool, error) {
	var flag models.AdminFlag
	err := r.col.FindOne(ctx, bson.M{"_id": uid}).Decode(&flag)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, translate(err)
	}
	return flag.Admin, nil
}

func (r *AdminRepository) ListAdmins(ctx context.Context) ([]string, error) {
	flags, err := findAll[models.AdminFlag](ctx, r.col, bson.M{"admin": true})
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(flags))
	for _, f := range flags {
		uids = append(uids, f.UID)
	}
	return uids, nil
}

func (r *AdminRepository) SetAdmin(ctx context.Context, uid string, admin bool) error {
	if !admin {
		_, err := r.col.DeleteOne(ctx, bson.M{"_id": uid})
		return translate(err)
	}
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": uid}, models.AdminFlag{UID: uid, Admin: true},
		options.Replace().SetUpsert(true))
	return translate(err)
}

const adminAudienceKey = "support:admin_audience"

// AudienceCache keeps the resolved admin audience in redis for a short TTL,
// so a burst of events does not rescan the admins collection each time.
type AudienceCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewAudienceCache(rdb *redis.Client, ttl time.Duration) *AudienceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AudienceCache{redis: rdb, ttl: ttl}
}

// Get reports ok=false on a cache miss.
func (c *AudienceCache) Get(ctx context.Context) ([]string, bool, error) {
	data, err := c.redis.Get(ctx, adminAudienceKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read admin audience cache: %w", err)
	}
	var uids []string
	if err := json.Unmarshal(data, &uids); err != nil {
		return nil, false, fmt.Errorf("decode admin audience cache: %w", err)
	}
	return uids, true, nil
}

func (c *AudienceCache) Set(ctx context.Context, uids []string) error {
	data, err := json.Marshal(uids)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, adminAudienceKey, data, c.ttl).Err()
}

func (c *AudienceCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, adminAudienceKey).Err()
}

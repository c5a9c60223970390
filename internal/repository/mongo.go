package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"support-app/session-service/internal/models"
)

// Config parameters for MongoDB connection
type Config struct {
	URI      string `env:"MONGO_URI"`
	Host     string `env:"MONGO_HOST" envDefault:"localhost"`
	Port     int    `env:"MONGO_PORT" envDefault:"27017"`
	User     string `env:"MONGO_USER"`
	Password string `env:"MONGO_PASSWORD"`
	DBName   string `env:"MONGO_DBNAME" envDefault:"support_service"`
	// Transactions needs a replica set or sharded cluster.
	Transactions bool `env:"MONGO_TRANSACTIONS" envDefault:"false"`
}

func (c Config) uri() string {
	if c.URI != "" {
		return c.URI
	}
	if c.User != "" && c.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
}

const (
	requestsCollection      = "requests"
	roomsCollection         = "rooms"
	messagesCollection      = "offline_messages"
	userStateCollection     = "user_state"
	bansCollection          = "bans"
	adminsCollection        = "admins"
	notificationsCollection = "notifications"
	pushTokensCollection    = "fcm_tokens"
)

// Mongo owns the client and implements the multi-collection atomic unit.
type Mongo struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
}

// Connect creates a new connection to MongoDB and pings it.
func Connect(ctx context.Context, cfg Config) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.uri()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &Mongo{client: client, db: client.Database(cfg.DBName), transactions: cfg.Transactions}, nil
}

func (m *Mongo) Database() *mongo.Database { return m.db }

func (m *Mongo) Disconnect(ctx context.Context) error { return m.client.Disconnect(ctx) }

// Atomic runs fn in a session transaction when transactions are enabled.
// Otherwise the writes inside fn are applied one by one.
func (m *Mongo) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions {
		return fn(ctx)
	}
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the secondary indexes the listings rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		requestsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_by_uid", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "last_offline_at", Value: -1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		notificationsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		pushTokensCollection: {
			{Keys: bson.D{{Key: "uid", Value: 1}, {Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, idx := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// codeUnauthorized is the server error code for a denied command.
const codeUnauthorized = 13

// translate maps driver errors onto the models error kinds.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ErrNotFound
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(codeUnauthorized) {
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	return err
}

// conditionalMiss explains a conditional update that matched nothing: either
// the document is gone or the condition did not hold.
func conditionalMiss(ctx context.Context, col *mongo.Collection, id string, otherwise error) error {
	n, err := col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return otherwise
}

func findAll[T any](ctx context.Context, col *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)

	result := []T{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, translate(err)
	}
	return result, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
)

// MongoConfig describes the MongoDB connection.
type MongoConfig struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Database         string
	AppName          string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	MinPoolSize      uint64
	MaxPoolSize      uint64
}

func (c MongoConfig) uri() string {
	if c.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(c.Username), url.QueryEscape(c.Password), c.Host, c.Port)
}

// MongoStore implements the Store collaborator on top of MongoDB.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
	log       zerolog.Logger
}

// ConnectMongo dials MongoDB, verifies the connection with a ping and
// returns the store.
func ConnectMongo(ctx context.Context, cfg MongoConfig, log zerolog.Logger) (*MongoStore, error) {
	log = log.With().Str("component", "mongo").Logger()

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.uri()).SetAppName(cfg.AppName)
	opts.SetConnectTimeout(connectTimeout)
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	opts.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				log.Debug().Str("address", evt.Address).Msg("database connection created")
			case event.ConnectionClosed:
				log.Debug().Str("address", evt.Address).Msg("database connection closed")
			}
		},
	})

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(dialCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := client.Ping(dialCtx, nil); err != nil {
		_ = client.Disconnect(dialCtx)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &MongoStore{
		client:    client,
		db:        client.Database(cfg.Database),
		opTimeout: opTimeout,
		log:       log,
	}, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	s.log.Info().Msg("closing database connection")
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Insert(ctx context.Context, table string, record albon.Record) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	res, err := s.db.Collection(table).InsertOne(ctx, bson.M(record))
	if err != nil {
		return "", mapMongoError(err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

func (s *MongoStore) Query(ctx context.Context, table string, filter albon.Record, qo albon.QueryOptions) ([]albon.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	findOpts := options.Find()
	if qo.Limit > 0 {
		findOpts.SetLimit(qo.Limit)
	}
	if qo.Skip > 0 {
		findOpts.SetSkip(qo.Skip)
	}
	if qo.SortField != "" {
		order := 1
		if qo.SortDescending {
			order = -1
		}
		findOpts.SetSort(bson.D{{Key: qo.SortField, Value: order}})
	}

	cursor, err := s.db.Collection(table).Find(ctx, filterOrEmpty(filter), findOpts)
	if err != nil {
		return nil, mapMongoError(err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mapMongoError(err)
	}

	out := make([]albon.Record, 0, len(docs))
	for _, doc := range docs {
		rec := albon.Record(doc)
		if oid, ok := rec["_id"].(primitive.ObjectID); ok {
			rec["_id"] = oid.Hex()
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MongoStore) Update(ctx context.Context, table string, filter albon.Record, record albon.Record) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	res, err := s.db.Collection(table).UpdateMany(ctx, filterOrEmpty(filter), bson.M{"$set": bson.M(record)})
	if err != nil {
		return 0, mapMongoError(err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) Delete(ctx context.Context, table string, filter albon.Record) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	res, err := s.db.Collection(table).DeleteMany(ctx, filterOrEmpty(filter))
	if err != nil {
		return 0, mapMongoError(err)
	}
	return res.DeletedCount, nil
}

func filterOrEmpty(filter albon.Record) bson.M {
	if len(filter) == 0 {
		return bson.M{}
	}
	return bson.M(filter)
}

func mapMongoError(err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("unique key conflicts: %w", err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("document does not exist: %w", err)
	default:
		return fmt.Errorf("database operation failed: %w", err)
	}
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/assistant-state/internal/config"
	registrymigrate "github.com/chirino/assistant-state/internal/registry/migrate"
	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "slots"

func init() {
	registryslot.Register(registryslot.Plugin{
		Name:   "mongo",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Phase: registrymigrate.Schema, Migrator: &mongoMigrator{}})
}

type slotDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func load(ctx context.Context) (registryslot.Slot, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.SlotURL == "" {
		return nil, fmt.Errorf("mongo slot: ASSISTANT_STATE_SLOT_URL is required")
	}
	opts := options.Client().ApplyURI(cfg.SlotURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return New(client, cfg.MongoDatabase), nil
}

// New wraps a connected client. The slot owns the client and disconnects it on Close.
func New(client *mongo.Client, database string) *Slot {
	if database == "" {
		database = "assistant_state"
	}
	return &Slot{client: client, coll: client.Database(database).Collection(collectionName)}
}

// Slot keeps one document per key, with the key as the document id.
type Slot struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (s *Slot) Get(ctx context.Context, key string) (string, bool, error) {
	var doc slotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (s *Slot) Set(ctx context.Context, key string, value string) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": key},
		slotDoc{Key: key, Value: value, UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Remove(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Slot) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer cur.Close(ctx)
	var keys []string
	for cur.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		keys = append(keys, doc.Key)
	}
	return keys, cur.Err()
}

func (s *Slot) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-slot-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.SlotMigrateAtStart || cfg.SlotType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.SlotURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	coll := client.Database(cfg.MongoDatabase).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo migration: create index: %w", err)
	}
	log.Info("Mongo slot schema migration complete")
	return nil
}

var _ registryslot.Slot = (*Slot)(nil)

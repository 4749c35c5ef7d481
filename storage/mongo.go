package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const collectionName = "doc_chunks"

type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *slog.Logger
}

func NewMongoStorage(uri, database string, log *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	collection := client.Database(database).Collection(collectionName)

	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "source", Value: 1}, {Key: "chunk_index", Value: 1}},
	})
	if err != nil {
		log.Warn("creating index", sl.Err(err))
	}

	return &MongoStorage{
		client:     client,
		collection: collection,
		log:        log.With(sl.Module("mongo-storage")),
	}, nil
}

func (m *MongoStorage) SourceChecksum(source string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var chunk Chunk
	opts := options.FindOne().SetProjection(bson.M{"source_checksum": 1})
	err := m.collection.FindOne(ctx, bson.M{"source": source}, opts).Decode(&chunk)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding source: %w", err)
	}
	return chunk.SourceChecksum, nil
}

func (m *MongoStorage) ReplaceSource(source, checksum string, chunks []Chunk) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := m.collection.DeleteMany(ctx, bson.M{"source": source}); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]interface{}, 0, len(chunks))
	for _, c := range chunks {
		c.Source = source
		c.SourceChecksum = checksum
		c.UpdatedAt = now
		docs = append(docs, c)
	}
	if _, err := m.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}
	m.log.With(
		slog.String("source", source),
		slog.Int("chunks", len(chunks)),
	).Debug("source stored")
	return nil
}

func (m *MongoStorage) DeleteSource(source string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.collection.DeleteMany(ctx, bson.M{"source": source})
	return err
}

func (m *MongoStorage) Sources() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	values, err := m.collection.Distinct(ctx, "source", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	sources := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

func (m *MongoStorage) Chunks() ([]Chunk, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "source", Value: 1}, {Key: "chunk_index", Value: 1}})
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding chunks: %w", err)
	}
	var chunks []Chunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, fmt.Errorf("decoding chunks: %w", err)
	}
	return chunks, nil
}

func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const documentsCollection = "documents"

// MongoStore persists document rows in a MongoDB collection with a unique
// index on filename.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore connects to MongoDB, verifies the connection, and ensures the
// filename index exists.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(documentsCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "filename", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "uploaded_at", Value: -1}},
		},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) Get(ctx context.Context, filename string) (*Document, error) {
	var doc Document
	err := s.coll.FindOne(ctx, bson.M{"filename": filename}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) Put(ctx context.Context, doc *Document) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"filename": doc.Filename}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (s *MongoStore) SetStatus(ctx context.Context, filename string, status Status) error {
	update := bson.M{
		"$set":   bson.M{"status": status},
		"$unset": bson.M{"failed_stage": "", "error_message": ""},
	}
	return s.update(ctx, filename, update)
}

func (s *MongoStore) SetVectorized(ctx context.Context, filename string, vectorCount, pageCount, textLength int) error {
	update := bson.M{
		"$set": bson.M{
			"status":        StatusVectorized,
			"vector_count":  vectorCount,
			"page_count":    pageCount,
			"text_length":   textLength,
			"vectorized_at": nowUTC(),
		},
		"$unset": bson.M{"failed_stage": "", "error_message": ""},
	}
	return s.update(ctx, filename, update)
}

func (s *MongoStore) SetError(ctx context.Context, filename, stage, message string, partialCount int) error {
	update := bson.M{
		"$set": bson.M{
			"status":        StatusError,
			"failed_stage":  stage,
			"error_message": message,
			"vector_count":  partialCount,
		},
	}
	return s.update(ctx, filename, update)
}

func (s *MongoStore) List(ctx context.Context) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

func (s *MongoStore) Delete(ctx context.Context, filename string) error {
	result, err := s.coll.DeleteOne(ctx, bson.M{"filename": filename})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) update(ctx context.Context, filename string, update bson.M) error {
	result, err := s.coll.UpdateOne(ctx, bson.M{"filename": filename}, update)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

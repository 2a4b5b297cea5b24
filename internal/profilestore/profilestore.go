// Package profilestore holds the ordered link list of an entity's public
// profile (SPEC_FULL.md §4.20) in a document store rather than the
// relational metadata schema, since it's a variable-length, rarely-queried
// sidecar to the entity row. Grounded on the teacher's mongodb adapter
// package for driver setup and collection/document shape conventions.
package profilestore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/metadata"
)

// ProfileStore persists an entity's ordered profile links.
type ProfileStore interface {
	GetLinks(ctx context.Context, entityID int64) ([]metadata.Link, error)
	PutLinks(ctx context.Context, entityID int64, links []metadata.Link) error
}

type document struct {
	EntityID int64            `bson:"entity_id"`
	Links    []metadata.Link `bson:"links"`
}

// Store is the mongo-backed ProfileStore.
type Store struct {
	collection *mongo.Collection
}

// Open connects to uri and returns a Store backed by database's "profiles"
// collection, with a unique index on entity_id.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, common.Wrap(common.KindIO, "connecting to document store", err)
	}

	collection := client.Database(database).Collection("profiles")

	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "entity_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, common.Wrap(common.KindIO, "creating document store index", err)
	}

	return &Store{collection: collection}, nil
}

// GetLinks returns entityID's links, or an empty slice if it has none.
func (s *Store) GetLinks(ctx context.Context, entityID int64) ([]metadata.Link, error) {
	var doc document

	err := s.collection.FindOne(ctx, bson.M{"entity_id": entityID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, common.Wrap(common.KindIO, "reading entity links", err)
	}

	return doc.Links, nil
}

// PutLinks replaces entityID's link list wholesale.
func (s *Store) PutLinks(ctx context.Context, entityID int64, links []metadata.Link) error {
	_, err := s.collection.UpdateOne(
		ctx,
		bson.M{"entity_id": entityID},
		bson.M{"$set": document{EntityID: entityID, Links: links}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return common.Wrap(common.KindIO, "writing entity links", err)
	}

	return nil
}

// NullStore is the degrade-gracefully implementation used when no document
// store is configured (SPEC_FULL.md §4.20): reads return no links, writes
// are a logged no-op, so callers never need to branch on "is profile
// storage enabled."
type NullStore struct {
	Logger logging.Logger
}

func (NullStore) GetLinks(ctx context.Context, entityID int64) ([]metadata.Link, error) {
	return nil, nil
}

func (n NullStore) PutLinks(ctx context.Context, entityID int64, links []metadata.Link) error {
	n.Logger.Warn("document store not configured, dropping profile link update", "entity_id", entityID)
	return nil
}

package source

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoSourceName = "mongodb"

// MongoSource reads the payload from the newest document of a collection.
type MongoSource struct {
	collection *mongo.Collection
	field      string
}

func NewMongoSource(client *mongo.Client, database string, collection string, field string) *MongoSource {
	return &MongoSource{
		collection: client.Database(database).Collection(collection),
		field:      field,
	}
}

func (s *MongoSource) Fetch(ctx context.Context) (string, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "_id", Value: -1}})

	var document bson.M
	err := s.collection.FindOne(ctx, bson.D{}, opts).Decode(&document)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", NewFetchError(mongoSourceName, errors.New("collection is empty"))
	}
	if err != nil {
		return "", NewFetchError(mongoSourceName, err)
	}

	return payloadFromDocument(document, s.field)
}

func payloadFromDocument(document bson.M, field string) (string, error) {
	raw, ok := document[field]
	if !ok {
		return "", NewFetchError(mongoSourceName, fmt.Errorf("field %q missing from newest document", field))
	}

	payload, ok := raw.(string)
	if !ok {
		return "", NewFetchError(mongoSourceName, fmt.Errorf("field %q is %T, not a string", field, raw))
	}

	return payload, nil
}

package db

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"failure-backfill/internal/models"
)

// MongoStore keeps dataset documents in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and checks the primary is reachable.
func NewMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoStore{client: client, coll: client.Database(database).Collection(collection)}, nil
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Count returns the number of documents in the collection.
func (m *MongoStore) Count(ctx context.Context) (int64, error) {
	total, err := m.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, nil
}

// FindFrom returns every document whose timestamp is at or after the cutoff.
func (m *MongoStore) FindFrom(ctx context.Context, cutoff models.Cutoff) ([]models.DatasetRecord, error) {
	filter, err := rangeFilter(cutoff)
	if err != nil {
		return nil, err
	}
	cursor, err := m.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query records from %s: %w", cutoff.Raw, err)
	}
	defer cursor.Close(ctx)

	var list []models.DatasetRecord
	for cursor.Next(ctx) {
		rec, err := toRecord(cursor.Current)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return list, nil
}

// SetFlag sets one boolean field to true with $set; the rest of the document is kept.
func (m *MongoStore) SetFlag(ctx context.Context, rec models.DatasetRecord, field string) error {
	res, err := m.coll.UpdateOne(ctx, recordFilter(rec), bson.M{"$set": bson.M{field: true}})
	if err != nil {
		return fmt.Errorf("failed to set %s on record %s: %w", field, rec.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set %s on record %s: %w", field, rec.ID, ErrRecordNotFound)
	}
	return nil
}

func rangeFilter(cutoff models.Cutoff) (bson.M, error) {
	if cutoff.Mode == models.CompareLexical {
		// type bracketing restricts $gte on a string to string values
		return bson.M{"timestamp": bson.M{"$gte": cutoff.Raw}}, nil
	}
	// decimal128 keeps 34 significant digits, so epoch nanoseconds compare exactly
	value, err := primitive.ParseDecimal128(cutoff.Raw)
	if err != nil {
		return nil, fmt.Errorf("cutoff %q out of decimal range: %w", cutoff.Raw, err)
	}
	isString := bson.M{"$eq": bson.A{bson.M{"$type": "$timestamp"}, "string"}}
	isNumeric := bson.M{"$regexMatch": bson.M{"input": "$timestamp", "regex": models.NumericPattern}}
	asDecimal := bson.M{"$convert": bson.M{
		"input":   bson.M{"$trim": bson.M{"input": "$timestamp"}},
		"to":      "decimal",
		"onError": nil,
	}}
	atOrAfter := bson.M{"$gte": bson.A{asDecimal, value}}
	return bson.M{"$expr": bson.M{"$cond": bson.A{
		isString,
		bson.M{"$cond": bson.A{isNumeric, atOrAfter, false}},
		false,
	}}}, nil
}

// recordFilter targets the stored _id when the record carries it, so ids that
// have no faithful string form (binary, compound) still match.
func recordFilter(rec models.DatasetRecord) bson.D {
	if rec.Key != nil {
		return bson.D{{Key: "_id", Value: rec.Key}}
	}
	return bson.D{{Key: "_id", Value: idFilter(rec.ID)}}
}

// idFilter matches the record id whether it was stored as a string, an ObjectID
// or an integer.
func idFilter(id string) any {
	candidates := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		candidates = append(candidates, oid)
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		candidates = append(candidates, n)
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			candidates = append(candidates, int32(n))
		}
	}
	if len(candidates) == 1 {
		return id
	}
	return bson.M{"$in": candidates}
}

func toRecord(raw bson.Raw) (models.DatasetRecord, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return models.DatasetRecord{}, fmt.Errorf("failed to decode record: %w", err)
	}
	rec := models.DatasetRecord{Fields: map[string]any(doc)}
	rec.Timestamp, _ = doc["timestamp"].(string)

	key := raw.Lookup("_id")
	if key.IsZero() {
		return rec, nil
	}
	// raw belongs to the cursor batch and is reused after Next
	key.Value = append([]byte(nil), key.Value...)
	rec.ID = displayID(key)
	rec.Key = key
	return rec, nil
}

// displayID renders an _id for logs and reports. It is never parsed back.
func displayID(key bson.RawValue) string {
	switch key.Type {
	case bson.TypeString:
		return key.StringValue()
	case bson.TypeObjectID:
		return key.ObjectID().Hex()
	case bson.TypeInt32, bson.TypeInt64:
		return strconv.FormatInt(key.AsInt64(), 10)
	case bson.TypeBinary:
		subtype, data := key.Binary()
		if subtype == bson.TypeBinaryUUID || subtype == bson.TypeBinaryUUIDOld {
			if id, err := uuid.FromBytes(data); err == nil {
				return id.String()
			}
		}
	}
	return key.String()
}

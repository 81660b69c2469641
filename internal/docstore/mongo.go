package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo is a Store backed by a MongoDB database. Document ids are stored as
// string _id values.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// OpenMongo connects to uri and uses the named database.
func OpenMongo(ctx context.Context, uri, database string, logger zerolog.Logger) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	m := newMongo(client, client.Database(database), logger)
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	m.logger.Info().Str("database", database).Msg("document store initialized")
	return m, nil
}

func newMongo(client *mongo.Client, db *mongo.Database, logger zerolog.Logger) *Mongo {
	return &Mongo{
		client: client,
		db:     db,
		logger: logger.With().Str("component", "docstore.mongo").Logger(),
	}
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.db.Collection("chats").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "uid", Value: 1}, {Key: "projectID", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chat index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	return m.client.Disconnect(context.Background())
}

// Ping checks the primary is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Create implements Store.
func (m *Mongo) Create(ctx context.Context, collection string, data any) (string, error) {
	id := NewID()
	if err := m.insert(ctx, "docstore.Create", collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Insert implements Store.
func (m *Mongo) Insert(ctx context.Context, collection, id string, data any) error {
	return m.insert(ctx, "docstore.Insert", collection, id, data)
}

func (m *Mongo) insert(ctx context.Context, op, collection, id string, data any) error {
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	doc, err := toDocument(id, data)
	if err != nil {
		return metadataErr(op, err)
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return metadataErr(op, fmt.Errorf("insert %s/%s: %w", collection, id, err))
	}
	return nil
}

// Set implements Store.
func (m *Mongo) Set(ctx context.Context, collection, id string, data any) error {
	const op = "docstore.Set"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	doc, err := toDocument(id, data)
	if err != nil {
		return metadataErr(op, err)
	}
	_, err = m.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return metadataErr(op, fmt.Errorf("replace %s/%s: %w", collection, id, err))
	}
	return nil
}

// Get implements Store.
func (m *Mongo) Get(ctx context.Context, collection, id string) (*Snapshot, error) {
	const op = "docstore.Get"
	if err := validateKey(op, collection, id); err != nil {
		return nil, err
	}
	raw, err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(op, collection, id)
	}
	if err != nil {
		return nil, metadataErr(op, fmt.Errorf("find %s/%s: %w", collection, id, err))
	}
	return bsonSnapshot(id, raw), nil
}

// Update implements Store.
func (m *Mongo) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	const op = "docstore.Update"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	set := bson.M{}
	for field, value := range fields {
		if err := validateField(op, field); err != nil {
			return err
		}
		set[field] = value
	}
	if len(set) == 0 {
		_, err := m.Get(ctx, collection, id)
		return err
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return metadataErr(op, fmt.Errorf("update %s/%s: %w", collection, id, err))
	}
	if res.MatchedCount == 0 {
		return notFound(op, collection, id)
	}
	return nil
}

// Append implements Store.
func (m *Mongo) Append(ctx context.Context, collection, id, field string, elems ...any) error {
	const op = "docstore.Append"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	if err := validateField(op, field); err != nil {
		return err
	}

	update := bson.M{"$push": bson.M{field: bson.M{"$each": elems}}}
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return metadataErr(op, fmt.Errorf("push %s/%s: %w", collection, id, err))
	}
	if res.MatchedCount == 0 {
		return notFound(op, collection, id)
	}
	return nil
}

// Delete implements Store.
func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	const op = "docstore.Delete"
	if err := validateKey(op, collection, id); err != nil {
		return err
	}
	if _, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return metadataErr(op, fmt.Errorf("delete %s/%s: %w", collection, id, err))
	}
	return nil
}

// Query implements Store.
func (m *Mongo) Query(ctx context.Context, collection string, q Query) ([]*Snapshot, error) {
	const op = "docstore.Query"
	if err := validateKey(op, collection, "-"); err != nil {
		return nil, err
	}

	filter := bson.D{}
	for _, f := range q.Filters {
		if err := validateField(op, f.Field); err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}

	opts := options.Find()
	dir := 1
	if q.Desc {
		dir = -1
	}
	if q.OrderBy != "" {
		if err := validateField(op, q.OrderBy); err != nil {
			return nil, err
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: dir}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, metadataErr(op, fmt.Errorf("find %s: %w", collection, err))
	}
	defer cur.Close(ctx)

	var out []*Snapshot
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		id, _ := raw.Lookup("_id").StringValueOK()
		out = append(out, bsonSnapshot(id, raw))
	}
	if err := cur.Err(); err != nil {
		return nil, metadataErr(op, err)
	}
	return out, nil
}

// toDocument flattens data into a bson.M and pins _id.
func toDocument(id string, data any) (bson.M, error) {
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	doc["_id"] = id
	return doc, nil
}

func bsonSnapshot(id string, raw bson.Raw) *Snapshot {
	return NewSnapshot(id, func(out any) error {
		return bson.Unmarshal(raw, out)
	})
}

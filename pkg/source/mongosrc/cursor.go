// Package mongosrc implements a change-data source.Source over MongoDB
// change streams.
package mongosrc

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/source"
)

func init() {
	source.Register("mongo", func(ctx context.Context, database string, raw map[string]any, progress cdc.Checkpoint) (source.Source, error) {
		var cfg config
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode mongo source config: %w", err)
		}
		cfg.applyDefaults()
		return newCursor(ctx, database, &cfg, progress)
	})
}

// Cursor is the mongo source.Source, operating against one database.
type Cursor struct {
	client   *mongo.Client
	db       *mongo.Database
	progress cdc.Checkpoint
}

var _ source.Source = (*Cursor)(nil)

func newCursor(ctx context.Context, database string, cfg *config, progress cdc.Checkpoint) (*Cursor, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Cursor{client: client, db: client.Database(database), progress: progress}, nil
}

func (c *Cursor) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

func (c *Cursor) Close() error {
	return c.client.Disconnect(context.Background())
}

var changeStreamPipeline = mongo.Pipeline{
	{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "delete"}}}},
	}}},
}

// GetCurrentProgress opens and immediately discards a change stream to
// capture a fresh resume token, used to anchor a sync that has no prior
// stored progress.
func (c *Cursor) GetCurrentProgress(ctx context.Context) (cdc.Checkpoint, error) {
	stream, err := c.db.Watch(ctx, changeStreamPipeline)
	if err != nil {
		return nil, fmt.Errorf("watch for current progress: %w", err)
	}
	defer stream.Close(ctx)
	return cdc.Checkpoint{"resume_token": encodeResumeToken(stream.ResumeToken())}, nil
}

// encodeResumeToken hex-encodes a change stream's raw BSON resume token so
// it round-trips through a string->string checkpoint (and the file store's
// JSON encoding of it) without the byte-mangling that storing the raw bytes
// as a Go string risks on invalid UTF-8.
func encodeResumeToken(token bson.Raw) string {
	return hex.EncodeToString(token)
}

// decodeResumeToken reverses encodeResumeToken, producing the bson.Raw
// value SetResumeAfter expects.
func decodeResumeToken(encoded string) (bson.Raw, error) {
	b, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode resume token: %w", err)
	}
	return bson.Raw(b), nil
}

func (c *Cursor) GetCount(ctx context.Context, table string) (int64, error) {
	count, err := c.db.Collection(table).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// GetFullData returns every document of collection table, projected per
// fields (a Mongo $project-shaped field list keyed by source field name).
func (c *Cursor) GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error) {
	projection := bson.D{}
	for src := range fields {
		projection = append(projection, bson.E{Key: src, Value: 1})
	}

	opts := options.Find()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}

	cur, err := c.db.Collection(table).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", table, err)
	}
	defer cur.Close(ctx)

	var out []map[string]any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode doc from %s: %w", table, err)
		}
		out = append(out, documentToMap(doc, fields))
	}
	return out, cur.Err()
}

// documentToMap stringifies _id (Mongo's ObjectID does not survive JSON
// encoding to the sink otherwise) and applies field renames.
func documentToMap(doc bson.M, fields cdc.FieldMapping) map[string]any {
	row := map[string]any(doc)
	if id, ok := row["_id"]; ok {
		row["_id"] = stringifyID(id)
	}
	return cdc.Project(row, fields)
}

// stringifyID renders a document's _id as the bare identifier a MeiliSearch
// primary key requires: an ObjectID's 24-character hex string, not its
// String() method's "ObjectID(\"...\")" wrapper (which also contains
// parentheses and quotes, both invalid in a MeiliSearch primary-key value).
// Any other _id type falls back to its default formatting.
func stringifyID(id any) string {
	if oid, ok := id.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

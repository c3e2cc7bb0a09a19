package mongosrc

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/long2ice/meilisync/pkg/cdc"
)

// changeEvent mirrors the subset of a MongoDB change stream document this
// source cares about.
type changeEvent struct {
	OperationType     string `bson:"operationType"`
	FullDocument      bson.M `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
	DocumentKey bson.M `bson:"documentKey"`
	NS          struct {
		Collection string `bson:"coll"`
	} `bson:"ns"`
}

// Stream opens a database-scope change stream filtered to insert/update/
// delete, resuming from the cursor's prior token if one was supplied. The
// first value sent on the returned channel is always a cdc.ProgressEvent.
// tables is accepted for interface symmetry with the other sources; Mongo's
// change stream itself is not per-collection filterable the way a binlog
// regex is, so filtering by declared collection happens per-event instead.
func (c *Cursor) Stream(ctx context.Context, tables []string) (<-chan any, error) {
	tableSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		tableSet[t] = true
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if c.progress != nil && c.progress["resume_token"] != "" {
		resumeToken, err := decodeResumeToken(c.progress["resume_token"])
		if err != nil {
			return nil, err
		}
		opts.SetResumeAfter(resumeToken)
	}

	stream, err := c.db.Watch(ctx, changeStreamPipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("watch change stream: %w", err)
	}

	out := make(chan any, 1000)
	out <- cdc.ProgressEvent{Progress: cdc.Checkpoint{"resume_token": encodeResumeToken(stream.ResumeToken())}}

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var change changeEvent
			if err := stream.Decode(&change); err != nil {
				continue
			}

			table := change.NS.Collection
			if !tableSet[table] {
				continue
			}

			var op cdc.Operation
			var data bson.M
			switch change.OperationType {
			case "insert":
				op = cdc.OpCreate
				data = change.FullDocument
			case "update":
				op = cdc.OpUpdate
				data = change.UpdateDescription.UpdatedFields
			case "delete":
				op = cdc.OpDelete
				data = change.DocumentKey
			default:
				continue
			}
			if data == nil {
				data = bson.M{}
			}
			if id, ok := change.DocumentKey["_id"]; ok {
				data["_id"] = stringifyID(id)
			}

			progress := cdc.Checkpoint{"resume_token": encodeResumeToken(stream.ResumeToken())}
			select {
			case out <- cdc.Event{Type: op, Table: table, Data: cdc.Project(data, nil), Progress: progress}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

package mongosrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDocumentToMapStringifiesID(t *testing.T) {
	oid := bson.NewObjectID()
	doc := bson.M{"_id": oid, "name": "alice"}
	got := documentToMap(doc, nil)
	assert.Equal(t, oid.Hex(), got["_id"])
	assert.Equal(t, "alice", got["name"])
}

func TestDocumentToMapAppliesFieldRename(t *testing.T) {
	dst := "full_name"
	doc := bson.M{"_id": bson.NewObjectID(), "name": "alice"}
	got := documentToMap(doc, map[string]*string{"name": &dst})
	assert.Equal(t, "alice", got["full_name"])
}

func TestResumeTokenRoundTrips(t *testing.T) {
	raw := bson.Raw{0x05, 0x00, 0x00, 0x00, 0x00, 0xff, 0x00, 0x80}
	encoded := encodeResumeToken(raw)
	decoded, err := decodeResumeToken(encoded)
	assert.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

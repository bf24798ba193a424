package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dagsund/weave/pkg/api"
)

// MongoCheckpointStore is a CheckpointStore backed by MongoDB.
// Checkpoints live in one collection keyed by instance id; leases in
// a sibling collection.
type MongoCheckpointStore struct {
	checkpoints *mongo.Collection
	leases      *mongo.Collection
}

var _ CheckpointStore = (*MongoCheckpointStore)(nil)

type mongoCheckpointDoc struct {
	ID         string `bson:"_id"`
	Status     string `bson:"status"`
	ResumeNode string `bson:"resume_node"`
	State      []byte `bson:"state"`
	UpdatedAt  int64  `bson:"updated_at"`
}

type mongoLeaseDoc struct {
	ID        string `bson:"_id"`
	Owner     string `bson:"owner"`
	ExpiresAt int64  `bson:"expires_at"`
}

// NewMongoCheckpointStore creates a MongoCheckpointStore over the
// given database.
func NewMongoCheckpointStore(db *mongo.Database) *MongoCheckpointStore {
	return &MongoCheckpointStore{
		checkpoints: db.Collection("checkpoints"),
		leases:      db.Collection("checkpoint_leases"),
	}
}

func (s *MongoCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	blob, err := EncodeState(cp.State)
	if err != nil {
		return err
	}

	doc := mongoCheckpointDoc{
		ID:         cp.State.ID,
		Status:     string(cp.State.Status),
		ResumeNode: cp.ResumeNode,
		State:      blob,
		UpdatedAt:  time.Now().UnixNano(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err = s.checkpoints.ReplaceOne(ctx, bson.M{"_id": cp.State.ID}, doc, opts)
	return err
}

func (s *MongoCheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	var doc mongoCheckpointDoc
	err := s.checkpoints.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	return docToCheckpoint(doc)
}

func (s *MongoCheckpointStore) List(ctx context.Context, f Filter) ([]*Checkpoint, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	cur, err := s.checkpoints.Find(ctx, filter, options.Find().SetSort(bson.M{"updated_at": -1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*Checkpoint
	for cur.Next(ctx) {
		var doc mongoCheckpointDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		cp, err := docToCheckpoint(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, cur.Err()
}

func docToCheckpoint(doc mongoCheckpointDoc) (*Checkpoint, error) {
	st, err := DecodeState(doc.State)
	if err != nil {
		return nil, err
	}
	if st.Status == "" {
		st.Status = api.Status(doc.Status)
	}
	return &Checkpoint{
		State:      st,
		ResumeNode: doc.ResumeNode,
		UpdatedAt:  time.Unix(0, doc.UpdatedAt),
	}, nil
}

func (s *MongoCheckpointStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()

	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"owner": owner},
			bson.M{"expires_at": bson.M{"$lte": now.UnixNano()}},
		},
	}
	update := bson.M{"$set": bson.M{
		"owner":      owner,
		"expires_at": now.Add(ttl).UnixNano(),
	}}

	opts := options.Update().SetUpsert(true)
	_, err := s.leases.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		// An upsert that races with a live lease hits the _id unique
		// index; that means another owner holds it.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MongoCheckpointStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	res, err := s.leases.UpdateOne(ctx,
		bson.M{"_id": id, "owner": owner},
		bson.M{"$set": bson.M{"expires_at": time.Now().Add(ttl).UnixNano()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrCheckpointNotFound
	}
	return nil
}

func (s *MongoCheckpointStore) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.leases.DeleteOne(ctx, bson.M{"_id": id, "owner": owner})
	return err
}

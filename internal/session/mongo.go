package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

const collection = "sessions"

// MongoStore is the durable session store.
type MongoStore struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		col: db.Collection(collection),
		now: time.Now,
	}
}

func (m *MongoStore) Insert(ctx context.Context, ss *domain.Session) error {
	if _, err := m.col.InsertOne(ctx, ss); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("session already exists: %s", ss.SessionID),
				errors.WithCause(err))
		}
		return classify(err)
	}

	return nil
}

func (m *MongoStore) Find(ctx context.Context, id string) (*domain.Session, error) {
	var ss domain.Session
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&ss)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("session not found: %s", id)
	}
	if err != nil {
		return nil, classify(err)
	}

	return &ss, nil
}

// Update runs a single findOneAndUpdate so concurrent participant changes and guarded
// status transitions never overwrite each other.
func (m *MongoStore) Update(ctx context.Context, id string, mu Mutation) (*domain.Session, error) {
	filter := bson.M{"_id": id}
	if mu.RequireStatus != "" {
		filter["status"] = mu.RequireStatus
	}
	if mu.RequireQuestion != nil {
		filter["current_question"] = *mu.RequireQuestion
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ss domain.Session
	err := m.col.FindOneAndUpdate(ctx, filter, m.update(mu), opts).Decode(&ss)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, m.explainMiss(ctx, id, mu)
	}
	if err != nil {
		return nil, classify(err)
	}

	return &ss, nil
}

// AddParticipant only matches a document that does not hold p yet, so a match means the
// set changed. A miss is resolved with a plain read.
func (m *MongoStore) AddParticipant(ctx context.Context, id, p string) (*domain.Session, bool, error) {
	filter := bson.M{
		"_id":          id,
		"participants": bson.M{"$ne": p},
	}
	update := bson.M{
		"$addToSet": bson.M{"participants": p},
		"$set":      bson.M{"updated_at": m.now()},
		"$inc":      bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ss domain.Session
	err := m.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ss)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		cur, err := m.Find(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}

	return &ss, true, nil
}

func (m *MongoStore) update(mu Mutation) bson.M {
	set := bson.M{"updated_at": m.now()}
	if mu.Status != nil {
		set["status"] = *mu.Status
	}
	if mu.CurrentQuestion != nil {
		set["current_question"] = *mu.CurrentQuestion
	}
	if mu.StartTime != nil {
		set["start_time"] = *mu.StartTime
	}
	if mu.EndTime != nil {
		set["end_time"] = *mu.EndTime
	}
	if mu.QuestionStartTime != nil {
		set["question_start_time"] = *mu.QuestionStartTime
	}

	u := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if mu.RemoveParticipant != "" {
		u["$pull"] = bson.M{"participants": mu.RemoveParticipant}
	}

	return u
}

// explainMiss tells a missing session apart from a failed status guard.
func (m *MongoStore) explainMiss(ctx context.Context, id string, mu Mutation) error {
	if mu.RequireStatus == "" && mu.RequireQuestion == nil {
		return errors.NotFound("session not found: %s", id)
	}

	ss, err := m.Find(ctx, id)
	if err != nil {
		return err
	}

	if err := mu.Check(ss); err != nil {
		return err
	}

	// Lost a race with another transition.
	return errors.InvalidState("session %s changed concurrently", id)
}

func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errors.Unavailable(fmt.Errorf("mongo: %w", err))
	}
	return fmt.Errorf("mongo: %w", err)
}

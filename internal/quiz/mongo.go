package quiz

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection("quizzes")}
}

func (r *MongoRepository) Insert(ctx context.Context, q *domain.Quiz) error {
	if _, err := r.col.InsertOne(ctx, q); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("quiz already exists: %s", q.ID),
				errors.WithCause(err))
		}
		return fmt.Errorf("mongo: %w", err)
	}

	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*domain.Quiz, error) {
	var q domain.Quiz
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&q)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("quiz not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}

	return &q, nil
}

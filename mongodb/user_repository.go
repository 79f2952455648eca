package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/authgate/domain"
)

// UserRepository implements domain.UserRepository on MongoDB.
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates the repository and ensures its indexes: a
// unique index on the provider subject and a multikey index on roles.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		users: db.Collection(UsersCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subject", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "roles", Value: 1}},
			Options: options.Index(),
		},
	}
	if _, err := repo.users.Indexes().CreateMany(ctx, indexModels); err != nil {
		// Index creation commonly fails when compatible indexes already
		// exist; log and continue rather than refusing to start.
		log.Warn().Err(err).Msg("issue creating indexes for users collection")
	}

	return repo, nil
}

// CreateUser inserts a new user record.
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = NewObjectID()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if _, err := r.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user with subject %q already exists", user.Subject)
		}
		log.Error().Err(err).Msg("error storing user in MongoDB")
		return err
	}
	return nil
}

// UpdateUser overwrites an existing user record (last-write-wins).
func (r *UserRepository) UpdateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return errors.New("user ID is required for update")
	}
	user.UpdatedAt = time.Now().UTC()

	result, err := r.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("error updating user in MongoDB")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetUserByID retrieves a user by its storage ID.
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetUserBySubject retrieves a user by the provider subject id.
func (r *UserRepository) GetUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"subject": subject})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Interface("filter", filter).Msg("error getting user from MongoDB")
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes a user record. Session cleanup is the session
// manager's responsibility; storage does not cascade.
func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	if _, err := r.users.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		log.Error().Err(err).Str("userID", id).Msg("error deleting user from MongoDB")
		return err
	}
	return nil
}

var _ domain.UserRepository = (*UserRepository)(nil)

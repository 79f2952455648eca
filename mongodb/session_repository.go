package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/authgate/domain"
)

// SessionRepository implements domain.SessionRepository on MongoDB.
type SessionRepository struct {
	sessions *mongo.Collection
}

// NewSessionRepository creates the repository and ensures its indexes:
// owning user, token id, and a TTL index so expired rows are eventually
// swept by storage. Reads still filter on expiry; the TTL sweep is lazy.
func NewSessionRepository(ctx context.Context, db *mongo.Database) (*SessionRepository, error) {
	repo := &SessionRepository{
		sessions: db.Collection(SessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "token_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "token_expiry", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.sessions.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("issue creating indexes for sessions collection")
	}

	return repo, nil
}

// StoreSession inserts a new session.
func (r *SessionRepository) StoreSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = NewObjectID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	if _, err := r.sessions.InsertOne(ctx, session); err != nil {
		log.Error().Err(err).Msg("error storing session in MongoDB")
		return err
	}
	return nil
}

// GetSessionByID retrieves a session by its ID.
func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("error getting session from MongoDB")
		return nil, err
	}
	return &session, nil
}

func activeFilter(userID string, now time.Time) bson.M {
	return bson.M{
		"user_id":      userID,
		"token_expiry": bson.M{"$gte": now},
	}
}

// ListActiveSessions returns the user's non-expired sessions, most recently
// active first with session ID as the deterministic secondary sort key.
func (r *SessionRepository) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "last_active_at", Value: -1},
		{Key: "_id", Value: 1},
	})
	cursor, err := r.sessions.Find(ctx, activeFilter(userID, now), opts)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("error listing sessions from MongoDB")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*domain.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// LatestActiveSession returns the most recently active non-expired session.
func (r *SessionRepository) LatestActiveSession(ctx context.Context, userID string, now time.Time) (*domain.Session, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: "last_active_at", Value: -1},
		{Key: "_id", Value: 1},
	})
	var session domain.Session
	err := r.sessions.FindOne(ctx, activeFilter(userID, now), opts).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("userID", userID).Msg("error getting latest session from MongoDB")
		return nil, err
	}
	return &session, nil
}

// TouchSession refreshes the session's last-active timestamp, the only
// in-place mutation sessions receive.
func (r *SessionRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := r.sessions.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_active_at": at}},
	)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("error touching session in MongoDB")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSession removes a session. Deleting an absent session is not an
// error.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		log.Error().Err(err).Str("id", id).Msg("error deleting session from MongoDB")
		return err
	}
	return nil
}

// DeleteSessionsByUserID removes every session owned by the user.
func (r *SessionRepository) DeleteSessionsByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.sessions.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("error deleting sessions from MongoDB")
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

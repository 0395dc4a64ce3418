// Package mongorepo is the MongoDB Store. The per-register and per-user
// session invariants are partial unique indexes; the claim is a conditional
// FindOneAndUpdate on the register document, run in a transaction with the
// session insert.
package mongorepo

import (
	"context"
	"errors"
	"fmt"

	"registerhub/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	registersColl = "registers"
	sessionsColl  = "register_sessions"
	usersColl     = "users"

	idxActiveRegister = "ux_sessions_active_register"
	idxActiveUser     = "ux_sessions_active_user"
)

type Store struct {
	client    *mongo.Client
	registers *mongo.Collection
	sessions  *mongo.Collection
	users     *mongo.Collection
	feed      *ChangeFeed
}

// New binds the collections of database dbName and creates missing indexes.
func New(ctx context.Context, client *mongo.Client, dbName string) (*Store, error) {
	db := client.Database(dbName)
	s := &Store{
		client:    client,
		registers: db.Collection(registersColl),
		sessions:  db.Collection(sessionsColl),
		users:     db.Collection(usersColl),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	s.feed = newChangeFeed(s.registers, s.sessions)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	active := bson.M{"status": "active"}
	_, err := s.sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "register_id", Value: 1}},
			Options: options.Index().SetName(idxActiveRegister).SetUnique(true).SetPartialFilterExpression(active),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName(idxActiveUser).SetUnique(true).SetPartialFilterExpression(active),
		},
		{Keys: bson.D{{Key: "business_id", Value: 1}, {Key: "start_time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("sessions indexes: %w", err)
	}
	_, err = s.registers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "business_id", Value: 1}, {Key: "name", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("registers indexes: %w", err)
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	return nil
}

func (s *Store) Registers() repository.RegisterRepository { return registerRepo{s} }
func (s *Store) Sessions() repository.SessionRepository   { return sessionRepo{s} }
func (s *Store) Claims() repository.ClaimRepository       { return claimRepo{s} }
func (s *Store) Users() repository.UserRepository         { return userRepo{s} }
func (s *Store) Feed() repository.ChangeFeed              { return s.feed }

// ChangeFeed exposes the change-stream runner so main can start it.
func (s *Store) ChangeFeed() *ChangeFeed { return s.feed }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	s.feed.Close()
	return s.client.Disconnect(context.Background())
}

// inTx runs fn inside a multi-document transaction. The change feed already
// requires a replica set, so transactions are always available. fn may run
// more than once on transient errors and must not leak state between runs.
func (s *Store) inTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// translate maps driver sentinels to the store-wide ones.
func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return repository.ErrNotFound
	}
	return err
}

var _ repository.Store = (*Store)(nil)

package repository

import (
	"context"

	"gorm.io/gorm"
)

// PostgresStore is the gorm-backed Store. Change notifications come from
// the LISTEN/NOTIFY feed installed by infra.NewDatabase.
type PostgresStore struct {
	db        *gorm.DB
	registers RegisterRepository
	sessions  SessionRepository
	claims    ClaimRepository
	users     UserRepository
	feed      *PGChangeFeed
}

func NewPostgresStore(db *gorm.DB, feed *PGChangeFeed) *PostgresStore {
	return &PostgresStore{
		db:        db,
		registers: NewRegisterRepository(db),
		sessions:  NewSessionRepository(db),
		claims:    NewClaimRepository(db),
		users:     NewUserRepository(db),
		feed:      feed,
	}
}

func (s *PostgresStore) Registers() RegisterRepository { return s.registers }
func (s *PostgresStore) Sessions() SessionRepository   { return s.sessions }
func (s *PostgresStore) Claims() ClaimRepository       { return s.claims }
func (s *PostgresStore) Users() UserRepository         { return s.users }
func (s *PostgresStore) Feed() ChangeFeed              { return s.feed }

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	s.feed.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*PostgresStore)(nil)

package infra

import (
	"context"
	"fmt"

	"registerhub/internal/config"
	"registerhub/internal/repository"
	"registerhub/internal/repository/memory"
	"registerhub/internal/repository/mongorepo"

	"github.com/rs/zerolog/log"
)

// OpenStore builds the Store selected by STORE_DRIVER. The returned run func
// drives the backend's change feed and blocks until ctx is done; callers start
// it in its own goroutine.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func(context.Context), error) {
	switch cfg.StoreDriver {
	case "postgres", "":
		db, err := NewDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		feed, err := repository.NewPGChangeFeed(db, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("listen postgres: %w", err)
		}
		log.Info().Msg("store: postgres")
		return repository.NewPostgresStore(db, feed), feed.Run, nil

	case "mongo":
		client, err := NewMongo(cfg.MongoURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		st, err := mongorepo.New(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("prepare mongo: %w", err)
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("store: mongo")
		return st, st.ChangeFeed().Run, nil

	case "memory":
		log.Warn().Msg("store: memory (state is lost on restart and not shared between instances)")
		return memory.New(), func(context.Context) {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

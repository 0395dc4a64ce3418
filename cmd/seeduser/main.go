// cmd/seeduser/main.go: creates a demo user in the configured store.
// Usage: SEED_USERNAME=ana SEED_ROLE=cashier go run ./cmd/seeduser
package main

import (
	"context"
	"fmt"
	"os"

	"registerhub/internal/config"
	"registerhub/internal/infra"
	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.StoreDriver == "memory" {
		log.Fatal().Msg("seeding the memory store is pointless; set STORE_DRIVER")
	}

	businessID, err := uuid.Parse(env("SEED_BUSINESS_ID", "00000000-0000-0000-0000-000000000001"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SEED_BUSINESS_ID")
	}
	username := env("SEED_USERNAME", "admin")
	password := env("SEED_PASSWORD", "admin1234")
	role := env("SEED_ROLE", model.RoleAdmin)
	switch role {
	case model.RoleCashier, model.RoleSupervisor, model.RoleAdmin:
	default:
		log.Fatal().Str("role", role).Msg("unknown SEED_ROLE")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		log.Fatal().Err(err).Msg("bcrypt")
	}

	ctx := context.Background()
	store, _, err := infra.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	u := &model.User{
		ID:           uuid.New(),
		BusinessID:   businessID,
		Username:     username,
		DisplayName:  env("SEED_DISPLAY_NAME", username),
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := store.Users().Create(ctx, u); err != nil {
		log.Fatal().Err(err).Str("username", username).Msg("create user")
	}
	fmt.Printf("user %q (%s) created in business %s\n", username, role, businessID)
}

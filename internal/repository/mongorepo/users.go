package mongorepo

import (
	"context"
	"strings"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := r.s.users.InsertOne(ctx, userDoc{
		ID:           u.ID.String(),
		BusinessID:   u.BusinessID.String(),
		Username:     u.Username,
		UsernameKey:  strings.ToLower(u.Username),
		DisplayName:  u.DisplayName,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	})
	return err
}

func (r userRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var doc userDoc
	err := r.s.users.FindOne(ctx, bson.M{"username_key": strings.ToLower(username), "active": true}).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return doc.toModel()
}

func (r userRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var doc userDoc
	if err := r.s.users.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.toModel()
}

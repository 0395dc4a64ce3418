package mongorepo

import (
	"context"
	"errors"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type registerRepo struct{ s *Store }

func (r registerRepo) Create(ctx context.Context, reg *model.Register) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	if reg.Version == 0 {
		reg.Version = 1
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now()
	}
	_, err := r.s.registers.InsertOne(ctx, fromRegister(reg))
	return err
}

func (r registerRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Register, error) {
	var doc registerDoc
	err := r.s.registers.FindOne(ctx, bson.M{"_id": id.String(), "business_id": businessID.String()}).Decode(&doc)
	if err != nil {
		return nil, translate(err)
	}
	return doc.toModel()
}

func (r registerRepo) List(ctx context.Context, businessID uuid.UUID, filter repository.RegisterFilter) ([]model.Register, error) {
	q := bson.M{"business_id": businessID.String()}
	if filter.AdminStatus != nil {
		q["admin_status"] = string(*filter.AdminStatus)
	}
	cur, err := r.s.registers.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []registerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	list := make([]model.Register, 0, len(docs))
	for _, d := range docs {
		reg, err := d.toModel()
		if err != nil {
			return nil, err
		}
		list = append(list, *reg)
	}
	return list, nil
}

func (r registerRepo) ListClaimedBefore(ctx context.Context, cutoff time.Time) ([]model.Register, error) {
	cur, err := r.s.registers.Find(ctx,
		bson.M{"claim_session_id": bson.M{"$ne": nil}, "claimed_at": bson.M{"$lt": cutoff}},
		options.Find().SetSort(bson.D{{Key: "claimed_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []registerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	list := make([]model.Register, 0, len(docs))
	for _, d := range docs {
		reg, err := d.toModel()
		if err != nil {
			return nil, err
		}
		list = append(list, *reg)
	}
	return list, nil
}

func (r registerRepo) UpdateAdmin(ctx context.Context, reg *model.Register) error {
	update := bson.M{
		"$set": bson.M{
			"name":          reg.Name,
			"location":      reg.Location,
			"admin_status":  string(reg.AdminStatus),
			"last_activity": reg.LastActivity,
		},
		"$inc": bson.M{"version": 1},
	}
	var doc registerDoc
	err := r.s.registers.FindOneAndUpdate(ctx,
		bson.M{"_id": reg.ID.String(), "business_id": reg.BusinessID.String()},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return translate(err)
	}
	updated, err := doc.toModel()
	if err != nil {
		return err
	}
	*reg = *updated
	return nil
}

// Delete refuses while an active session exists. The delete itself is also
// conditional on an empty claim: a claim racing past the session check then
// finds no register and its transaction aborts.
func (r registerRepo) Delete(ctx context.Context, businessID, id uuid.UUID) error {
	err := r.s.sessions.FindOne(ctx, bson.M{
		"register_id": id.String(),
		"business_id": businessID.String(),
		"status":      string(model.SessionActive),
	}).Err()
	switch {
	case err == nil:
		return repository.ErrRegisterHasActiveSession
	case !errors.Is(err, mongo.ErrNoDocuments):
		return err
	}

	res, err := r.s.registers.DeleteOne(ctx, bson.M{
		"_id":              id.String(),
		"business_id":      businessID.String(),
		"claim_session_id": nil,
	})
	if err != nil {
		return err
	}
	if res.DeletedCount == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, businessID, id); err != nil {
		return err
	}
	return repository.ErrRegisterHasActiveSession
}

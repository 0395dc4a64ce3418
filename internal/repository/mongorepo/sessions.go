package mongorepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type sessionRepo struct{ s *Store }

func (r sessionRepo) findOne(ctx context.Context, filter bson.M) (*model.Session, error) {
	var doc sessionDoc
	if err := r.s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translate(err)
	}
	return doc.toModel()
}

func (r sessionRepo) FindByID(ctx context.Context, businessID, id uuid.UUID) (*model.Session, error) {
	return r.findOne(ctx, bson.M{"_id": id.String(), "business_id": businessID.String()})
}

func (r sessionRepo) FindActiveByUser(ctx context.Context, businessID, userID uuid.UUID) (*model.Session, error) {
	return r.findOne(ctx, bson.M{
		"business_id": businessID.String(),
		"user_id":     userID.String(),
		"status":      string(model.SessionActive),
	})
}

func (r sessionRepo) FindActiveByRegister(ctx context.Context, businessID, registerID uuid.UUID) (*model.Session, error) {
	return r.findOne(ctx, bson.M{
		"business_id": businessID.String(),
		"register_id": registerID.String(),
		"status":      string(model.SessionActive),
	})
}

func (r sessionRepo) List(ctx context.Context, businessID uuid.UUID, filter repository.SessionFilter, page, limit int) ([]model.Session, int64, error) {
	q := bson.M{"business_id": businessID.String()}
	if filter.RegisterID != nil {
		q["register_id"] = filter.RegisterID.String()
	}
	if filter.UserID != nil {
		q["user_id"] = filter.UserID.String()
	}
	if filter.Status != nil {
		q["status"] = string(*filter.Status)
	}

	total, err := r.s.sessions.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cur, err := r.s.sessions.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []sessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}
	list := make([]model.Session, 0, len(docs))
	for _, d := range docs {
		sess, err := d.toModel()
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *sess)
	}
	return list, total, nil
}

func (r sessionRepo) AddSale(ctx context.Context, businessID, id uuid.UUID, amount decimal.Decimal) (*model.Session, error) {
	inc, err := toDecimal128(amount)
	if err != nil {
		return nil, err
	}
	var doc sessionDoc
	err = r.s.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "business_id": businessID.String(), "status": string(model.SessionActive)},
		bson.M{"$inc": bson.M{"total_sales": inc, "total_transactions": 1, "version": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := r.FindByID(ctx, businessID, id); err != nil {
			return nil, err
		}
		return nil, repository.ErrConditionFailed
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel()
}

// ── claim / release ──────────────────────────────────────────────────────────

type claimRepo struct{ s *Store }

// Claim inserts the session and sets the register claim in one transaction.
// The partial unique indexes arbitrate between concurrent claimers; the
// conditional FindOneAndUpdate is the compare-and-swap on the register.
func (r claimRepo) Claim(ctx context.Context, sess *model.Session) (*model.Register, error) {
	if sess.Version == 0 {
		sess.Version = 1
	}
	doc, err := fromSession(sess)
	if err != nil {
		return nil, err
	}

	var out *model.Register
	err = r.s.inTx(ctx, func(sc mongo.SessionContext) error {
		if _, err := r.s.sessions.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				if strings.Contains(err.Error(), idxActiveUser) {
					return repository.ErrUserHasActiveSession
				}
				return repository.ErrRegisterHasActiveSession
			}
			return err
		}

		var reg registerDoc
		err := r.s.registers.FindOneAndUpdate(sc,
			bson.M{
				"_id":              sess.RegisterID.String(),
				"business_id":      sess.BusinessID.String(),
				"claim_session_id": nil,
				"admin_status":     string(model.AdminStatusActive),
			},
			bson.M{
				"$set": bson.M{
					"claim_user_id":    sess.UserID.String(),
					"claim_session_id": sess.ID.String(),
					"claimed_at":       sess.StartTime,
					"last_activity":    sess.StartTime,
				},
				"$inc": bson.M{"version": 1},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&reg)
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Aborting the transaction discards the inserted session.
			return r.rejected(sc, sess)
		}
		if err != nil {
			return err
		}
		out, err = reg.toModel()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rejected explains why the conditional claim matched nothing.
func (r claimRepo) rejected(ctx context.Context, sess *model.Session) error {
	current, err := registerRepo(r).FindByID(ctx, sess.BusinessID, sess.RegisterID)
	if err != nil {
		return err
	}
	if current.Claim() != nil {
		return repository.ErrRegisterHasActiveSession
	}
	return repository.ErrConditionFailed
}

// Release closes the session and clears the claim if it still points at it,
// both inside one transaction.
func (r claimRepo) Release(ctx context.Context, businessID, sessionID uuid.UUID, endTime time.Time, endingAmount decimal.Decimal) (*model.Session, bool, error) {
	ending, err := toDecimal128(endingAmount)
	if err != nil {
		return nil, false, err
	}

	var (
		out     *model.Session
		cleared bool
	)
	err = r.s.inTx(ctx, func(sc mongo.SessionContext) error {
		var doc sessionDoc
		err := r.s.sessions.FindOneAndUpdate(sc,
			bson.M{"_id": sessionID.String(), "business_id": businessID.String(), "status": string(model.SessionActive)},
			bson.M{
				"$set": bson.M{
					"status":        string(model.SessionClosed),
					"end_time":      endTime,
					"ending_amount": ending,
				},
				"$inc": bson.M{"version": 1},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, err := sessionRepo(r).FindByID(sc, businessID, sessionID); err != nil {
				return err
			}
			return repository.ErrConditionFailed
		}
		if err != nil {
			return err
		}
		sess, err := doc.toModel()
		if err != nil {
			return err
		}

		res, err := r.s.registers.UpdateOne(sc,
			bson.M{
				"_id":              sess.RegisterID.String(),
				"business_id":      businessID.String(),
				"claim_session_id": sessionID.String(),
			},
			clearClaim(endTime),
		)
		if err != nil {
			return err
		}
		out, cleared = sess, res.ModifiedCount == 1
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, cleared, nil
}

func (r claimRepo) ClearOrphan(ctx context.Context, businessID, registerID, sessionID uuid.UUID, at time.Time) (bool, error) {
	var cleared bool
	err := r.s.inTx(ctx, func(sc mongo.SessionContext) error {
		cleared = false
		live, err := r.s.sessions.CountDocuments(sc, bson.M{
			"_id":    sessionID.String(),
			"status": string(model.SessionActive),
		})
		if err != nil || live > 0 {
			return err
		}
		res, err := r.s.registers.UpdateOne(sc,
			bson.M{
				"_id":              registerID.String(),
				"business_id":      businessID.String(),
				"claim_session_id": sessionID.String(),
			},
			clearClaim(at),
		)
		if err != nil {
			return err
		}
		cleared = res.ModifiedCount == 1
		return nil
	})
	return cleared, err
}

func clearClaim(at time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"claim_user_id":    nil,
			"claim_session_id": nil,
			"claimed_at":       nil,
			"last_activity":    at,
		},
		"$inc": bson.M{"version": 1},
	}
}

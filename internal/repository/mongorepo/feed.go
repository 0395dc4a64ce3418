package mongorepo

import (
	"context"
	"sync"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeFeed tails the registers and register_sessions change streams and
// republishes them per business through a Hub. Change streams require a
// replica set.
type ChangeFeed struct {
	registers *mongo.Collection
	sessions  *mongo.Collection
	hub       *repository.Hub

	// owners remembers the business of every live document seen so deletes,
	// which only carry the document key, can be routed.
	mu     sync.Mutex
	owners map[string]uuid.UUID
}

func newChangeFeed(registers, sessions *mongo.Collection) *ChangeFeed {
	return &ChangeFeed{
		registers: registers,
		sessions:  sessions,
		hub:       repository.NewHub(),
		owners:    make(map[string]uuid.UUID),
	}
}

func (f *ChangeFeed) Subscribe(ctx context.Context, businessID uuid.UUID) (<-chan model.ChangeEvent, error) {
	return f.hub.Subscribe(ctx, businessID)
}

func (f *ChangeFeed) Close() { f.hub.Close() }

// changeDoc is the subset of a change stream event the feed reads.
type changeDoc struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

// Run tails both collections until ctx is done. A broken stream is reopened
// after a pause and subscribers are told to resync.
func (f *ChangeFeed) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, coll := range []*mongo.Collection{f.registers, f.sessions} {
		wg.Add(1)
		go func(coll *mongo.Collection) {
			defer wg.Done()
			f.tail(ctx, coll)
		}(coll)
	}
	wg.Wait()
}

func (f *ChangeFeed) tail(ctx context.Context, coll *mongo.Collection) {
	log.Info().Str("collection", coll.Name()).Msg("change_feed: watching")
	first := true
	for ctx.Err() == nil {
		stream, err := coll.Watch(ctx, mongo.Pipeline{},
			options.ChangeStream().SetFullDocument(options.UpdateLookup))
		if err != nil {
			log.Warn().Err(err).Str("collection", coll.Name()).Msg("change_feed: watch failed")
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
			continue
		}
		if !first {
			f.hub.Publish(model.ChangeEvent{Op: model.OpResync})
		}
		first = false

		for stream.Next(ctx) {
			var ev changeDoc
			if err := stream.Decode(&ev); err != nil {
				log.Error().Err(err).Msg("change_feed: decode event")
				continue
			}
			f.dispatch(coll.Name(), ev)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("collection", coll.Name()).Msg("change_feed: stream interrupted")
		}
		_ = stream.Close(context.Background())
	}
}

func (f *ChangeFeed) dispatch(collection string, ev changeDoc) {
	op := model.OpUpdate
	switch ev.OperationType {
	case "insert":
		op = model.OpInsert
	case "update", "replace":
	case "delete":
		op = model.OpDelete
	default:
		return
	}

	if op == model.OpDelete || ev.FullDocument == nil {
		f.publishDelete(collection, ev.DocumentKey.ID)
		return
	}

	switch collection {
	case registersColl:
		var doc registerDoc
		if err := bson.Unmarshal(ev.FullDocument, &doc); err != nil {
			log.Error().Err(err).Msg("change_feed: decode register")
			return
		}
		reg, err := doc.toModel()
		if err != nil {
			log.Error().Err(err).Msg("change_feed: convert register")
			return
		}
		f.remember(doc.ID, reg.BusinessID)
		f.hub.Publish(model.RegisterChanged(op, reg))
	case sessionsColl:
		var doc sessionDoc
		if err := bson.Unmarshal(ev.FullDocument, &doc); err != nil {
			log.Error().Err(err).Msg("change_feed: decode session")
			return
		}
		sess, err := doc.toModel()
		if err != nil {
			log.Error().Err(err).Msg("change_feed: convert session")
			return
		}
		// Closed sessions are never deleted, so their owner entry can go.
		if sess.IsActive() {
			f.remember(doc.ID, sess.BusinessID)
		} else {
			f.forget(doc.ID)
		}
		f.hub.Publish(model.SessionChanged(op, sess))
	}
}

func (f *ChangeFeed) publishDelete(collection, id string) {
	f.mu.Lock()
	businessID, known := f.owners[id]
	delete(f.owners, id)
	f.mu.Unlock()

	parsed, err := uuid.Parse(id)
	if !known || err != nil {
		f.hub.Publish(model.ChangeEvent{Op: model.OpResync})
		return
	}
	c := model.CollectionRegisters
	if collection == sessionsColl {
		c = model.CollectionSessions
	}
	f.hub.Publish(model.ChangeEvent{Collection: c, Op: model.OpDelete, BusinessID: businessID, ID: parsed})
}

func (f *ChangeFeed) remember(id string, businessID uuid.UUID) {
	f.mu.Lock()
	f.owners[id] = businessID
	f.mu.Unlock()
}

func (f *ChangeFeed) forget(id string) {
	f.mu.Lock()
	delete(f.owners, id)
	f.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// NotifyChannel is the LISTEN/NOTIFY channel the row triggers publish on.
const NotifyChannel = "registerhub_changes"

// notification is the payload built by registerhub_notify_change().
type notification struct {
	Table      string    `json:"table"`
	Op         string    `json:"op"`
	ID         uuid.UUID `json:"id"`
	BusinessID uuid.UUID `json:"business_id"`
	Version    int64     `json:"version"`
}

// PGChangeFeed turns Postgres notifications into ChangeEvents. NOTIFY is
// delivered at commit and in commit order, which gives per-document ordering
// for free. One listener connection serves every subscriber in the process.
type PGChangeFeed struct {
	db       *gorm.DB
	listener *pq.Listener
	hub      *Hub
}

// NewPGChangeFeed opens a dedicated listener connection on dsn.
func NewPGChangeFeed(db *gorm.DB, dsn string) (*PGChangeFeed, error) {
	f := &PGChangeFeed{db: db, hub: NewHub()}
	f.listener = pq.NewListener(dsn, time.Second, 30*time.Second, f.onListenerEvent)
	if err := f.listener.Listen(NotifyChannel); err != nil {
		_ = f.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return f, nil
}

func (f *PGChangeFeed) Subscribe(ctx context.Context, businessID uuid.UUID) (<-chan model.ChangeEvent, error) {
	return f.hub.Subscribe(ctx, businessID)
}

// Run dispatches notifications until ctx is done.
func (f *PGChangeFeed) Run(ctx context.Context) {
	log.Info().Str("channel", NotifyChannel).Msg("change_feed: listening")
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change_feed: shutting down")
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after a reconnect: anything in between is lost.
				f.hub.Publish(model.ChangeEvent{Op: model.OpResync})
				continue
			}
			f.dispatch(ctx, n.Extra)
		case <-ping.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("change_feed: listener ping failed")
				}
			}()
		}
	}
}

func (f *PGChangeFeed) Close() {
	f.hub.Close()
	if err := f.listener.Close(); err != nil {
		log.Warn().Err(err).Msg("change_feed: close listener")
	}
}

func (f *PGChangeFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		log.Warn().Err(err).Msg("change_feed: listener disconnected")
	case pq.ListenerEventReconnected:
		log.Info().Msg("change_feed: listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		log.Warn().Err(err).Msg("change_feed: reconnect attempt failed")
	}
}

func (f *PGChangeFeed) dispatch(ctx context.Context, payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("change_feed: invalid payload")
		return
	}

	op := model.OpUpdate
	switch n.Op {
	case "INSERT":
		op = model.OpInsert
	case "DELETE":
		op = model.OpDelete
	}

	switch n.Table {
	case "registers":
		if op == model.OpDelete {
			f.hub.Publish(model.ChangeEvent{Collection: model.CollectionRegisters, Op: op, BusinessID: n.BusinessID, ID: n.ID, Version: n.Version})
			return
		}
		var reg model.Register
		if err := f.db.WithContext(ctx).Where("id = ?", n.ID).First(&reg).Error; err != nil {
			// Deleted after the notification; its DELETE follows.
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Error().Err(err).Str("register_id", n.ID.String()).Msg("change_feed: load register")
			}
			return
		}
		f.hub.Publish(model.RegisterChanged(op, &reg))
	case "register_sessions":
		var s model.Session
		if err := f.db.WithContext(ctx).Where("id = ?", n.ID).First(&s).Error; err != nil {
			if op == model.OpDelete || errors.Is(err, gorm.ErrRecordNotFound) {
				f.hub.Publish(model.ChangeEvent{Collection: model.CollectionSessions, Op: model.OpDelete, BusinessID: n.BusinessID, ID: n.ID, Version: n.Version})
				return
			}
			log.Error().Err(err).Str("session_id", n.ID.String()).Msg("change_feed: load session")
			return
		}
		f.hub.Publish(model.SessionChanged(op, &s))
	default:
		log.Warn().Str("table", n.Table).Msg("change_feed: unknown table")
	}
}

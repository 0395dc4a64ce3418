package handler

import (
	"context"
	"net/http"
	"time"

	"registerhub/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
)

type PresenceHandler struct {
	svc            service.PresenceService
	allowedOrigins []string
}

func NewPresenceHandler(svc service.PresenceService, allowedOrigins []string) *PresenceHandler {
	return &PresenceHandler{svc: svc, allowedOrigins: allowedOrigins}
}

// Snapshot godoc
// @Summary Current presence view of the caller's business
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.PresenceSnapshot
// @Router /v1/presence [get]
func (h *PresenceHandler) Snapshot(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	snap, err := h.svc.Snapshot(c.Request.Context(), caller)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *PresenceHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			log.Warn().Str("origin", origin).Msg("websocket origin rejected")
			return false
		},
	}
}

// Watch godoc
// @Summary Presence snapshots pushed over a WebSocket on every change
// @Tags presence
// @Param token query string true "Access token"
// @Success 101
// @Router /v1/presence/ws [get]
func (h *PresenceHandler) Watch(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	up := h.upgrader()
	ws, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	snapshots, err := h.svc.Watch(ctx, caller)
	if err != nil {
		log.Error().Err(err).Str("business_id", caller.BusinessID.String()).Msg("presence watch failed")
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "presence unavailable"))
		return
	}

	// Reader: only control frames are expected; any read error means the
	// client is gone.
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(snap); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Debug().Err(err).Str("user_id", caller.UserID.String()).Msg("presence socket closed")
				}
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

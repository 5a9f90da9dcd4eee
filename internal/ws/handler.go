package ws

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KeertanaGupta/mediprior-V0/internal/auth"
	"github.com/KeertanaGupta/mediprior-V0/internal/hub"
	"github.com/KeertanaGupta/mediprior-V0/internal/protocol"
)

// Handler runs the read/write pumps for one upgraded websocket connection.
type Handler struct {
	gw        *Gateway
	jwtSecret string
	logger    *zap.SugaredLogger

	pingInterval  time.Duration
	writeDeadline time.Duration
	maxMsgSize    int64
	ratePerSec    int
}

func NewHandler(gw *Gateway, jwtSecret string, pingInterval, writeDeadline time.Duration, maxMsgSize int64, ratePerSec int, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		gw:            gw,
		jwtSecret:     jwtSecret,
		logger:        logger,
		pingInterval:  pingInterval,
		writeDeadline: writeDeadline,
		maxMsgSize:    maxMsgSize,
		ratePerSec:    ratePerSec,
	}
}

// Serve handles one connection. Mounted at /ws/chat/:conversationID with the
// bearer token in the token query parameter (browser websockets cannot set
// headers).
func (h *Handler) Serve(c *websocket.Conn) {
	convID := c.Params("conversationID")
	token := c.Query("token")
	if convID == "" || token == "" {
		_ = c.Close()
		return
	}
	claims, err := auth.ParseAndValidate(h.jwtSecret, token)
	if err != nil {
		h.logger.Warnw("ws auth rejected", "err", err)
		_ = c.Close()
		return
	}

	ctx := context.Background()
	sub, conv, err := h.gw.Attach(ctx, convID, claims.UserID)
	if err != nil {
		h.logger.Warnw("ws attach rejected", "conversation_id", convID, "err", err)
		_ = c.Close()
		return
	}
	defer h.gw.Detach(convID, sub)

	go h.writePump(c, sub)

	// read pump
	c.SetReadLimit(h.maxMsgSize)
	_ = c.SetReadDeadline(time.Now().Add(h.pingInterval * 2))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.pingInterval * 2))
	})

	limiter := rate.NewLimiter(rate.Limit(h.ratePerSec), h.ratePerSec)
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		// flood control maps to the same code as the turn limit
		if !limiter.Allow() {
			if frame, err := protocol.EncodeError(protocol.CodeLimitReached, "sending too fast"); err == nil {
				sub.Push(frame)
			}
			continue
		}
		h.gw.HandleFrame(ctx, conv, claims.UserID, sub, data)
	}
}

func (h *Handler) writePump(c *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = c.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(h.writeDeadline))
			if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

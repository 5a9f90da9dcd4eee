// Package ws is the serving side of the chat protocol: it attaches
// authenticated connections to conversation rooms, replays history, gates
// sends on turn limits and doctor availability, and handles the
// clear-history moderation command.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KeertanaGupta/mediprior-V0/internal/envelope"
	"github.com/KeertanaGupta/mediprior-V0/internal/events"
	"github.com/KeertanaGupta/mediprior-V0/internal/hub"
	"github.com/KeertanaGupta/mediprior-V0/internal/models"
	"github.com/KeertanaGupta/mediprior-V0/internal/presence"
	"github.com/KeertanaGupta/mediprior-V0/internal/protocol"
	"github.com/KeertanaGupta/mediprior-V0/internal/store"
)

// turnState tracks consecutive sends by the same participant since the
// counterpart last replied. Held in memory per node; resets on restart.
type turnState struct {
	lastSender string
	run        int
}

type Gateway struct {
	store     store.Store
	presence  presence.Store
	hub       *hub.Hub
	events    events.Publisher
	logger    *zap.SugaredLogger
	turnLimit int

	mu    sync.Mutex
	turns map[string]turnState
}

func NewGateway(st store.Store, pr presence.Store, h *hub.Hub, ev events.Publisher, turnLimit int, logger *zap.SugaredLogger) *Gateway {
	if ev == nil {
		ev = events.Nop{}
	}
	if turnLimit <= 0 {
		turnLimit = 3
	}
	return &Gateway{
		store:     st,
		presence:  pr,
		hub:       h,
		events:    ev,
		logger:    logger,
		turnLimit: turnLimit,
		turns:     make(map[string]turnState),
	}
}

// Attach verifies that userID participates in the conversation, joins the
// room, and queues the history replay frame. The caller owns the returned
// subscriber and must Detach it when the connection ends.
func (g *Gateway) Attach(ctx context.Context, conversationID, userID string) (*hub.Subscriber, *models.Conversation, error) {
	conv, err := g.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("ws: attach %s: %w", conversationID, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, nil, fmt.Errorf("ws: user %s is not a participant of %s", userID, conversationID)
	}

	history, err := g.store.History(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("ws: history %s: %w", conversationID, err)
	}
	frame, err := protocol.EncodeHistory(toWire(history))
	if err != nil {
		return nil, nil, err
	}

	sub := hub.NewSubscriber(userID)
	g.hub.Join(conversationID, sub)
	sub.Push(frame)
	return sub, conv, nil
}

func (g *Gateway) Detach(conversationID string, sub *hub.Subscriber) {
	g.hub.Leave(conversationID, sub)
}

// HandleFrame processes one inbound frame from sender. Rejections go back to
// the sender only, via sub; accepted messages fan out to the whole room,
// sender echo included. Malformed frames are dropped with a diagnostic.
func (g *Gateway) HandleFrame(ctx context.Context, conv *models.Conversation, senderID string, sub *hub.Subscriber, data []byte) {
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil {
		g.logger.Warnw("dropping bad client frame",
			"conversation_id", conv.ID, "sender_id", senderID, "err", err)
		return
	}

	switch f := frame.(type) {
	case protocol.ChatSend:
		g.handleSend(ctx, conv, senderID, sub, f.Message)
	case protocol.Command:
		g.handleCommand(ctx, conv, senderID, sub, f.Name)
	}
}

func (g *Gateway) handleSend(ctx context.Context, conv *models.Conversation, senderID string, sub *hub.Subscriber, body string) {
	// patients cannot reach a doctor who set themselves busy or offline
	if senderID == conv.PatientID {
		st, err := g.presence.Status(ctx, conv.DoctorID)
		if err != nil {
			g.logger.Warnw("presence lookup failed", "doctor_id", conv.DoctorID, "err", err)
		} else if st != models.Available {
			code := protocol.CodeBusy
			msg := "doctor is busy right now"
			if st == models.Offline {
				code = protocol.CodeOffline
				msg = "doctor is offline"
			}
			g.replyError(sub, code, msg)
			return
		}
	}

	if !g.takeTurn(conv.ID, senderID) {
		g.replyError(sub, protocol.CodeLimitReached,
			"message limit reached, wait for a reply")
		return
	}

	kind := models.KindPlain
	if envelope.IsSharedReport(body) {
		kind = models.KindSharedReport
	}
	saved, err := g.store.AppendMessage(ctx, &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           body,
		Kind:           kind,
	})
	if err != nil {
		g.logger.Errorw("persist message failed", "conversation_id", conv.ID, "err", err)
		g.replyError(sub, "internal", "message could not be delivered")
		g.untakeTurn(conv.ID, senderID)
		return
	}

	out, err := protocol.EncodeMessage(protocol.WireMessage{
		SenderID:  saved.SenderID,
		Message:   saved.Body,
		Timestamp: saved.CreatedAt,
	})
	if err != nil {
		return
	}
	g.hub.Broadcast(ctx, conv.ID, out)
	g.publish(events.Event{
		Kind:           events.KindMessageDelivered,
		ConversationID: conv.ID,
		UserID:         senderID,
	})
}

func (g *Gateway) handleCommand(ctx context.Context, conv *models.Conversation, senderID string, sub *hub.Subscriber, name string) {
	if name != protocol.CommandClearHistory {
		g.replyError(sub, "unsupported", fmt.Sprintf("unknown command %q", name))
		return
	}
	if err := g.store.ClearHistory(ctx, conv.ID); err != nil {
		g.logger.Errorw("clear history failed", "conversation_id", conv.ID, "err", err)
		g.replyError(sub, "internal", "history could not be cleared")
		return
	}
	g.resetTurns(conv.ID)

	frame, err := protocol.EncodeCleared()
	if err != nil {
		return
	}
	g.hub.Broadcast(ctx, conv.ID, frame)
	g.publish(events.Event{
		Kind:           events.KindHistoryCleared,
		ConversationID: conv.ID,
		UserID:         senderID,
	})
}

// SetStatus records a doctor's availability and pushes a presence frame into
// each of their conversations.
func (g *Gateway) SetStatus(ctx context.Context, doctorID string, status models.Availability) error {
	if err := g.presence.SetStatus(ctx, doctorID, status); err != nil {
		return err
	}
	convs, err := g.store.ConversationsForUser(ctx, doctorID)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodePresence(doctorID, status)
	if err != nil {
		return err
	}
	for _, c := range convs {
		g.hub.Broadcast(ctx, c.ID, frame)
	}
	g.publish(events.Event{
		Kind:   events.KindStatusChanged,
		UserID: doctorID,
		Detail: string(status),
	})
	return nil
}

// takeTurn enforces the per-turn send budget: at most turnLimit consecutive
// messages by one participant until the counterpart replies.
func (g *Gateway) takeTurn(conversationID, senderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := g.turns[conversationID]
	if ts.lastSender == senderID && ts.run >= g.turnLimit {
		return false
	}
	if ts.lastSender == senderID {
		ts.run++
	} else {
		ts = turnState{lastSender: senderID, run: 1}
	}
	g.turns[conversationID] = ts
	return true
}

// untakeTurn rolls back a turn taken for a message that failed to persist.
func (g *Gateway) untakeTurn(conversationID, senderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := g.turns[conversationID]
	if ts.lastSender == senderID && ts.run > 0 {
		ts.run--
		g.turns[conversationID] = ts
	}
}

func (g *Gateway) resetTurns(conversationID string) {
	g.mu.Lock()
	delete(g.turns, conversationID)
	g.mu.Unlock()
}

func (g *Gateway) replyError(sub *hub.Subscriber, code protocol.ErrorCode, msg string) {
	frame, err := protocol.EncodeError(code, msg)
	if err != nil {
		return
	}
	sub.Push(frame)
}

// publish hands the event off without blocking frame delivery.
func (g *Gateway) publish(e events.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.events.Publish(ctx, e); err != nil {
			g.logger.Warnw("event publish failed", "kind", e.Kind, "err", err)
		}
	}()
}

func toWire(msgs []models.Message) []protocol.WireMessage {
	out := make([]protocol.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.WireMessage{
			SenderID:  m.SenderID,
			Message:   m.Body,
			Timestamp: m.CreatedAt,
		})
	}
	return out
}

// Package session implements the client side of the chat protocol: one
// connection per open conversation, an ordered message log fed by server
// frames, the input gate, and the counterpart's presence. Frames are
// processed one at a time in arrival order by a single dispatch goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/KeertanaGupta/mediprior-V0/internal/auth"
	"github.com/KeertanaGupta/mediprior-V0/internal/chatlog"
	"github.com/KeertanaGupta/mediprior-V0/internal/envelope"
	"github.com/KeertanaGupta/mediprior-V0/internal/models"
	"github.com/KeertanaGupta/mediprior-V0/internal/protocol"
)

// ReadyState mirrors the underlying transport, with Disconnected marking a
// drop that the session is still retrying.
type ReadyState int32

const (
	Uninstantiated ReadyState = iota
	Connecting
	Open
	Closing
	Closed
	Disconnected
)

func (s ReadyState) String() string {
	switch s {
	case Uninstantiated:
		return "uninstantiated"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// GateReason says why local sending is currently locked.
type GateReason string

const (
	GateNone         GateReason = "none"
	GateLimitReached GateReason = "limit_reached"
	GateBusy         GateReason = "busy"
	GateOffline      GateReason = "offline"
)

// Notice is a transient condition surfaced to the UI layer: server error
// frames, disconnects, and command timeouts. Never fatal.
type Notice struct {
	Code    protocol.ErrorCode
	Message string
	Err     error
}

var (
	ErrNotOpen        = errors.New("session: connection not open")
	ErrCommandTimeout = errors.New("session: clear_history acknowledgment timed out")
	ErrBadReport      = errors.New("session: report title empty or url contains newline")
)

// Config carries the session dependencies and tuning knobs.
type Config struct {
	// BaseURL is the gateway root, e.g. "ws://gateway:8080".
	BaseURL string
	Dialer  Dialer
	Logger  *zap.SugaredLogger

	// CommandTimeout bounds how long clear_history waits for its cleared
	// acknowledgment before surfacing a retryable notice. Default 10s.
	CommandTimeout time.Duration

	// Reconnect backoff after a transport drop. The session gives up and
	// goes Closed once MaxElapsed passes without a successful redial.
	ReconnectInitial    time.Duration // default 500ms
	ReconnectMaxWait    time.Duration // default 30s
	ReconnectMaxElapsed time.Duration // default 2m
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = 500 * time.Millisecond
	}
	if c.ReconnectMaxWait == 0 {
		c.ReconnectMaxWait = 30 * time.Second
	}
	if c.ReconnectMaxElapsed == 0 {
		c.ReconnectMaxElapsed = 2 * time.Minute
	}
	return c
}

// Session is the handle for one open conversation. All methods are safe for
// concurrent use.
type Session struct {
	cfg            Config
	conversationID string
	selfID         string
	cred           auth.Credential
	logger         *zap.SugaredLogger

	log     *chatlog.Log
	notices chan Notice

	mu          sync.Mutex
	state       ReadyState
	gate        GateReason
	counterpart models.Availability
	tr          Transport
	clearTimer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens the conversation channel. It blocks until the first connect
// succeeds or ctx is done; after that the session supervises the transport
// itself, redialing with bounded backoff on drops.
func Dial(ctx context.Context, cfg Config, conversationID, selfID string, cred auth.Credential) (*Session, error) {
	cfg = cfg.withDefaults()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:            cfg,
		conversationID: conversationID,
		selfID:         selfID,
		cred:           cred,
		logger:         cfg.Logger.With("conversation_id", conversationID),
		log:            chatlog.New(),
		notices:        make(chan Notice, 16),
		state:          Connecting,
		gate:           GateNone,
		counterpart:    models.Available,
		ctx:            sctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	tr, err := cfg.Dialer.DialContext(ctx, s.endpoint())
	if err != nil {
		cancel()
		s.setState(Closed)
		return nil, fmt.Errorf("session: dial %s: %w", conversationID, err)
	}
	s.mu.Lock()
	s.tr = tr
	s.state = Open
	s.mu.Unlock()

	go s.run()
	return s, nil
}

func (s *Session) endpoint() string {
	return fmt.Sprintf("%s/ws/chat/%s?token=%s",
		s.cfg.BaseURL, s.conversationID, url.QueryEscape(s.cred.Token))
}

// Log exposes the conversation's message log.
func (s *Session) Log() *chatlog.Log { return s.log }

// Notices delivers transient conditions for the UI to toast. The channel is
// buffered; if the consumer falls behind, notices are dropped, not blocked on.
func (s *Session) Notices() <-chan Notice { return s.notices }

func (s *Session) State() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Gate returns why sending is locked, or GateNone.
func (s *Session) Gate() GateReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// CounterpartStatus is the last availability pushed for the other party.
func (s *Session) CounterpartStatus() models.Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// Send emits one chat message. It fails with ErrNotOpen unless the transport
// is open, and is a silent no-op (nil error, no frame) while the gate is
// locked. The message appears in the log only once the server echoes it.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.gate != GateNone {
		s.mu.Unlock()
		return nil
	}
	tr := s.tr
	s.mu.Unlock()

	b, err := protocol.EncodeChatSend(text)
	if err != nil {
		return err
	}
	return tr.WriteFrame(b)
}

// ShareReport sends a shared-report reference as a chat message.
func (s *Session) ShareReport(title, fileURL string) error {
	body := envelope.EncodeSharedReport(title, fileURL)
	if title == "" || !envelope.IsSharedReport(body) {
		return ErrBadReport
	}
	return s.Send(body)
}

// ClearHistory asks the server to purge the conversation. The log empties
// only when the cleared acknowledgment arrives; if none does within the
// command timeout, an ErrCommandTimeout notice is surfaced so the caller can
// retry.
func (s *Session) ClearHistory() error {
	s.mu.Lock()
	if s.state != Open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	tr := s.tr
	s.mu.Unlock()

	b, err := protocol.EncodeCommand(protocol.CommandClearHistory)
	if err != nil {
		return err
	}
	if err := tr.WriteFrame(b); err != nil {
		return err
	}
	s.armClearTimer()
	return nil
}

// Close tears the session down and waits for the dispatch loop to exit.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed || s.state == Closing {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.state = Closing
	tr := s.tr
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	if tr != nil {
		_ = tr.Close()
	}
	<-s.done
	return nil
}

// run owns the transport: it reads frames until a drop, then redials with
// backoff, replacing the log from the fresh history replay.
func (s *Session) run() {
	defer func() {
		s.setState(Closed)
		close(s.done)
	}()

	for {
		err := s.readLoop()
		if s.ctx.Err() != nil {
			return
		}
		s.setState(Disconnected)
		s.logger.Warnw("transport dropped", "err", err)
		s.notify(Notice{Message: "connection lost, reconnecting", Err: err})

		if err := s.redial(); err != nil {
			s.logger.Errorw("reconnect abandoned", "err", err)
			s.notify(Notice{Message: "could not reconnect", Err: err})
			return
		}
	}
}

func (s *Session) readLoop() error {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	for {
		data, err := tr.ReadFrame()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Session) redial() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectInitial
	bo.MaxInterval = s.cfg.ReconnectMaxWait
	bo.MaxElapsedTime = s.cfg.ReconnectMaxElapsed

	return backoff.Retry(func() error {
		tr, err := s.cfg.Dialer.DialContext(s.ctx, s.endpoint())
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.tr = tr
		s.state = Open
		s.mu.Unlock()
		return nil
	}, backoff.WithContext(bo, s.ctx))
}

// dispatch handles one inbound frame. Malformed or unknown frames are
// dropped with a diagnostic; the channel stays open.
func (s *Session) dispatch(data []byte) {
	frame, err := protocol.DecodeServerFrame(data)
	if err != nil {
		s.logger.Warnw("dropping bad frame", "err", err)
		return
	}

	switch f := frame.(type) {
	case protocol.HistoryFrame:
		msgs := make([]models.Message, 0, len(f.Messages))
		for _, wm := range f.Messages {
			msgs = append(msgs, s.toModel(wm))
		}
		s.log.ReplaceAll(msgs)

	case protocol.MessageFrame:
		s.log.Append(s.toModel(f.WireMessage))
		if f.SenderID != s.selfID {
			// counterpart replied: their turn consumed, our gate opens
			s.setGate(GateNone)
		}

	case protocol.ClearedFrame:
		s.disarmClearTimer()
		s.log.Clear()

	case protocol.ErrorFrame:
		switch f.Code {
		case protocol.CodeLimitReached:
			s.setGate(GateLimitReached)
		case protocol.CodeBusy:
			s.setGate(GateBusy)
		case protocol.CodeOffline:
			s.setGate(GateOffline)
		}
		s.notify(Notice{Code: f.Code, Message: f.Message})

	case protocol.PresenceFrame:
		s.mu.Lock()
		s.counterpart = f.Status
		unlock := f.Status == models.Available &&
			(s.gate == GateBusy || s.gate == GateOffline)
		if unlock {
			s.gate = GateNone
		}
		s.mu.Unlock()
	}
}

func (s *Session) toModel(wm protocol.WireMessage) models.Message {
	kind := models.KindPlain
	if envelope.IsSharedReport(wm.Message) {
		kind = models.KindSharedReport
	}
	return models.Message{
		ConversationID: s.conversationID,
		SenderID:       wm.SenderID,
		Body:           wm.Message,
		Kind:           kind,
		CreatedAt:      wm.Timestamp,
	}
}

func (s *Session) setState(st ReadyState) {
	s.mu.Lock()
	if s.state != Closing || st == Closed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) setGate(g GateReason) {
	s.mu.Lock()
	s.gate = g
	s.mu.Unlock()
}

func (s *Session) armClearTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.cfg.CommandTimeout, func() {
		s.notify(Notice{Message: "clear history was not acknowledged", Err: ErrCommandTimeout})
	})
}

func (s *Session) disarmClearTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.logger.Debugw("notice dropped, consumer behind", "message", n.Message)
	}
}

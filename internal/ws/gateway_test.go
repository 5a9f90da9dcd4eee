package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KeertanaGupta/mediprior-V0/internal/envelope"
	"github.com/KeertanaGupta/mediprior-V0/internal/events"
	"github.com/KeertanaGupta/mediprior-V0/internal/hub"
	"github.com/KeertanaGupta/mediprior-V0/internal/models"
	"github.com/KeertanaGupta/mediprior-V0/internal/presence"
	"github.com/KeertanaGupta/mediprior-V0/internal/protocol"
	"github.com/KeertanaGupta/mediprior-V0/internal/store"
)

const (
	patientID = "pat-1"
	doctorID  = "doc-1"
	convID    = "conv-1"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) Close() error { return nil }

func (r *eventRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	gw       *Gateway
	store    *store.MemoryStore
	presence *presence.MemoryStore
	events   *eventRecorder
}

func newFixture(t *testing.T, turnLimit int) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	st.PutConversation(models.Conversation{
		ID:        convID,
		PatientID: patientID,
		DoctorID:  doctorID,
	})
	pr := presence.NewMemoryStore()
	rec := &eventRecorder{}
	h := hub.New(nil, "", zap.NewNop().Sugar())
	t.Cleanup(h.Shutdown)
	return &fixture{
		gw:       NewGateway(st, pr, h, rec, turnLimit, zap.NewNop().Sugar()),
		store:    st,
		presence: pr,
		events:   rec,
	}
}

func (f *fixture) attach(t *testing.T, userID string) (*hub.Subscriber, *models.Conversation) {
	t.Helper()
	sub, conv, err := f.gw.Attach(context.Background(), convID, userID)
	require.NoError(t, err)
	t.Cleanup(func() { f.gw.Detach(convID, sub) })
	return sub, conv
}

func nextFrame(t *testing.T, sub *hub.Subscriber) protocol.ServerFrame {
	t.Helper()
	select {
	case b := <-sub.Frames():
		f, err := protocol.DecodeServerFrame(b)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame within deadline")
		return nil
	}
}

func noFrame(t *testing.T, sub *hub.Subscriber) {
	t.Helper()
	select {
	case b := <-sub.Frames():
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func send(f *fixture, t *testing.T, conv *models.Conversation, senderID string, sub *hub.Subscriber, body string) {
	t.Helper()
	frame, err := protocol.EncodeChatSend(body)
	require.NoError(t, err)
	f.gw.HandleFrame(context.Background(), conv, senderID, sub, frame)
}

func TestAttachReplaysHistoryInOrder(t *testing.T) {
	f := newFixture(t, 3)
	for _, body := range []string{"first", "second"} {
		_, err := f.store.AppendMessage(context.Background(), &models.Message{
			ConversationID: convID, SenderID: patientID, Body: body, Kind: models.KindPlain,
		})
		require.NoError(t, err)
	}

	sub, _ := f.attach(t, doctorID)
	h, ok := nextFrame(t, sub).(protocol.HistoryFrame)
	require.True(t, ok, "first frame must be the history replay")
	require.Len(t, h.Messages, 2)
	assert.Equal(t, "first", h.Messages[0].Message)
	assert.Equal(t, "second", h.Messages[1].Message)
	assert.True(t, h.Messages[1].Timestamp.After(h.Messages[0].Timestamp))
}

func TestAttachRejectsOutsiders(t *testing.T) {
	f := newFixture(t, 3)
	_, _, err := f.gw.Attach(context.Background(), convID, "intruder")
	assert.Error(t, err)

	_, _, err = f.gw.Attach(context.Background(), "no-such-conv", patientID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendFansOutToBothParticipants(t *testing.T) {
	f := newFixture(t, 3)
	patSub, conv := f.attach(t, patientID)
	docSub, _ := f.attach(t, doctorID)
	nextFrame(t, patSub) // drain history
	nextFrame(t, docSub)

	send(f, t, conv, patientID, patSub, "hello doctor")

	for _, sub := range []*hub.Subscriber{patSub, docSub} {
		m, ok := nextFrame(t, sub).(protocol.MessageFrame)
		require.True(t, ok)
		assert.Equal(t, patientID, m.SenderID)
		assert.Equal(t, "hello doctor", m.Message)
		assert.False(t, m.Timestamp.IsZero())
	}

	history, err := f.store.History(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.KindPlain, history[0].Kind)
}

func TestSharedReportBodyIsClassified(t *testing.T) {
	f := newFixture(t, 3)
	patSub, conv := f.attach(t, patientID)
	nextFrame(t, patSub)

	send(f, t, conv, patientID, patSub, envelope.EncodeSharedReport("Blood Test", "http://x/f.pdf"))
	nextFrame(t, patSub)

	history, err := f.store.History(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.KindSharedReport, history[0].Kind)
}

func TestTurnLimitLocksSenderOnly(t *testing.T) {
	f := newFixture(t, 1)
	patSub, conv := f.attach(t, patientID)
	docSub, _ := f.attach(t, doctorID)
	nextFrame(t, patSub)
	nextFrame(t, docSub)

	send(f, t, conv, patientID, patSub, "one")
	nextFrame(t, patSub)
	nextFrame(t, docSub)

	// second consecutive message exceeds the turn budget
	send(f, t, conv, patientID, patSub, "two")
	e, ok := nextFrame(t, patSub).(protocol.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeLimitReached, e.Code)
	noFrame(t, docSub)

	history, err := f.store.History(context.Background(), convID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// the doctor's reply opens the patient's turn again
	send(f, t, conv, doctorID, docSub, "reply")
	nextFrame(t, patSub)
	nextFrame(t, docSub)
	send(f, t, conv, patientID, patSub, "three")
	m, ok := nextFrame(t, patSub).(protocol.MessageFrame)
	require.True(t, ok)
	assert.Equal(t, "three", m.Message)
}

func TestBusyDoctorBlocksPatientSends(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.presence.SetStatus(context.Background(), doctorID, models.Busy))

	patSub, conv := f.attach(t, patientID)
	docSub, _ := f.attach(t, doctorID)
	nextFrame(t, patSub)
	nextFrame(t, docSub)

	send(f, t, conv, patientID, patSub, "are you there")
	e, ok := nextFrame(t, patSub).(protocol.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeBusy, e.Code)
	noFrame(t, docSub)

	history, err := f.store.History(context.Background(), convID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// the doctor can still reach the patient while busy
	send(f, t, conv, doctorID, docSub, "one moment")
	m, ok := nextFrame(t, patSub).(protocol.MessageFrame)
	require.True(t, ok)
	assert.Equal(t, doctorID, m.SenderID)
}

func TestOfflineDoctorReportsOffline(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.presence.SetStatus(context.Background(), doctorID, models.Offline))

	patSub, conv := f.attach(t, patientID)
	nextFrame(t, patSub)

	send(f, t, conv, patientID, patSub, "hello?")
	e, ok := nextFrame(t, patSub).(protocol.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeOffline, e.Code)
}

func TestClearHistoryCommand(t *testing.T) {
	f := newFixture(t, 1)
	patSub, conv := f.attach(t, patientID)
	docSub, _ := f.attach(t, doctorID)
	nextFrame(t, patSub)
	nextFrame(t, docSub)

	send(f, t, conv, patientID, patSub, "to be purged")
	nextFrame(t, patSub)
	nextFrame(t, docSub)

	cmd, err := protocol.EncodeCommand(protocol.CommandClearHistory)
	require.NoError(t, err)
	f.gw.HandleFrame(context.Background(), conv, doctorID, docSub, cmd)

	assert.IsType(t, protocol.ClearedFrame{}, nextFrame(t, patSub))
	assert.IsType(t, protocol.ClearedFrame{}, nextFrame(t, docSub))

	history, err := f.store.History(context.Background(), convID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// clearing also resets the turn state: the patient may send again
	send(f, t, conv, patientID, patSub, "fresh start")
	m, ok := nextFrame(t, patSub).(protocol.MessageFrame)
	require.True(t, ok)
	assert.Equal(t, "fresh start", m.Message)
}

func TestUnknownCommandRejected(t *testing.T) {
	f := newFixture(t, 3)
	patSub, conv := f.attach(t, patientID)
	nextFrame(t, patSub)

	cmd, err := protocol.EncodeCommand("drop_tables")
	require.NoError(t, err)
	f.gw.HandleFrame(context.Background(), conv, patientID, patSub, cmd)

	e, ok := nextFrame(t, patSub).(protocol.ErrorFrame)
	require.True(t, ok)
	assert.NotEmpty(t, e.Message)
}

func TestMalformedClientFrameDropped(t *testing.T) {
	f := newFixture(t, 3)
	patSub, conv := f.attach(t, patientID)
	nextFrame(t, patSub)

	f.gw.HandleFrame(context.Background(), conv, patientID, patSub, []byte(`{"message":"x","command":"y"}`))
	f.gw.HandleFrame(context.Background(), conv, patientID, patSub, []byte(`garbage`))
	noFrame(t, patSub)
}

func TestSetStatusBroadcastsPresence(t *testing.T) {
	f := newFixture(t, 3)
	patSub, _ := f.attach(t, patientID)
	nextFrame(t, patSub)

	require.NoError(t, f.gw.SetStatus(context.Background(), doctorID, models.Busy))

	p, ok := nextFrame(t, patSub).(protocol.PresenceFrame)
	require.True(t, ok)
	assert.Equal(t, doctorID, p.UserID)
	assert.Equal(t, models.Busy, p.Status)

	st, err := f.presence.Status(context.Background(), doctorID)
	require.NoError(t, err)
	assert.Equal(t, models.Busy, st)
}

func TestAuditEventsPublished(t *testing.T) {
	f := newFixture(t, 3)
	patSub, conv := f.attach(t, patientID)
	nextFrame(t, patSub)

	send(f, t, conv, patientID, patSub, "hi")
	cmd, err := protocol.EncodeCommand(protocol.CommandClearHistory)
	require.NoError(t, err)
	f.gw.HandleFrame(context.Background(), conv, patientID, patSub, cmd)

	require.Eventually(t, func() bool {
		kinds := f.events.kinds()
		return contains(kinds, events.KindMessageDelivered) && contains(kinds, events.KindHistoryCleared)
	}, time.Second, 5*time.Millisecond)
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

// ABOUTME: Tests for the answer pipeline and query extraction
// ABOUTME: Covers success, provider errors, transport errors, and typing cleanup

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/sonar-matrix/internal/openrouter"
)

// sentMessage records one SendMessageEvent call.
type sentMessage struct {
	roomID  id.RoomID
	content any
}

// mockRoomClient records Matrix API calls in order.
type mockRoomClient struct {
	mu      sync.Mutex
	calls   []string
	sent    []sentMessage
	members map[id.RoomID]int
	events  map[id.EventID]*event.Event
	sendErr error
}

func (m *mockRoomClient) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockRoomClient) MarkRead(_ context.Context, _ id.RoomID, _ id.EventID) error {
	m.record("mark_read")
	return nil
}

func (m *mockRoomClient) UserTyping(_ context.Context, _ id.RoomID, typing bool, _ time.Duration) (*mautrix.RespTyping, error) {
	if typing {
		m.record("typing_on")
	} else {
		m.record("typing_off")
	}
	return &mautrix.RespTyping{}, nil
}

func (m *mockRoomClient) SendMessageEvent(_ context.Context, roomID id.RoomID, _ event.Type, contentJSON any, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	m.record("send")
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{roomID: roomID, content: contentJSON})
	return &mautrix.RespSendEvent{EventID: id.EventID("$sent")}, nil
}

func (m *mockRoomClient) JoinedMembers(_ context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error) {
	m.record("joined_members")
	resp := &mautrix.RespJoinedMembers{Joined: make(map[id.UserID]mautrix.JoinedMember)}
	for i := 0; i < m.members[roomID]; i++ {
		resp.Joined[id.UserID(string(rune('a'+i))+":example.org")] = mautrix.JoinedMember{}
	}
	return resp, nil
}

func (m *mockRoomClient) GetEvent(_ context.Context, _ id.RoomID, eventID id.EventID) (*event.Event, error) {
	m.record("get_event")
	evt, ok := m.events[eventID]
	if !ok {
		return nil, errors.New("event not found")
	}
	return evt, nil
}

func (m *mockRoomClient) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

// mockCompleter returns a canned answer or error and records the query.
type mockCompleter struct {
	answer string
	err    error
	query  string
}

func (m *mockCompleter) Complete(_ context.Context, query string) (string, error) {
	m.query = query
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

// newTestBot builds a Bot with mocked room client and completer.
func newTestBot(t *testing.T, allowed ...string) (*Bot, *mockRoomClient, *mockCompleter) {
	t.Helper()
	cfg := testConfig(t, allowed...)

	b, err := New(cfg, nil, discardLogger())
	require.NoError(t, err)
	t.Cleanup(b.seen.Close)

	rooms := &mockRoomClient{members: map[id.RoomID]int{testRoom: 5}}
	comp := &mockCompleter{}
	b.rooms = rooms
	b.completer = comp
	return b, rooms, comp
}

func TestBot_Answer_EndToEnd(t *testing.T) {
	b, rooms, comp := newTestBot(t)
	comp.answer = "4"

	evt := textEvent("@alice:example.org", "fxivity what is 2+2?")
	require.True(t, b.gate.ShouldRespond(context.Background(), evt))

	b.answer(context.Background(), evt)

	assert.Equal(t, "what is 2+2?", comp.query)

	require.Len(t, rooms.sent, 1)
	assert.Equal(t, testRoom, rooms.sent[0].roomID)

	content, ok := rooms.sent[0].content.(*answerContent)
	require.True(t, ok, "answer should carry the continuation marker content type")
	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, "4", content.Body)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "4")
	assert.True(t, content.Continuation)
	require.NotNil(t, content.RelatesTo)
	require.NotNil(t, content.RelatesTo.InReplyTo)
	assert.Equal(t, evt.ID, content.RelatesTo.InReplyTo.EventID)

	assert.Equal(t, "typing_off", rooms.lastCall())
}

func TestBot_Answer_CommandQuery(t *testing.T) {
	b, rooms, comp := newTestBot(t)
	comp.answer = "Paris"

	evt := textEvent("@alice:example.org", "!sonar capital of France")
	require.True(t, b.gate.ShouldRespond(context.Background(), evt))

	b.answer(context.Background(), evt)

	assert.Equal(t, "capital of France", comp.query)
	require.Len(t, rooms.sent, 1)
}

func TestBot_Answer_ProviderStatusError(t *testing.T) {
	b, rooms, comp := newTestBot(t)
	comp.err = &openrouter.StatusError{Code: 500, Body: "server error"}

	evt := textEvent("@alice:example.org", "fxivity what is 2+2?")
	b.answer(context.Background(), evt)

	// The status line is the answer and flows through the marked reply path
	require.Len(t, rooms.sent, 1)
	content, ok := rooms.sent[0].content.(*answerContent)
	require.True(t, ok)
	assert.Equal(t, "Error: API returned status 500", content.Body)
	assert.True(t, content.Continuation)

	assert.Equal(t, "typing_off", rooms.lastCall())
}

func TestBot_Answer_TransportError(t *testing.T) {
	b, rooms, comp := newTestBot(t)
	comp.err = errors.New("connection refused")

	evt := textEvent("@alice:example.org", "fxivity what is 2+2?")
	b.answer(context.Background(), evt)

	// Transport failures become a plain unmarked notice
	require.Len(t, rooms.sent, 1)
	content, ok := rooms.sent[0].content.(*event.MessageEventContent)
	require.True(t, ok)
	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, "Something went wrong: connection refused", content.Body)
	assert.Empty(t, content.FormattedBody)

	// The composing indicator is cleared on the error path too
	assert.Equal(t, "typing_off", rooms.lastCall())
}

func TestBot_Answer_SendFailureStillClearsTyping(t *testing.T) {
	b, rooms, comp := newTestBot(t)
	comp.answer = "4"
	rooms.sendErr = errors.New("homeserver unreachable")

	evt := textEvent("@alice:example.org", "fxivity what is 2+2?")
	b.answer(context.Background(), evt)

	assert.Empty(t, rooms.sent)
	assert.Equal(t, "typing_off", rooms.lastCall())
}

func TestBot_ExtractQuery(t *testing.T) {
	b, _, _ := newTestBot(t)

	cases := []struct {
		body string
		want string
	}{
		{"!sonar capital of France", "capital of France"},
		{"fxivity: capital of France", "capital of France"},
		{"@fxivity, capital of France", "capital of France"},
		{"fxivity:hello", "hello"},
		{"!sonar", ""},
		{"fxivity", ""},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			assert.Equal(t, tc.want, b.extractQuery(tc.body))
		})
	}
}

func TestBot_GateUsesRoomClient_DirectMessage(t *testing.T) {
	b, rooms, _ := newTestBot(t)
	rooms.members[testRoom] = 2

	// The gate's member lookup goes through the bot's room client adapter
	evt := textEvent("@alice:example.org", "what is the capital of France?")
	assert.True(t, b.gate.ShouldRespond(context.Background(), evt))
	assert.Contains(t, rooms.calls, "joined_members")
}

func TestBot_GateUsesRoomClient_ReplyChain(t *testing.T) {
	b, rooms, _ := newTestBot(t)
	rooms.events = map[id.EventID]*event.Event{"$parent": markedParent(botUserID)}

	evt := replyEvent("@alice:example.org", "tell me more", "$parent")
	assert.True(t, b.gate.ShouldRespond(context.Background(), evt))
	assert.Contains(t, rooms.calls, "get_event")
}

func TestBot_Run_SkipsInitialSyncBacklog(t *testing.T) {
	b, _, _ := newTestBot(t)

	// The handler registered in Run drops the whole first sync of a fresh
	// token, so the bot never answers backlog.
	assert.False(t, b.client.DontProcessOldEvents(context.Background(), &mautrix.RespSync{}, ""))
	assert.True(t, b.client.DontProcessOldEvents(context.Background(), &mautrix.RespSync{}, "s72594_4483_1934"))
}

func TestBot_HandleMessageEvent_Dedupe(t *testing.T) {
	b, _, _ := newTestBot(t)

	evt := textEvent("@alice:example.org", "fxivity hello")
	assert.False(t, b.seen.CheckAndMark(evt.ID), "first delivery is new")
	assert.True(t, b.seen.CheckAndMark(evt.ID), "redelivery is a duplicate")
}

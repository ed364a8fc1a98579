// ABOUTME: Tests for the responder gate decision rules
// ABOUTME: Covers addressing, allow list, DM heuristic, and reply-chain continuation

package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/sonar-matrix/internal/config"
)

const (
	botUserID = id.UserID("@fxivity:example.org")
	testRoom  = id.RoomID("!room:example.org")
)

// testConfig builds a validated config with the given allow-list patterns.
func testConfig(t *testing.T, allowed ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Matrix.Homeserver = "https://matrix.example.org"
	cfg.Matrix.UserID = botUserID.String()
	cfg.Matrix.AccessToken = "syt_test"
	cfg.OpenRouter.APIKey = "sk-or-test"
	cfg.OpenRouter.Model = "perplexity/sonar-pro"
	cfg.Bot.Name = "fxivity"
	cfg.Bot.AllowedUsers = allowed
	cfg.Logging.Level = "info"
	require.NoError(t, cfg.Validate())
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockMemberCounter returns a fixed joined-member count per room.
type mockMemberCounter struct {
	counts map[id.RoomID]int
	err    error
}

func (m *mockMemberCounter) JoinedMemberCount(_ context.Context, roomID id.RoomID) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[roomID], nil
}

// mockEventFetcher serves parent events from a map.
type mockEventFetcher struct {
	events map[id.EventID]*event.Event
	err    error
}

func (m *mockEventFetcher) FetchEvent(_ context.Context, _ id.RoomID, eventID id.EventID) (*event.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.events[eventID], nil
}

// textEvent builds a plain-text message event.
func textEvent(sender id.UserID, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID("$inbound"),
		Sender: sender,
		RoomID: testRoom,
		Type:   event.EventMessage,
		Content: event.Content{
			Parsed: &event.MessageEventContent{
				MsgType: event.MsgText,
				Body:    body,
			},
		},
	}
}

// replyEvent builds a text event replying to parentID.
func replyEvent(sender id.UserID, body string, parentID id.EventID) *event.Event {
	evt := textEvent(sender, body)
	evt.Content.Parsed.(*event.MessageEventContent).RelatesTo = &event.RelatesTo{
		InReplyTo: &event.InReplyTo{EventID: parentID},
	}
	return evt
}

// markedParent builds a bot-authored answer event carrying the
// continuation marker.
func markedParent(sender id.UserID) *event.Event {
	return &event.Event{
		ID:     id.EventID("$parent"),
		Sender: sender,
		RoomID: testRoom,
		Type:   event.EventMessage,
		Content: event.Content{
			Raw: map[string]any{
				"msgtype":       "m.notice",
				"body":          "earlier answer",
				ContinuationKey: true,
			},
		},
	}
}

// newTestGate wires a gate with the given mocks; nil mocks default to a
// large group room and no fetchable events.
func newTestGate(t *testing.T, cfg *config.Config, members memberCounter, events eventFetcher) *Gate {
	t.Helper()
	if members == nil {
		members = &mockMemberCounter{counts: map[id.RoomID]int{testRoom: 5}}
	}
	if events == nil {
		events = &mockEventFetcher{}
	}
	return NewGate(cfg, botUserID, members, events, discardLogger())
}

func TestGate_ShouldRespond_SelfMessage(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	// Even a self-mention from the bot itself is never answered
	evt := textEvent(botUserID, "fxivity hello")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ForeignCommand(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	evt := textEvent("@alice:example.org", "!weather fxivity today")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_SonarCommand(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	evt := textEvent("@alice:example.org", "!sonar capital of France")
	assert.True(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_NonText(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	evt := textEvent("@alice:example.org", "fxivity hello")
	evt.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgEmote
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_DirectAddress(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	cases := []struct {
		body string
		want bool
	}{
		{"fxivity hello", true},
		{"@fxivity, hi", true},
		{"hi fxivity!", true},
		{"fxivityish hello", false},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			evt := textEvent("@alice:example.org", tc.body)
			assert.Equal(t, tc.want, gate.ShouldRespond(context.Background(), evt))
		})
	}
}

func TestGate_ShouldRespond_AllowList(t *testing.T) {
	gate := newTestGate(t, testConfig(t, "@alice:example\\.org"), nil, nil)

	allowed := textEvent("@alice:example.org", "fxivity hello")
	assert.True(t, gate.ShouldRespond(context.Background(), allowed))

	denied := textEvent("@bob:example.org", "fxivity hello")
	assert.False(t, gate.ShouldRespond(context.Background(), denied))
}

func TestGate_ShouldRespond_DirectMessage(t *testing.T) {
	members := &mockMemberCounter{counts: map[id.RoomID]int{testRoom: 2}}
	gate := newTestGate(t, testConfig(t), members, nil)

	// No mention needed in a two-member room
	evt := textEvent("@alice:example.org", "what is the capital of France?")
	assert.True(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_GroupRoomUnaddressed(t *testing.T) {
	gate := newTestGate(t, testConfig(t), nil, nil)

	evt := textEvent("@alice:example.org", "what is the capital of France?")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_MemberLookupFailure_FallsThrough(t *testing.T) {
	// A failed member lookup must not end the evaluation: the reply-chain
	// rule still runs and matches here.
	members := &mockMemberCounter{err: errors.New("federation timeout")}
	events := &mockEventFetcher{events: map[id.EventID]*event.Event{
		"$parent": markedParent(botUserID),
	}}
	gate := newTestGate(t, testConfig(t), members, events)

	evt := replyEvent("@alice:example.org", "tell me more", "$parent")
	assert.True(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ReplyToMarkedParent(t *testing.T) {
	events := &mockEventFetcher{events: map[id.EventID]*event.Event{
		"$parent": markedParent(botUserID),
	}}
	gate := newTestGate(t, testConfig(t), nil, events)

	evt := replyEvent("@alice:example.org", "and its population?", "$parent")
	assert.True(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ReplyToUnmarkedParent(t *testing.T) {
	parent := markedParent(botUserID)
	delete(parent.Content.Raw, ContinuationKey)
	events := &mockEventFetcher{events: map[id.EventID]*event.Event{"$parent": parent}}
	gate := newTestGate(t, testConfig(t), nil, events)

	// Bot-authored but unmarked: not a conversation continuation
	evt := replyEvent("@alice:example.org", "and its population?", "$parent")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ReplyToForeignParent(t *testing.T) {
	events := &mockEventFetcher{events: map[id.EventID]*event.Event{
		"$parent": markedParent("@mallory:example.org"),
	}}
	gate := newTestGate(t, testConfig(t), nil, events)

	// A marker forged onto someone else's event does not count
	evt := replyEvent("@alice:example.org", "and its population?", "$parent")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ParentFetchFailure(t *testing.T) {
	events := &mockEventFetcher{err: errors.New("event not found")}
	gate := newTestGate(t, testConfig(t), nil, events)

	evt := replyEvent("@alice:example.org", "and its population?", "$parent")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

func TestGate_ShouldRespond_ReplyChainRespectsAllowList(t *testing.T) {
	events := &mockEventFetcher{events: map[id.EventID]*event.Event{
		"$parent": markedParent(botUserID),
	}}
	gate := newTestGate(t, testConfig(t, "@alice:example\\.org"), nil, events)

	evt := replyEvent("@bob:example.org", "tell me more", "$parent")
	assert.False(t, gate.ShouldRespond(context.Background(), evt))
}

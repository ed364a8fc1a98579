// ABOUTME: Responder gate deciding whether an inbound message gets an answer
// ABOUTME: Checks addressing, direct messages, and reply-chain continuations

package bot

import (
	"context"
	"log/slog"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/sonar-matrix/internal/config"
)

// ContinuationKey is the custom content key attached to the bot's own
// outbound answers. A reply whose parent carries this key is treated as a
// conversation continuation. Only the outbound path ever sets it; the gate
// only reads it.
const ContinuationKey = "org.example.perplexity"

// memberCounter resolves how many users are joined to a room.
type memberCounter interface {
	JoinedMemberCount(ctx context.Context, roomID id.RoomID) (int, error)
}

// eventFetcher fetches (and, when encryption is active, decrypts) a single
// event by ID.
type eventFetcher interface {
	FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
}

// Gate decides whether the bot should answer an inbound message. It makes
// no writes; the lookups it performs through memberCounter and eventFetcher
// are read-only, and their failures degrade to "no match".
type Gate struct {
	cfg     *config.Config
	userID  id.UserID
	members memberCounter
	events  eventFetcher
	logger  *slog.Logger
}

// NewGate creates a Gate for the given bot identity.
func NewGate(cfg *config.Config, userID id.UserID, members memberCounter, events eventFetcher, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:     cfg,
		userID:  userID,
		members: members,
		events:  events,
		logger:  logger.With("component", "gate"),
	}
}

// ShouldRespond evaluates the gate rules in order; the first hit wins.
func (g *Gate) ShouldRespond(ctx context.Context, evt *event.Event) bool {
	// Rule 1: never answer ourselves, foreign commands, or non-text events.
	if evt.Sender == g.userID {
		return false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return false
	}
	if content.MsgType != event.MsgText {
		return false
	}
	body := content.Body
	if strings.HasPrefix(body, "!") && !SonarCommand.Matches(body) {
		return false
	}

	// Rule 2: direct address by name or by the !sonar command.
	if mentionsName(body, g.cfg.Bot.Name) || SonarCommand.Matches(body) {
		return g.cfg.Bot.UserAllowed(evt.Sender.String())
	}

	// Rule 3: two joined members means a direct message with the bot.
	// A failed lookup falls through to the reply-chain rule.
	count, err := g.members.JoinedMemberCount(ctx, evt.RoomID)
	if err != nil {
		g.logger.Warn("joined member lookup failed",
			"room", evt.RoomID.String(), "error", err)
	} else if count == 2 {
		return g.cfg.Bot.UserAllowed(evt.Sender.String())
	}

	// Rule 4: a reply to one of our own marked answers continues the
	// conversation.
	if parentID := content.RelatesTo.GetReplyTo(); parentID != "" {
		parent, err := g.events.FetchEvent(ctx, evt.RoomID, parentID)
		if err != nil {
			g.logger.Warn("parent event fetch failed",
				"room", evt.RoomID.String(), "event_id", parentID.String(), "error", err)
			return false
		}
		if parent != nil && parent.Sender == g.userID && hasContinuationMarker(parent) {
			return g.cfg.Bot.UserAllowed(evt.Sender.String())
		}
	}

	return false
}

// hasContinuationMarker reports whether the event content carries the
// continuation key. Presence is what counts; the marker is never forged by
// anything but our own outbound path.
func hasContinuationMarker(evt *event.Event) bool {
	if evt.Content.Raw == nil {
		return false
	}
	_, ok := evt.Content.Raw[ContinuationKey]
	return ok
}

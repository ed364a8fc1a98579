// ABOUTME: Matrix client lifecycle and answer pipeline for sonar-matrix
// ABOUTME: Routes gated messages to OpenRouter and posts marked notice replies

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/sonar-matrix/internal/config"
	"github.com/2389/sonar-matrix/internal/dedupe"
	"github.com/2389/sonar-matrix/internal/openrouter"
)

// typingTimeout is the duration the composing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// completer produces an answer for a query. Satisfied by
// *openrouter.Client; replaced by a mock in tests.
type completer interface {
	Complete(ctx context.Context, query string) (string, error)
}

// roomClient is the slice of the Matrix client the pipeline and the gate
// lookups use.
type roomClient interface {
	MarkRead(ctx context.Context, roomID id.RoomID, eventID id.EventID) error
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	JoinedMembers(ctx context.Context, roomID id.RoomID) (*mautrix.RespJoinedMembers, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
}

// Bot is the chat-room responder: it watches rooms for messages addressed
// to it and answers them through the completion API.
type Bot struct {
	cfg       *config.Config
	client    *mautrix.Client
	rooms     roomClient
	gate      *Gate
	completer completer
	seen      *dedupe.Cache
	logger    *slog.Logger

	// ctx is the parent context for answer goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bot. The syncStore, when non-nil, persists the sync token
// so a restart resumes instead of replaying history.
func New(cfg *config.Config, syncStore mautrix.SyncStore, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if cfg.Matrix.DeviceID != "" {
		client.DeviceID = id.DeviceID(cfg.Matrix.DeviceID)
	}
	if syncStore != nil {
		client.Store = syncStore
	}
	client.Log = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stdout
		w.TimeFormat = time.Kitchen
	})).With().Timestamp().Logger().Level(zerologLevel(cfg.Logging.Level))

	b := &Bot{
		cfg:       cfg,
		client:    client,
		rooms:     client,
		completer: openrouter.New(cfg.OpenRouter),
		seen:      dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		logger:    logger,
	}
	b.gate = NewGate(cfg, client.UserID, b, b, logger)
	return b, nil
}

// Client returns the underlying Matrix client for encryption setup.
func (b *Bot) Client() *mautrix.Client {
	return b.client
}

// Run starts the sync loop and blocks until the context is cancelled or
// sync fails fatally.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting bot",
		"homeserver", b.cfg.Matrix.Homeserver,
		"user_id", b.cfg.Matrix.UserID,
		"model", b.cfg.OpenRouter.Model,
	)

	// Store context for answer goroutines
	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	defer b.seen.Close()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	// Don't answer backlog delivered on the first sync of a fresh token.
	syncer.OnSync(b.client.DontProcessOldEvents)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	b.logger.Info("bot running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bot")
		b.cancel()
		return nil
	case err := <-syncErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("matrix sync failed: %w", err)
		}
		return nil
	}
}

// handleMessageEvent runs on the sync goroutine: dedupe, gate, then hand
// the event to an answer goroutine so one slow completion call never
// blocks other rooms.
func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	messagesSeen.Inc()

	if b.seen.CheckAndMark(evt.ID) {
		b.logger.Debug("ignoring redelivered event", "event_id", evt.ID.String())
		return
	}

	if !b.gate.ShouldRespond(ctx, evt) {
		return
	}

	content := evt.Content.AsMessage()
	b.logger.Info("answering message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String(),
		"content", truncate(content.Body, 50),
	)

	go b.answer(b.ctx, evt)
}

// answer is the pipeline for one gated message. The composing indicator is
// cleared via defer on every exit path.
func (b *Bot) answer(ctx context.Context, evt *event.Event) {
	b.markRead(evt.RoomID, evt.ID)
	b.setTyping(evt.RoomID, true)
	defer b.setTyping(evt.RoomID, false)

	query := b.extractQuery(evt.Content.AsMessage().Body)

	start := time.Now()
	answer, err := b.completer.Complete(ctx, query)
	completionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		providerErrors.Inc()
		var statusErr *openrouter.StatusError
		if !errors.As(err, &statusErr) {
			// Transport failure, timeout, malformed payload: generic reply
			// without marker or formatting.
			b.logger.Error("completion call failed",
				"room", evt.RoomID.String(), "error", err)
			b.sendErrorReply(evt, err)
			return
		}
		// Provider rejection: the status line becomes the answer and flows
		// through the normal render and marker path.
		b.logger.Error("openrouter api error",
			"room", evt.RoomID.String(),
			"status", statusErr.Code,
			"body", truncate(statusErr.Body, 200),
		)
		answer = fmt.Sprintf("Error: API returned status %d", statusErr.Code)
	}

	b.sendAnswer(evt, answer)
}

// extractQuery derives the completion prompt from the message body: strip
// the command token if present, otherwise strip every bot-name mention.
// An empty result flows through to the provider as-is.
func (b *Bot) extractQuery(body string) string {
	if SonarCommand.Matches(body) {
		return SonarCommand.Strip(body)
	}
	return stripMentions(body, b.cfg.Bot.Name)
}

// answerContent is the outbound notice content with the continuation
// marker attached as a top-level key. The JSON tag must stay in sync with
// ContinuationKey.
type answerContent struct {
	event.MessageEventContent
	Continuation bool `json:"org.example.perplexity,omitempty"`
}

// sendAnswer posts the rendered answer as a marked notice reply.
func (b *Bot) sendAnswer(evt *event.Event, answer string) {
	content := &answerContent{
		MessageEventContent: event.MessageEventContent{
			MsgType:       event.MsgNotice,
			Body:          answer,
			Format:        event.FormatHTML,
			FormattedBody: renderHTML(answer),
			RelatesTo: &event.RelatesTo{
				InReplyTo: &event.InReplyTo{EventID: evt.ID},
			},
		},
		Continuation: true,
	}
	b.sendReply(evt.RoomID, content)
}

// sendErrorReply posts a plain failure notice without the marker.
func (b *Bot) sendErrorReply(evt *event.Event, err error) {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    fmt.Sprintf("Something went wrong: %v", err),
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: evt.ID},
		},
	}
	b.sendReply(evt.RoomID, content)
}

// sendReply sends message content to a room with a send timeout.
func (b *Bot) sendReply(roomID id.RoomID, content any) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send reply", "room", roomID.String(), "error", err)
		return
	}
	repliesSent.Inc()
}

// markRead sends a read receipt for the triggering event, best-effort.
func (b *Bot) markRead(roomID id.RoomID, eventID id.EventID) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if err := b.rooms.MarkRead(ctx, roomID, eventID); err != nil {
		b.logger.Debug("failed to mark read",
			"room", roomID.String(), "event_id", eventID.String(), "error", err)
	}
}

// setTyping toggles the composing indicator, best-effort.
func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator",
			"room", roomID.String(), "error", err)
	}
}

// JoinedMemberCount implements memberCounter for the gate.
func (b *Bot) JoinedMemberCount(ctx context.Context, roomID id.RoomID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := b.rooms.JoinedMembers(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return len(resp.Joined), nil
}

// FetchEvent implements eventFetcher for the gate, decrypting fetched
// parents when encryption is active.
func (b *Bot) FetchEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	evt, err := b.rooms.GetEvent(ctx, roomID, eventID)
	if err != nil {
		return nil, err
	}
	if evt.Type == event.EventEncrypted && b.client.Crypto != nil {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			return nil, fmt.Errorf("parsing encrypted content: %w", err)
		}
		decrypted, err := b.client.Crypto.Decrypt(ctx, evt)
		if err != nil {
			return nil, fmt.Errorf("decrypting parent event: %w", err)
		}
		return decrypted, nil
	}
	return evt, nil
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// zerologLevel maps the configured log level to the mautrix client logger.
func zerologLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

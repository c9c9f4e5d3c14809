package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// Client is the Telegram surface the poll loop needs
type Client interface {
	GetUpdates(ctx context.Context, offset int64) ([]alerts.Update, error)
	SendLong(ctx context.Context, text string) error
}

var _ Client = (*alerts.TelegramClient)(nil)

const (
	minPollBackoff = 2 * time.Second
	maxPollBackoff = time.Minute
)

// Bot long-polls for updates and answers commands from the authorized chat
type Bot struct {
	client   Client
	commands *Commands
	auth     *Authorizer
	audit    *AuditLogger
	offset   int64
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

func New(client Client, commands *Commands, auth *Authorizer, audit *AuditLogger) *Bot {
	return &Bot{
		client:   client,
		commands: commands,
		auth:     auth,
		audit:    audit,
		sleep:    sleepCtx,
		log:      observ.Component("bot"),
	}
}

// Run polls until ctx is cancelled. Poll errors back off exponentially up to a minute.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info().Msg("bot polling started")
	backoff := minPollBackoff
	for {
		if err := ctx.Err(); err != nil {
			b.log.Info().Msg("bot polling stopped")
			return nil
		}
		n, err := b.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			observ.IncCounter("bot_poll_errors_total", nil)
			b.log.Warn().Err(err).Dur("backoff", backoff).Msg("getUpdates failed")
			if b.sleep(ctx, backoff) != nil {
				continue
			}
			backoff *= 2
			if backoff > maxPollBackoff {
				backoff = maxPollBackoff
			}
			continue
		}
		backoff = minPollBackoff
		if n > 0 {
			b.log.Debug().Int("updates", n).Int64("offset", b.offset).Msg("updates handled")
		}
	}
}

// PollOnce fetches one batch of updates and handles each. It returns how many
// updates were received.
func (b *Bot) PollOnce(ctx context.Context) (int, error) {
	updates, err := b.client.GetUpdates(ctx, b.offset)
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		b.handle(ctx, u)
	}
	return len(updates), nil
}

// Offset is the next update id to request
func (b *Bot) Offset() int64 { return b.offset }

func (b *Bot) handle(ctx context.Context, u alerts.Update) {
	msg := u.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !IsCommand(msg.Text) {
		if b.auth.Allowed(msg.Chat.ID) {
			b.reply(ctx, "", tipText)
		}
		return
	}
	cmd, args := Route(msg.Text)

	var userID int64
	var userName string
	if msg.From != nil {
		userID = msg.From.ID
		userName = msg.From.Username
		if userName == "" {
			userName = msg.From.FirstName
		}
	}
	if err := b.auth.Authorize(msg.Chat.ID, userID, userName, cmd); err != nil {
		b.log.Warn().Int64("chat_id", msg.Chat.ID).Str("command", cmd).Msg("ignoring command from unauthorized chat")
		return
	}

	entry := AuditEntry{
		ChatID:   msg.Chat.ID,
		UserID:   userID,
		UserName: userName,
		Command:  cmd,
		Args:     strings.Join(args, " "),
		Outcome:  "success",
	}
	reply, err := b.commands.Handle(ctx, msg.Text)
	if err != nil {
		b.log.Error().Err(err).Str("command", cmd).Msg("command failed")
		entry.Outcome = "error"
		entry.Details = map[string]any{"error": err.Error()}
		reply = "❌ Something went wrong handling /" + cmd + ". Try again later."
	}
	b.audit.Log(entry)
	b.reply(ctx, cmd, reply)
}

func (b *Bot) reply(ctx context.Context, cmd, text string) {
	if err := b.client.SendLong(ctx, text); err != nil {
		b.log.Error().Err(err).Str("command", cmd).Msg("failed to send reply")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package providers

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"alert-relay/internal/config"
	"alert-relay/internal/logging"
	"alert-relay/internal/models"
	"alert-relay/internal/utils"
)

// maxDetail keeps operator pings under the 4096 character message limit.
const maxDetail = 3500

// Telegram posts alert messages to a channel and pings the operator in a debug channel.
type Telegram struct {
	bot          *bot.Bot
	channel      any
	debugChannel any
	pingUser     string
	limiter      *rate.Limiter
	logger       *logging.Logger
}

// NewTelegram initializes the bot client. Extra options are passed to bot.New.
func NewTelegram(cfg config.Config, logger *logging.Logger, opts ...bot.Option) (*Telegram, error) {
	b, err := bot.New(cfg.Chat.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	limit := cfg.Chat.RateLimit
	if limit < 1 {
		limit = 1
	}
	return &Telegram{
		bot:          b,
		channel:      chatRef(cfg.Chat.ChannelID),
		debugChannel: chatRef(cfg.Chat.DebugChannelID),
		pingUser:     cfg.Chat.PingUser,
		limiter:      rate.NewLimiter(rate.Limit(float64(limit)), limit),
		logger:       logger.WithField("provider", "telegram"),
	}, nil
}

// Send posts a new alert message to the alert channel.
func (t *Telegram) Send(ctx context.Context, embed models.Embed) (models.MessageHandle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return models.MessageHandle{}, errors.Wrap(err, "telegram rate limit exceeded")
	}
	msg, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.channel,
		Text:      RenderHTML(embed),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return models.MessageHandle{}, errors.Wrapf(err, "failed to send Telegram message to %v", t.channel)
	}
	return models.MessageHandle{
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.ID),
	}, nil
}

// Edit replaces the content of a message posted by Send.
func (t *Telegram) Edit(ctx context.Context, handle models.MessageHandle, embed models.Embed) error {
	id, err := strconv.Atoi(handle.MessageID)
	if err != nil {
		return errors.Errorf("invalid message id %q", handle.MessageID)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "telegram rate limit exceeded")
	}
	_, err = t.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatRef(handle.ChannelID),
		MessageID: id,
		Text:      RenderHTML(embed),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to edit Telegram message %s", handle.MessageID)
	}
	return nil
}

// NotifyOperator posts detail to the debug channel, mentioning the operator when configured.
func (t *Telegram) NotifyOperator(ctx context.Context, detail string) error {
	if len(detail) > maxDetail {
		detail = detail[:maxDetail] + "..."
	}
	text := "<pre>" + html.EscapeString(detail) + "</pre>"
	if t.pingUser != "" {
		text = fmt.Sprintf(`<a href="tg://user?id=%s">operator</a>`, html.EscapeString(t.pingUser)) + "\n" + text
	}

	return utils.Retry(ctx, t.logger, 3, time.Second, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "telegram rate limit exceeded")
		}
		_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    t.debugChannel,
			Text:      text,
			ParseMode: tgmodels.ParseModeHTML,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to notify operator in %v", t.debugChannel)
		}
		return nil
	})
}

// SetPresence shows the relay status as the bot's short description.
func (t *Telegram) SetPresence(ctx context.Context, p models.Presence) error {
	return utils.Retry(ctx, t.logger, 2, time.Second, func() error {
		if err := t.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "telegram rate limit exceeded")
		}
		if _, err := t.bot.SetMyShortDescription(ctx, &bot.SetMyShortDescriptionParams{
			ShortDescription: p.Text(),
		}); err != nil {
			return errors.Wrap(err, "failed to set bot description")
		}
		return nil
	})
}

// RenderHTML formats an embed as a Telegram HTML message.
func RenderHTML(embed models.Embed) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b>", ColorMarker(embed.Color), html.EscapeString(embed.Title))
	for _, f := range embed.Fields {
		fmt.Fprintf(&sb, "\n<b>%s</b>: %s", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	return sb.String()
}

var markers = []struct {
	emoji   string
	r, g, b int
}{
	{"🟥", 221, 46, 68},
	{"🟧", 244, 144, 12},
	{"🟨", 253, 203, 88},
	{"🟩", 120, 177, 89},
	{"🟦", 85, 172, 238},
	{"🟪", 170, 142, 214},
	{"🟫", 193, 105, 79},
	{"⬛", 49, 55, 61},
	{"⬜", 230, 231, 232},
}

// ColorMarker returns the colored square closest to c. Telegram messages have
// no accent color, so the square stands in for it.
func ColorMarker(c models.Color) string {
	r, g, b := c.RGB()
	best, bestDist := "", -1
	for _, m := range markers {
		dr, dg, db := int(r)-m.r, int(g)-m.g, int(b)-m.b
		if d := dr*dr + dg*dg + db*db; bestDist < 0 || d < bestDist {
			best, bestDist = m.emoji, d
		}
	}
	return best
}

// chatRef turns a configured chat into a Bot API chat_id: numeric ids as int64,
// anything else (e.g. @channelname) as is.
func chatRef(s string) any {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	return s
}

// Package telegram is the send-only Telegram delivery channel.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"datealerts/internal/transport"
	logx "datealerts/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org, e.g. for a local Bot API server.
	APIURL  string
	Timeout time.Duration
	// Offline skips the getMe call on construction.
	Offline bool
}

// Channel sends plain text through the Bot API. It never polls for updates.
type Channel struct {
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Channel = (*Channel)(nil)

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.APIURL),
		Token:   strings.TrimSpace(cfg.Token),
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Channel{bot: b, log: log.With(logx.String("comp", "telegram"))}
	if b.Me != nil && b.Me.Username != "" {
		c.log.Info("telegram channel ready", logx.String("bot", b.Me.Username))
	}
	return c, nil
}

func (c *Channel) Name() string { return "telegram" }

// SendText splits long text and sends each chunk. The returned ref points
// at the first chunk.
func (c *Channel) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to.IsZero() {
		return transport.MessageRef{}, errors.New("telegram: chat id required")
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := c.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, wrapSendError(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// FloodWait is returned when Telegram asks the client to back off.
type FloodWait struct {
	Wait time.Duration
	err  error
}

func (e *FloodWait) Error() string             { return "telegram flood wait " + e.Wait.String() + ": " + e.err.Error() }
func (e *FloodWait) Unwrap() error             { return e.err }
func (e *FloodWait) RetryAfter() time.Duration { return e.Wait }

func wrapSendError(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return &FloodWait{Wait: time.Duration(fe.RetryAfter) * time.Second, err: err}
	}
	return err
}

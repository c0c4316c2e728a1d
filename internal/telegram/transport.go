// Package telegram connects the bot to the Telegram Bot API via long polling.
package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/bot"
)

// api is the subset of *telego.Bot the transport uses.
type api interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

type Transport struct {
	api    api
	logger *zap.Logger
}

var _ bot.Source = (*Transport)(nil)

func New(token string, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := telego.NewBot(token, telego.WithLogger(logger.Sugar()))
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Transport{api: b, logger: logger}, nil
}

// Run long-polls for updates and hands text messages to submit until ctx
// is cancelled.
func (t *Transport) Run(ctx context.Context, submit func(ctx context.Context, ev bot.Event) error) error {
	updates, err := t.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	t.logger.Info("telegram long polling started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := eventFrom(u)
			if !ok {
				continue
			}
			if err := submit(ctx, ev); err != nil {
				t.logger.Warn("drop update", zap.Int("update_id", u.UpdateID), zap.Error(err))
			}
		}
	}
}

func (t *Transport) Send(ctx context.Context, ev bot.Event, r bot.Reply) error {
	if _, err := t.api.SendMessage(ctx, message(ev.ChatID, r)); err != nil {
		return fmt.Errorf("send message to %d: %w", ev.ChatID, err)
	}
	return nil
}

func eventFrom(u telego.Update) (bot.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Text == "" {
		return bot.Event{}, false
	}
	return bot.NewEvent(m.From.ID, m.Chat.ID, m.From.Username, m.Text), true
}

func message(chatID int64, r bot.Reply) *telego.SendMessageParams {
	msg := tu.Message(tu.ID(chatID), r.Text)
	if len(r.Actions) == 0 {
		return msg
	}
	return msg.WithReplyMarkup(keyboard(r.Actions))
}

// keyboard lays actions out two per row.
func keyboard(actions []string) *telego.ReplyKeyboardMarkup {
	var rows [][]telego.KeyboardButton
	for i := 0; i < len(actions); i += 2 {
		row := tu.KeyboardRow(tu.KeyboardButton(actions[i]))
		if i+1 < len(actions) {
			row = append(row, tu.KeyboardButton(actions[i+1]))
		}
		rows = append(rows, row)
	}
	return tu.Keyboard(rows...).WithResizeKeyboard()
}

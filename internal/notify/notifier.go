package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusFunc renders the reply to the /status command.
type StatusFunc func() string

// Telegram is a passive notifier that also answers a single /status command.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	status StatusFunc
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{bot: b, chatID: chatID, log: log}, nil
}

// SetStatus installs the /status renderer. Must be called before Start.
func (t *Telegram) SetStatus(fn StatusFunc) { t.status = fn }

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Start long-polls for commands from the configured chat.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				switch upd.Message.Command() {
				case "status":
					t.handleStatus()
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) handleStatus() {
	if t.status == nil {
		t.Send("status is not available")
		return
	}
	t.Send(t.status())
}

func (t *Telegram) Stop() {
	if t != nil && t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

// Log writes notifications to the logger when Telegram is not configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (s *Log) Send(msg string)                  { s.log.Info("notify", zap.String("msg", msg)) }
func (s *Log) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }

package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"

	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const (
	errorResponse = "抱歉，助手暂时无法回答，请稍后再试。"
	helpText      = "可用命令：\n" +
		"/help - 显示帮助\n" +
		"/ask <问题> - 向助手提问，也可以直接回复助手的消息\n" +
		"画一只猫 - 让助手画一幅画"
)

// sender is the part of the Telegram API the bot writes to.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TgBot struct {
	api         *tgbotapi.BotAPI
	out         sender
	chat        core.ChatService
	botUsername string
	log         *slog.Logger
}

func NewTgBot(apiKey, username string, chat core.ChatService, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(apiKey)
	if err != nil {
		return nil, err
	}
	if username == "" {
		username = api.Self.UserName
	}
	return &TgBot{
		api:         api,
		out:         api,
		chat:        chat,
		botUsername: username,
		log:         log.With(sl.Module("telegram"), slog.String("bot", username)),
	}, nil
}

// Start reads updates until ctx is done.
func (t *TgBot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates, err := t.api.GetUpdatesChan(u)
	if err != nil {
		return err
	}
	t.log.Info("telegram bot started")

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			t.log.Info("telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if question, ok := t.question(update.Message); ok {
				go t.SendResponse(ctx, update.Message.Chat.ID, question)
			}
		}
	}
}

// question decides whether a message is addressed to the bot. Help requests
// are answered in place.
func (t *TgBot) question(incoming *tgbotapi.Message) (string, bool) {
	chat := incoming.Chat
	if incoming.IsCommand() {
		switch incoming.Command() {
		case "help", "start":
			t.plainResponse(chat.ID, helpText)
			return "", false
		case "ask":
			return strings.TrimSpace(incoming.CommandArguments()), true
		}
		return "", false
	}
	if !chat.IsPrivate() && !t.isMentioned(incoming.Text) && !t.isReplyToBot(incoming) {
		return "", false
	}

	question := incoming.Text
	if t.botUsername != "" {
		question = strings.ReplaceAll(question, "@"+t.botUsername, "")
	}
	question = strings.TrimSpace(question)

	user := ""
	if incoming.From != nil {
		user = incoming.From.UserName
	}
	t.log.With(
		slog.String("user", user),
		sl.Text("text", question),
	).Debug("incoming message")
	return question, true
}

// SendResponse keeps the typing indicator alive while the answer is built.
func (t *TgBot) SendResponse(ctx context.Context, chatID int64, question string) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		t.sendChatAction(chatID, tgbotapi.ChatTyping)
		for {
			select {
			case <-ticker.C:
				t.sendChatAction(chatID, tgbotapi.ChatTyping)
			case <-done:
				return
			}
		}
	}()

	answer, err := t.chat.Ask(ctx, question)
	close(done)

	if err != nil {
		t.log.Error("getting response", sl.Err(err))
		t.plainResponse(chatID, replyForError(err))
		return
	}

	t.plainResponse(chatID, answer.Answer)
	if answer.ImageURL != "" {
		t.photoResponse(chatID, answer.ImageURL)
	}
}

func replyForError(err error) string {
	var imageErr *core.ImageError
	switch {
	case errors.Is(err, core.ErrEmptyQuestion):
		return core.ErrEmptyQuestion.Error()
	case errors.As(err, &imageErr):
		return imageErr.Message
	default:
		return errorResponse
	}
}

func (t *TgBot) sendChatAction(chatID int64, action string) {
	if _, err := t.out.Send(tgbotapi.NewChatAction(chatID, action)); err != nil {
		t.log.Debug("sending chat action", sl.Err(err))
	}
}

func (t *TgBot) plainResponse(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := t.out.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.log.Error("sending message", sl.Err(err))
	}
}

func (t *TgBot) photoResponse(chatID int64, imageURL string) {
	if _, err := t.out.Send(tgbotapi.NewPhotoShare(chatID, imageURL)); err != nil {
		t.log.Error("sending photo", sl.Err(err))
		t.plainResponse(chatID, imageURL)
	}
}

// detect if we are mentioned in the message
func (t *TgBot) isMentioned(text string) bool {
	if t.botUsername != "" {
		return strings.Contains(text, "@"+t.botUsername)
	}
	return false
}

// detect if message is a reply to a message from the bot
func (t *TgBot) isReplyToBot(message *tgbotapi.Message) bool {
	if message.ReplyToMessage != nil && message.ReplyToMessage.From != nil {
		return message.ReplyToMessage.From.UserName == t.botUsername
	}
	return false
}

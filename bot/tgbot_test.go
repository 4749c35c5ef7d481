package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-leaf-W/QUT-Assistant/core"
)

type recordingSender struct {
	mu     sync.Mutex
	texts  []string
	photos []string
}

func (r *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		r.texts = append(r.texts, m.Text)
	case tgbotapi.PhotoConfig:
		r.photos = append(r.photos, m.FileID)
	}
	return tgbotapi.Message{}, nil
}

type fakeChat struct {
	answer *core.Answer
	err    error
	asked  []string
}

func (f *fakeChat) Ask(_ context.Context, question string) (*core.Answer, error) {
	f.asked = append(f.asked, question)
	return f.answer, f.err
}

func (f *fakeChat) GenerateImage(string) core.ImageResult { return core.ImageResult{} }

func newTestBot(chat core.ChatService) (*TgBot, *recordingSender) {
	out := &recordingSender{}
	return &TgBot{
		out:         out,
		chat:        chat,
		botUsername: "qut_bot",
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, out
}

func command(text string, length int, chatType string) *tgbotapi.Message {
	entities := []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: 7, Type: chatType}, Entities: &entities}
}

func TestQuestionAddressing(t *testing.T) {
	b, out := newTestBot(&fakeChat{})

	q, ok := b.question(&tgbotapi.Message{Text: " 图书馆几点开 ", Chat: &tgbotapi.Chat{ID: 1, Type: "private"}})
	assert.True(t, ok)
	assert.Equal(t, "图书馆几点开", q)

	_, ok = b.question(&tgbotapi.Message{Text: "随便聊聊", Chat: &tgbotapi.Chat{ID: 2, Type: "group"}})
	assert.False(t, ok)

	q, ok = b.question(&tgbotapi.Message{Text: "@qut_bot 食堂在哪", Chat: &tgbotapi.Chat{ID: 2, Type: "group"}})
	assert.True(t, ok)
	assert.Equal(t, "食堂在哪", q)

	reply := &tgbotapi.Message{From: &tgbotapi.User{UserName: "qut_bot"}}
	_, ok = b.question(&tgbotapi.Message{Text: "谢谢", Chat: &tgbotapi.Chat{ID: 2, Type: "group"}, ReplyToMessage: reply})
	assert.True(t, ok)

	q, ok = b.question(command("/ask 校历", 4, "group"))
	assert.True(t, ok)
	assert.Equal(t, "校历", q)

	_, ok = b.question(command("/help", 5, "group"))
	assert.False(t, ok)
	assert.Equal(t, []string{helpText}, out.texts)
}

func TestSendResponseWithImage(t *testing.T) {
	chat := &fakeChat{answer: &core.Answer{Answer: "我已经按照你的要求画了猫，希望你喜欢！", ImageURL: "https://image.pollinations.ai/prompt/%E7%8C%AB"}}
	b, out := newTestBot(chat)

	b.SendResponse(context.Background(), 7, "画一只猫")

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, []string{"画一只猫"}, chat.asked)
	assert.Equal(t, []string{chat.answer.Answer}, out.texts)
	assert.Equal(t, []string{chat.answer.ImageURL}, out.photos)
}

func TestSendResponseErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{core.ErrEmptyQuestion, "问题不能为空"},
		{&core.ImageError{Message: "图像生成失败: prompt is empty"}, "图像生成失败: prompt is empty"},
		{errors.New("boom"), errorResponse},
	}
	for _, tc := range cases {
		b, out := newTestBot(&fakeChat{err: tc.err})
		b.SendResponse(context.Background(), 7, "q")
		out.mu.Lock()
		require.Len(t, out.texts, 1)
		assert.Equal(t, tc.want, out.texts[0])
		assert.Empty(t, out.photos)
		out.mu.Unlock()
	}
}

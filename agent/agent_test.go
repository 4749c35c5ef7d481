package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-leaf-W/QUT-Assistant/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetriever struct {
	docs    []core.Document
	err     error
	mu      sync.Mutex
	queries []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string) ([]core.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.docs, f.err
}

// llmServer replays one scripted SSE completion per request and records the
// requests it received.
type llmServer struct {
	t        *testing.T
	rounds   [][]string
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
}

func (s *llmServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if idx >= len(s.rounds) {
		http.Error(w, `{"error":{"message":"unexpected round"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	for _, chunk := range s.rounds[idx] {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func textChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

func toolChunk(id, name, args string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":%q,"type":"function","function":{"name":%q,"arguments":%q}}]}}]}`, id, name, args)
}

func newTestAgent(t *testing.T, srv *llmServer, tools *Catalog, retriever Retriever) *Agent {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	opts := Options{
		Model:        "deepseek-v3",
		BaseURL:      ts.URL,
		ApiKey:       "sk-test",
		TopP:         0.8,
		Timeout:      5 * time.Second,
		SystemPrompt: "你是助手",
		Tools:        tools,
	}
	if retriever != nil {
		opts.Retriever = retriever
	}
	a, err := New(opts, testLogger())
	require.NoError(t, err)
	return a
}

func collect(ch <-chan Frame) []Frame {
	var frames []Frame
	for f := range ch {
		frames = append(frames, f)
	}
	return frames
}

func TestRunStreamsPlainAnswer(t *testing.T) {
	srv := &llmServer{t: t, rounds: [][]string{{textChunk("你好"), textChunk("，同学")}}}
	retriever := &fakeRetriever{docs: []core.Document{{Content: "青岛理工大学位于青岛", Metadata: map[string]any{"source": "intro.txt"}}}}
	a := newTestAgent(t, srv, nil, retriever)

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "学校在哪"}}))
	require.Len(t, frames, 2)
	assert.Equal(t, "你好", frames[0].Messages[0].Content)
	last := frames[len(frames)-1]
	require.NoError(t, last.Err)
	assert.Equal(t, "你好，同学", last.Messages[0].Content)
	assert.Equal(t, RoleAssistant, last.Messages[0].Role)

	require.Len(t, srv.requests, 1)
	req := srv.requests[0]
	assert.Equal(t, "deepseek-v3", req.Model)
	assert.True(t, req.Stream)
	assert.InDelta(t, 0.8, req.TopP, 1e-6)
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "# 知识库")
	assert.Contains(t, req.Messages[0].Content, "青岛理工大学位于青岛")
	assert.Contains(t, req.Messages[0].Content, "intro.txt")
	assert.Equal(t, "学校在哪", req.Messages[1].Content)
	assert.Equal(t, []string{"学校在哪"}, retriever.queries)
}

func TestRunDispatchesToolCalls(t *testing.T) {
	srv := &llmServer{t: t, rounds: [][]string{
		{toolChunk("call_1", "my_image_gen", `{"prompt":`), toolChunk("", "", ` "猫"}`)},
		{textChunk("这是你要的猫")},
	}}
	tool := promptTool("my_image_gen")
	tools, err := NewCatalog(tool)
	require.NoError(t, err)
	a := newTestAgent(t, srv, tools, nil)

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "画一只猫"}}))
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.NoError(t, last.Err)

	msg := last.Messages[0]
	assert.Equal(t, "这是你要的猫", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "my_image_gen", msg.ToolCalls[0].Name)
	assert.Equal(t, `{"prompt": "猫"}`, msg.ToolCalls[0].Parameters)
	assert.Equal(t, tool.reply, msg.ToolCalls[0].Response)
	assert.Equal(t, []string{`{"prompt": "猫"}`}, tool.calls)

	require.Len(t, srv.requests, 2)
	assert.Len(t, srv.requests[0].Tools, 1)
	second := srv.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, openai.ChatMessageRoleAssistant, second[2].Role)
	require.Len(t, second[2].ToolCalls, 1)
	assert.Equal(t, "call_1", second[2].ToolCalls[0].ID)
	assert.Equal(t, openai.ChatMessageRoleTool, second[3].Role)
	assert.Equal(t, "call_1", second[3].ToolCallID)
	assert.Equal(t, tool.reply, second[3].Content)
}

func TestRunRejectsInvalidToolArguments(t *testing.T) {
	srv := &llmServer{t: t, rounds: [][]string{
		{toolChunk("call_1", "my_image_gen", `{}`)},
		{textChunk("抱歉")},
	}}
	tool := promptTool("my_image_gen")
	tools, err := NewCatalog(tool)
	require.NoError(t, err)
	a := newTestAgent(t, srv, tools, nil)

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "画"}}))
	last := frames[len(frames)-1]
	require.NoError(t, last.Err)
	require.Len(t, last.Messages[0].ToolCalls, 1)
	assert.Contains(t, last.Messages[0].ToolCalls[0].Response, `"error"`)
	assert.Empty(t, tool.calls)
}

func TestRunUnknownTool(t *testing.T) {
	srv := &llmServer{t: t, rounds: [][]string{
		{toolChunk("call_1", "web_search", `{"q":"x"}`)},
		{textChunk("好的")},
	}}
	a := newTestAgent(t, srv, nil, nil)

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "搜"}}))
	last := frames[len(frames)-1]
	require.NoError(t, last.Err)
	assert.Contains(t, last.Messages[0].ToolCalls[0].Response, "unknown tool web_search")
}

func TestRunStopsAfterMaxRounds(t *testing.T) {
	loop := []string{toolChunk("call_x", "my_image_gen", `{"prompt":"a"}`)}
	srv := &llmServer{t: t, rounds: [][]string{loop, loop}}
	tools, err := NewCatalog(promptTool("my_image_gen"))
	require.NoError(t, err)
	a := newTestAgent(t, srv, tools, nil)
	a.maxRounds = 2

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "画"}}))
	last := frames[len(frames)-1]
	require.NoError(t, last.Err)
	assert.Len(t, last.Messages[0].ToolCalls, 2)
	assert.Len(t, srv.requests, 2)
}

func TestRunReportsUpstreamError(t *testing.T) {
	srv := &llmServer{t: t}
	a := newTestAgent(t, srv, nil, nil)

	frames := collect(a.Run(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}))
	require.Len(t, frames, 1)
	assert.Error(t, frames[0].Err)
}

func TestRunWithoutMessages(t *testing.T) {
	a := newTestAgent(t, &llmServer{t: t}, nil, nil)
	frames := collect(a.Run(context.Background(), nil))
	require.Len(t, frames, 1)
	assert.EqualError(t, frames[0].Err, "no messages")
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Options{}, testLogger())
	assert.Error(t, err)
}

func TestFormatKnowledge(t *testing.T) {
	assert.Equal(t, "", formatKnowledge(nil))
	out := formatKnowledge([]core.Document{
		{Content: "a", Metadata: map[string]any{"source": "x.md"}},
		{Content: "b"},
	})
	assert.True(t, strings.HasPrefix(out, "# 知识库"))
	assert.Contains(t, out, "## 片段 1 (x.md)\na")
	assert.Contains(t, out, "## 片段 2\nb")
}

func TestReportsError(t *testing.T) {
	assert.True(t, reportsError(`{"error":"prompt is empty"}`))
	assert.True(t, reportsError(`{"output":"partial","error":"execution failed"}`))
	assert.False(t, reportsError(`{"output":"printed \"error\" twice"}`))
	assert.False(t, reportsError(`{"image_url":"https://x/prompt/a","error":""}`))
	assert.False(t, reportsError(`not json`))
	assert.False(t, reportsError(`["error"]`))
}

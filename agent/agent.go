package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/metrics"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const defaultMaxRounds = 5

type Options struct {
	Model        string
	BaseURL      string
	ApiKey       string
	TopP         float32
	MaxRounds    int
	Timeout      time.Duration
	SystemPrompt string
	Tools        *Catalog
	Retriever    Retriever
	HTTPClient   *http.Client
	Metrics      metrics.Metrics
}

// Agent answers a conversation with an OpenAI compatible chat model,
// grounding it on retrieved documents and letting it call catalog tools.
// It holds no per-request state and is shared by all handlers.
type Agent struct {
	client    *openai.Client
	model     string
	topP      float32
	maxRounds int
	timeout   time.Duration
	system    string
	tools     *Catalog
	retriever Retriever
	metrics   metrics.Metrics
	log       *slog.Logger
}

func New(opts Options, log *slog.Logger) (*Agent, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model is not set")
	}
	clientConf := openai.DefaultConfig(opts.ApiKey)
	if opts.BaseURL != "" {
		clientConf.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		clientConf.HTTPClient = opts.HTTPClient
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	a := &Agent{
		client:    openai.NewClientWithConfig(clientConf),
		model:     opts.Model,
		topP:      opts.TopP,
		maxRounds: maxRounds,
		timeout:   opts.Timeout,
		system:    opts.SystemPrompt,
		tools:     opts.Tools,
		retriever: opts.Retriever,
		metrics:   m,
		log:       log.With(sl.Module("agent")),
	}
	a.log.With(
		slog.String("model", a.model),
		slog.String("endpoint", clientConf.BaseURL),
		slog.Int("tools", a.tools.Len()),
		slog.Bool("retriever", a.retriever != nil),
		sl.Secret(opts.ApiKey),
	).Info("agent ready")
	return a, nil
}

// Retriever returns the document retriever the agent grounds on, or nil.
func (a *Agent) Retriever() Retriever {
	return a.retriever
}

// Run starts answering messages and streams the evolving reply. The channel
// is closed after the final frame; a frame with Err set is always last.
// Callers must drain the channel or cancel ctx.
func (a *Agent) Run(ctx context.Context, messages []Message) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)
		parent := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		if err := a.run(ctx, messages, out); err != nil {
			a.log.Error("agent run", sl.Err(err))
			emit(parent, out, Frame{Err: err})
		}
	}()
	return out
}

func (a *Agent) run(ctx context.Context, messages []Message, out chan<- Frame) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages")
	}
	history := a.compose(ctx, messages)
	reply := Message{Role: RoleAssistant}

	for round := 0; round < a.maxRounds; round++ {
		req := openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: history,
			TopP:     a.topP,
			Tools:    a.tools.definitions(),
			Stream:   true,
		}
		stream, err := a.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return fmt.Errorf("starting completion: %w", err)
		}
		text, calls, err := a.consume(ctx, stream, &reply, out)
		_ = stream.Close()
		if err != nil {
			return err
		}
		a.log.With(
			slog.Int("round", round),
			slog.Int("text", len(text)),
			slog.Int("tool_calls", len(calls)),
		).Debug("completion round")

		if len(calls) == 0 {
			if reply.Content == "" && len(reply.ToolCalls) == 0 {
				// nothing streamed at all; still hand the empty reply over
				emit(ctx, out, Frame{Messages: []Message{reply.clone()}})
			}
			return nil
		}

		history = append(history, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			record := ToolCall{
				ID:         call.ID,
				Name:       call.Function.Name,
				Parameters: call.Function.Arguments,
			}
			reply.ToolCalls = append(reply.ToolCalls, record)
			emit(ctx, out, Frame{Messages: []Message{reply.clone()}})

			response := a.invoke(ctx, record.Name, record.Parameters)
			reply.ToolCalls[len(reply.ToolCalls)-1].Response = response
			emit(ctx, out, Frame{Messages: []Message{reply.clone()}})

			history = append(history, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    response,
				Name:       record.Name,
				ToolCallID: call.ID,
			})
		}
	}
	a.log.Warn("tool rounds exhausted", slog.Int("max_rounds", a.maxRounds))
	return nil
}

// consume reads one streamed completion, updating reply with content as it
// arrives, and returns the round's text and the assembled tool calls.
func (a *Agent) consume(ctx context.Context, stream *openai.ChatCompletionStream, reply *Message, out chan<- Frame) (string, []openai.ToolCall, error) {
	var text strings.Builder
	prefix := reply.Content
	if prefix != "" {
		prefix += "\n\n"
	}
	var order []int
	pending := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			reply.Content = prefix + text.String()
			emit(ctx, out, Frame{Messages: []Message{reply.clone()}})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if call.Function.Name == "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	calls := make([]openai.ToolCall, 0, len(order))
	for _, idx := range order {
		call := pending[idx]
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		calls = append(calls, *call)
	}
	return text.String(), calls, nil
}

func (a *Agent) invoke(ctx context.Context, name, params string) string {
	log := a.log.With(slog.String("tool", name))
	tool, ok := a.tools.Lookup(name)
	if !ok {
		log.Warn("model requested unknown tool")
		a.metrics.IncToolCall(name, metrics.ToolUnknown)
		return toolError(fmt.Sprintf("unknown tool %s", name))
	}
	if err := a.tools.Validate(name, params); err != nil {
		log.With(sl.Text("params", params)).Warn("invalid tool arguments", sl.Err(err))
		a.metrics.IncToolCall(name, metrics.ToolInvalid)
		return toolError(err.Error())
	}
	started := time.Now()
	response := tool.Call(ctx, params)
	outcome := metrics.ToolOK
	if reportsError(response) {
		outcome = metrics.ToolFailed
	}
	a.metrics.IncToolCall(name, outcome)
	log.With(
		slog.Duration("took", time.Since(started)),
		sl.Text("response", response),
	).Info("tool called")
	return response
}

func (a *Agent) compose(ctx context.Context, messages []Message) []openai.ChatCompletionMessage {
	system := a.system
	if knowledge := a.knowledge(ctx, lastUserContent(messages)); knowledge != "" {
		system += "\n\n" + knowledge
	}
	history := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		history = append(history, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		history = append(history, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return history
}

func (a *Agent) knowledge(ctx context.Context, query string) string {
	if a.retriever == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	docs, err := a.retriever.Retrieve(ctx, query)
	if err != nil {
		a.log.Warn("retrieving knowledge", sl.Err(err))
		return ""
	}
	return formatKnowledge(docs)
}

func formatKnowledge(docs []core.Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# 知识库\n")
	for i, doc := range docs {
		source, _ := doc.Metadata["source"].(string)
		fmt.Fprintf(&b, "\n## 片段 %d", i+1)
		if source != "" {
			fmt.Fprintf(&b, " (%s)", source)
		}
		b.WriteString("\n")
		b.WriteString(doc.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// reportsError tells whether a tool response is an object with a non-empty
// top-level error field.
func reportsError(response string) bool {
	var fields map[string]any
	if err := json.Unmarshal([]byte(response), &fields); err != nil {
		return false
	}
	switch v := fields["error"].(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

func toolError(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

func emit(ctx context.Context, out chan<- Frame, f Frame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

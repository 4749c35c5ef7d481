package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/intent"
	"github.com/north-leaf-W/QUT-Assistant/lib/metrics"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const imageConfirmation = "我已经按照你的要求画了%s，希望你喜欢！"

// Asker is the agent side of the assistant.
type Asker interface {
	Stream(ctx context.Context, query string, onFrame func(agent.Frame)) (*agent.Reply, error)
}

// Assistant answers questions: picture requests recognised by the router go
// straight to the image tool, everything else is handed to the agent.
type Assistant struct {
	router  *intent.Router
	image   *ImageGen
	agent   Asker
	metrics metrics.Metrics
	log     *slog.Logger
}

var _ core.ChatService = (*Assistant)(nil)

// NewAssistant wires the assistant; a nil router sends every question to the
// agent.
func NewAssistant(router *intent.Router, image *ImageGen, asker Asker, m metrics.Metrics, log *slog.Logger) *Assistant {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Assistant{
		router:  router,
		image:   image,
		agent:   asker,
		metrics: m,
		log:     log.With(sl.Module("assistant")),
	}
}

func (a *Assistant) Ask(ctx context.Context, question string) (*core.Answer, error) {
	return a.AskStream(ctx, question, nil)
}

// AskStream is Ask with every intermediate agent frame reported to onFrame.
// Shortcut answers produce no frames.
func (a *Assistant) AskStream(ctx context.Context, question string, onFrame func(agent.Frame)) (*core.Answer, error) {
	if strings.TrimSpace(question) == "" {
		a.log.Warn("empty question")
		return nil, core.ErrEmptyQuestion
	}
	log := a.log.With(sl.Text("question", question))
	log.Info("incoming question")

	if a.router != nil {
		if match, ok := a.router.Route(question); ok {
			log.With(
				slog.String("rule", match.Rule),
				sl.Text("prompt", match.Prompt),
			).Info("image request detected")
			return a.drawShortcut(match.Prompt)
		}
	}

	reply, err := a.agent.Stream(ctx, question, onFrame)
	if err != nil {
		a.metrics.IncAnswer(metrics.PathError)
		log.Error("generating answer", sl.Err(err))
		return nil, fmt.Errorf("%w: %w", core.ErrAgent, err)
	}
	answer := Shape(reply, a.log)
	a.metrics.IncAnswer(metrics.PathAgent)
	log.With(
		sl.Text("answer", answer.Answer),
		slog.Int("documents", len(answer.Documents)),
		slog.Bool("image", answer.ImageURL != ""),
	).Info("outgoing answer")
	return answer, nil
}

func (a *Assistant) drawShortcut(prompt string) (*core.Answer, error) {
	res := a.image.Generate(prompt)
	if res.Failed() {
		a.metrics.IncAnswer(metrics.PathError)
		return nil, &core.ImageError{Message: res.Error}
	}
	a.metrics.IncAnswer(metrics.PathShortcut)
	return &core.Answer{
		Answer:    fmt.Sprintf(imageConfirmation, prompt),
		Documents: []core.Document{},
		ImageURL:  res.ImageURL,
	}, nil
}

func (a *Assistant) GenerateImage(prompt string) core.ImageResult {
	if strings.TrimSpace(prompt) == "" {
		return core.ImageResult{Error: core.ErrEmptyPrompt.Error()}
	}
	return a.image.Generate(prompt)
}

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

// Runner is the part of an agent the facade relies on.
type Runner interface {
	Run(ctx context.Context, messages []Message) <-chan Frame
	Retriever() Retriever
}

// Reply is the last frame an agent produced for a question, together with
// the documents retrieved for display.
type Reply struct {
	Messages  []Message
	Documents []core.Document
}

// Facade hands single questions to an agent and waits for the final answer.
type Facade struct {
	runner Runner
	log    *slog.Logger
}

func NewFacade(runner Runner, log *slog.Logger) *Facade {
	return &Facade{
		runner: runner,
		log:    log.With(sl.Module("facade")),
	}
}

// Ask sends query as the only user message. Every frame is consumed; only
// the last one is kept. Retrieval failures for display documents are logged
// and do not fail the question.
func (f *Facade) Ask(ctx context.Context, query string) (*Reply, error) {
	return f.Stream(ctx, query, nil)
}

// Stream works like Ask and additionally reports every frame to onFrame.
func (f *Facade) Stream(ctx context.Context, query string, onFrame func(Frame)) (*Reply, error) {
	reply := &Reply{Documents: []core.Document{}}

	if retriever := f.runner.Retriever(); retriever != nil {
		docs, err := retriever.Retrieve(ctx, query)
		if err != nil {
			f.log.Warn("retrieving documents", sl.Err(err))
		} else if len(docs) > 0 {
			reply.Documents = docs
			f.log.Info("documents retrieved", slog.Int("count", len(docs)))
		} else {
			f.log.Info("no documents retrieved")
		}
	}

	messages := []Message{{Role: RoleUser, Content: query}}
	frames := 0
	for frame := range f.runner.Run(ctx, messages) {
		if frame.Err != nil {
			return nil, fmt.Errorf("agent run: %w", frame.Err)
		}
		frames++
		reply.Messages = frame.Messages
		if onFrame != nil {
			onFrame(frame)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}
	if frames == 0 {
		f.log.Warn("agent produced no answer")
	}
	return reply, nil
}

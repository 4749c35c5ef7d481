package ai

import (
	"log/slog"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

// Shape turns the agent's final frame into the answer returned to callers.
// Tool call records are scanned in order; the first image tool call with a
// readable image_url wins. Unreadable responses are logged and skipped.
func Shape(reply *agent.Reply, log *slog.Logger) *core.Answer {
	answer := &core.Answer{Documents: []core.Document{}}
	if reply == nil {
		return answer
	}
	if reply.Documents != nil {
		answer.Documents = reply.Documents
	}
	for _, msg := range reply.Messages {
		if msg.Content != "" {
			answer.Answer = msg.Content
			break
		}
	}
	for _, msg := range reply.Messages {
		for _, call := range msg.ToolCalls {
			if call.Name != ImageToolName || call.Response == "" {
				continue
			}
			res, err := ParseImageResult(call.Response)
			if err != nil {
				log.With(sl.Text("response", call.Response)).Error("parsing image tool response", sl.Err(err))
				continue
			}
			if res.ImageURL != "" {
				answer.ImageURL = res.ImageURL
				log.Info("image url from tool call", slog.String("url", res.ImageURL))
				return answer
			}
		}
	}
	return answer
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/core"
)

const rule = "====================="

type streamAsker interface {
	AskStream(ctx context.Context, question string, onFrame func(agent.Frame)) (*core.Answer, error)
}

// console prints one question's progress the way a terminal user follows it.
type console struct {
	out   io.Writer
	asker streamAsker

	printed  string
	reported map[string]bool
}

// run prints the streamed answer and tool calls as they happen, then the
// documents the answer was grounded on and the full answer.
func (c *console) run(ctx context.Context, question string) error {
	c.reported = make(map[string]bool)
	answer, err := c.asker.AskStream(ctx, question, c.onFrame)
	if err != nil {
		fmt.Fprintf(c.out, "\n执行过程中发生错误: %v\n", err)
		return err
	}

	fmt.Fprintln(c.out)
	c.printDocuments(answer.Documents)
	fmt.Fprintf(c.out, "\n===== 完整响应 =====\n%s\n", answer.Answer)
	if answer.ImageURL != "" {
		fmt.Fprintf(c.out, "图像: %s\n", answer.ImageURL)
	}
	fmt.Fprintln(c.out, rule)
	return nil
}

func (c *console) printDocuments(docs []core.Document) {
	fmt.Fprintln(c.out, "\n===== 召回的文档内容 =====")
	if len(docs) == 0 {
		fmt.Fprintln(c.out, "没有召回任何文档内容")
	}
	for i, doc := range docs {
		fmt.Fprintf(c.out, "\n文档片段 %d:\n内容: %s\n元数据: %v\n", i+1, doc.Content, doc.Metadata)
	}
	fmt.Fprintf(c.out, "%s======\n\n", rule)
}

// onFrame prints the new part of the answer and every tool call once its
// response is known.
func (c *console) onFrame(frame agent.Frame) {
	if len(frame.Messages) == 0 {
		return
	}
	msg := frame.Messages[0]
	if strings.HasPrefix(msg.Content, c.printed) {
		fmt.Fprint(c.out, msg.Content[len(c.printed):])
	} else {
		fmt.Fprint(c.out, "\n"+msg.Content)
	}
	c.printed = msg.Content

	for _, call := range msg.ToolCalls {
		if call.Response == "" || c.reported[call.ID] {
			continue
		}
		c.reported[call.ID] = true
		fmt.Fprintf(c.out, "\n===== 工具调用 =====\n调用工具: %s\n参数: %s\n响应: %s\n%s\n\n",
			call.Name, call.Parameters, call.Response, rule)
	}
}

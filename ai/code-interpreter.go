package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const (
	CodeToolName   = "code_interpreter"
	maxCodeOutput  = 8 << 10
	defaultCodeRun = 30 * time.Second
)

// CodeInterpreter runs model written code with a local interpreter inside a
// throwaway working directory.
type CodeInterpreter struct {
	interpreter string
	timeout     time.Duration
	log         *slog.Logger
}

type codeResult struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewCodeInterpreter(interpreter string, timeout time.Duration, log *slog.Logger) *CodeInterpreter {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = defaultCodeRun
	}
	return &CodeInterpreter{
		interpreter: interpreter,
		timeout:     timeout,
		log:         log.With(sl.Module("code-interpreter")),
	}
}

func (c *CodeInterpreter) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        CodeToolName,
		Description: "代码解释器，可用于执行 Python 代码。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "待执行的代码",
				},
			},
			"required": []string{"code"},
		},
	}
}

func (c *CodeInterpreter) Call(ctx context.Context, params string) string {
	value, err := agent.DecodeParams(params)
	if err != nil {
		return c.encode(codeResult{Error: err.Error()})
	}
	obj, _ := value.(map[string]any)
	code, _ := obj["code"].(string)
	if strings.TrimSpace(code) == "" {
		return c.encode(codeResult{Error: "code is empty"})
	}
	output, err := c.Execute(ctx, code)
	if err != nil {
		c.log.Warn("code execution", sl.Err(err))
		return c.encode(codeResult{Output: output, Error: err.Error()})
	}
	return c.encode(codeResult{Output: output})
}

// Execute runs code and returns its combined output, cut to 8 KiB.
func (c *CodeInterpreter) Execute(ctx context.Context, code string) (string, error) {
	dir, err := os.MkdirTemp("", "code-interpreter-")
	if err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.log.Warn("removing work dir", sl.Err(err))
		}
	}()

	script := filepath.Join(dir, "main.py")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("writing script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &limitedBuffer{limit: maxCodeOutput}
	cmd := exec.CommandContext(ctx, c.interpreter, script)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second

	started := time.Now()
	err = cmd.Run()
	output := out.String()
	c.log.With(
		slog.String("interpreter", c.interpreter),
		slog.Duration("took", time.Since(started)),
		slog.Int("output", out.written),
		slog.Bool("truncated", out.Truncated()),
	).Info("code executed")

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("execution timed out after %s", c.timeout)
	}
	if err != nil {
		return output, fmt.Errorf("execution failed: %w", err)
	}
	return output, nil
}

func (c *CodeInterpreter) encode(res codeResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return `{"error": "encoding result"}`
	}
	return string(data)
}

const truncatedMark = "\n...(truncated)"

// limitedBuffer keeps the first limit bytes written to it and counts the rest.
type limitedBuffer struct {
	buf     bytes.Buffer
	limit   int
	written int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.written += n
	if room := b.limit - b.buf.Len(); room > 0 {
		if n > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *limitedBuffer) Truncated() bool {
	return b.written > b.limit
}

func (b *limitedBuffer) String() string {
	if !b.Truncated() {
		return b.buf.String()
	}
	return trimPartialRune(b.buf.String()) + truncatedMark
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return trimPartialRune(s[:limit]) + truncatedMark
}

// trimPartialRune drops an incomplete multi-byte sequence at the end of s.
// Invalid bytes elsewhere are left alone.
func trimPartialRune(s string) string {
	for i := 1; i <= utf8.UTFMax && i <= len(s); i++ {
		if !utf8.RuneStart(s[len(s)-i]) {
			continue
		}
		if !utf8.FullRuneInString(s[len(s)-i:]) {
			return s[:len(s)-i]
		}
		return s
	}
	return s
}

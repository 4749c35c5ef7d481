package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
)

const (
	ImageToolName    = "my_image_gen"
	DefaultImageBase = "https://image.pollinations.ai/prompt/"
	imageToolDesc    = "AI 绘画（图像生成）服务，输入文本描述，返回基于文本信息绘制的图像 URL。"
	imageFailure     = "图像生成失败: "
)

// ImageGen turns a picture description into a link on a public image
// generation service. No request is made; whoever renders the link triggers
// the generation.
type ImageGen struct {
	baseURL string
	log     *slog.Logger
}

func NewImageGen(baseURL string, log *slog.Logger) *ImageGen {
	if baseURL == "" {
		baseURL = DefaultImageBase
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ImageGen{
		baseURL: baseURL,
		log:     log.With(sl.Module("image-gen")),
	}
}

func (g *ImageGen) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        ImageToolName,
		Description: imageToolDesc,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "期望的图像内容的详细描述",
				},
			},
			"required": []string{"prompt"},
		},
	}
}

// Call implements agent.Tool. The result is always a JSON object with either
// image_url or error.
func (g *ImageGen) Call(_ context.Context, params string) string {
	g.log.With(sl.Text("params", params)).Info("image tool called")
	return EncodeImageResult(g.fromParams(params))
}

func (g *ImageGen) fromParams(params string) core.ImageResult {
	value, err := agent.DecodeParams(params)
	if err != nil {
		return g.failure(err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return g.failure(fmt.Errorf("params must be an object"))
	}
	prompt, ok := obj["prompt"].(string)
	if !ok {
		return g.failure(fmt.Errorf("prompt is missing"))
	}
	return g.Generate(prompt)
}

// Generate builds the image link for prompt. An empty prompt yields an error
// result, never a link.
func (g *ImageGen) Generate(prompt string) core.ImageResult {
	if strings.TrimSpace(prompt) == "" {
		return g.failure(fmt.Errorf("prompt is empty"))
	}
	imageURL := g.baseURL + EncodePrompt(prompt)
	g.log.With(
		sl.Text("prompt", prompt),
		slog.String("url", imageURL),
	).Info("image url generated")
	return core.ImageResult{ImageURL: imageURL}
}

func (g *ImageGen) failure(err error) core.ImageResult {
	g.log.Error("image generation", sl.Err(err))
	return core.ImageResult{Error: imageFailure + err.Error()}
}

// EncodePrompt percent-encodes every byte outside the RFC 3986 unreserved set,
// so the prompt always stays a single path segment.
func EncodePrompt(prompt string) string {
	return strings.ReplaceAll(url.QueryEscape(prompt), "+", "%20")
}

func EncodeImageResult(res core.ImageResult) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return `{"error": "` + imageFailure + `encoding result"}`
	}
	return strings.TrimSpace(buf.String())
}

// ParseImageResult reads a tool response back. Relaxed JSON is accepted.
func ParseImageResult(text string) (core.ImageResult, error) {
	value, err := agent.DecodeParams(text)
	if err != nil {
		return core.ImageResult{}, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return core.ImageResult{}, fmt.Errorf("image result is not an object")
	}
	var res core.ImageResult
	res.ImageURL, _ = obj["image_url"].(string)
	res.Error, _ = obj["error"].(string)
	return res, nil
}

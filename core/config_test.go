package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
env: prod
listen: ":8080"
llm:
  model: qwen-max
  api_key: sk-test
  tools: [my_image_gen]
docs:
  dir: ./knowledge
mongo:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	conf, err := readConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", conf.Env)
	assert.Equal(t, ":8080", conf.Listen)
	assert.Equal(t, "qwen-max", conf.LLM.Model)
	assert.Equal(t, []string{"my_image_gen"}, conf.LLM.Tools)
	assert.Equal(t, "./knowledge", conf.Docs.Dir)
	assert.True(t, conf.Mongo.Enabled)
	assert.Equal(t, DefaultSystemPrompt, conf.SystemPrompt)
	// defaults still apply to keys missing from the file
	assert.Equal(t, "https://image.pollinations.ai/prompt/", conf.Image.BaseURL)
	assert.Equal(t, 30*time.Second, conf.Code.Timeout)
	assert.InDelta(t, 0.8, conf.LLM.TopP, 1e-6)
}

func TestReadConfigFallsBackToEnv(t *testing.T) {
	t.Setenv("LISTEN", "0.0.0.0:9000")
	t.Setenv("INTENT_DISABLED", "true")

	conf, err := readConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", conf.Listen)
	assert.True(t, conf.Intent.Disabled)
	assert.False(t, conf.Code.Disabled)
	assert.Equal(t, "deepseek-v3", conf.LLM.Model)
	assert.Equal(t, []string{"my_image_gen", "code_interpreter"}, conf.LLM.Tools)
}

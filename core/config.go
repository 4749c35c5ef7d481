package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const DefaultSystemPrompt = `你是青岛理工大学的智能助手。
你可以：
1. 回答关于青岛理工大学的问题，基于加载的文档内容
2. 如果用户要求生成图像（例如包含"画"、"生成图像"、"制作图片"等词语的请求），请使用my_image_gen工具生成相关图像
3. 必要时使用code_interpreter工具执行代码

请用中文回复用户，保持回答友好、准确。如果需要生成图像，请立即调用my_image_gen工具，不要拒绝。`

// Config is read once at startup. Optional features are switched with
// enabled/disabled flags that default to false.
type Config struct {
	Env          string `yaml:"env" env:"ENV" env-default:"local"`
	Listen       string `yaml:"listen" env:"LISTEN" env-default:"127.0.0.1:5001"`
	StaticDir    string `yaml:"static_dir" env:"STATIC_DIR" env-default:"static"`
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	LLM          struct {
		Model     string        `yaml:"model" env:"LLM_MODEL" env-default:"deepseek-v3"`
		BaseURL   string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
		ApiKey    string        `yaml:"api_key" env:"LLM_API_KEY" env-default:""`
		TopP      float32       `yaml:"top_p" env:"LLM_TOP_P" env-default:"0.8"`
		MaxRounds int           `yaml:"max_rounds" env:"LLM_MAX_ROUNDS" env-default:"5"`
		Timeout   time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"3m"`
		Tools     []string      `yaml:"tools" env:"LLM_TOOLS" env-default:"my_image_gen,code_interpreter"`
	} `yaml:"llm"`
	Image struct {
		BaseURL string `yaml:"base_url" env:"IMAGE_BASE_URL" env-default:"https://image.pollinations.ai/prompt/"`
	} `yaml:"image"`
	Intent struct {
		Disabled bool `yaml:"disabled" env:"INTENT_DISABLED" env-default:"false"`
	} `yaml:"intent"`
	Code struct {
		Disabled    bool          `yaml:"disabled" env:"CODE_DISABLED" env-default:"false"`
		Interpreter string        `yaml:"interpreter" env:"CODE_INTERPRETER" env-default:"python3"`
		Timeout     time.Duration `yaml:"timeout" env:"CODE_TIMEOUT" env-default:"30s"`
	} `yaml:"code"`
	Docs struct {
		Dir        string `yaml:"dir" env:"DOCS_DIR" env-default:"docs"`
		Pattern    string `yaml:"pattern" env:"DOCS_PATTERN" env-default:"*"`
		ChunkRunes int    `yaml:"chunk_runes" env:"DOCS_CHUNK_RUNES" env-default:"600"`
		TopK       int    `yaml:"top_k" env:"DOCS_TOP_K" env-default:"5"`
	} `yaml:"docs"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env:"MONGO_ENABLED" env-default:"false"`
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:"admin"`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:"pass"`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"qut_assistant"`
	} `yaml:"mongo"`
	Redis struct {
		Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
		Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
		TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"10m"`
	} `yaml:"redis"`
	Telegram struct {
		Enabled  bool   `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"false"`
		ApiKey   string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		Username string `yaml:"username" env:"TELEGRAM_USERNAME" env-default:""`
	} `yaml:"telegram"`
}

var instance *Config
var once sync.Once

// GetConfig reads the yaml file at path, falling back to environment
// variables only when the file does not exist. The result is cached for the
// lifetime of the process.
func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance, err = readConfig(path)
	})
	return instance, err
}

func MustLoad(path string) *Config {
	conf, err := GetConfig(path)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	return conf
}

func readConfig(path string) (*Config, error) {
	conf := &Config{}
	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		err = cleanenv.ReadEnv(conf)
	} else {
		err = cleanenv.ReadConfig(path, conf)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(conf, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}
	if conf.SystemPrompt == "" {
		conf.SystemPrompt = DefaultSystemPrompt
	}
	return conf, nil
}

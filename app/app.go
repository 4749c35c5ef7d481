// Package app assembles the assistant from configuration. Both the HTTP
// server and the console command start from here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/north-leaf-W/QUT-Assistant/agent"
	"github.com/north-leaf-W/QUT-Assistant/ai"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/intent"
	"github.com/north-leaf-W/QUT-Assistant/lib/metrics"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
	"github.com/north-leaf-W/QUT-Assistant/retrieval"
	"github.com/north-leaf-W/QUT-Assistant/storage"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type App struct {
	Assistant *ai.Assistant
	Index     *retrieval.Index
	Stats     retrieval.Stats
	Tools     *agent.Catalog

	store storage.ChunkStorage
	redis *redis.Client
	log   *slog.Logger
}

func SetupLogger(env string) *slog.Logger {
	return NewLogger(os.Stdout, env)
}

// NewLogger logs at debug level for local and dev, at info level otherwise.
func NewLogger(w io.Writer, env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal, envDev:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

// Build loads the documents and wires the assistant. Optional backends that
// fail to connect are logged and replaced by their in-process variants.
func Build(ctx context.Context, conf *core.Config, m metrics.Metrics, log *slog.Logger) (*App, error) {
	if m == nil {
		m = metrics.Noop{}
	}
	a := &App{log: log}

	a.store = openStorage(conf, log)

	loader := retrieval.NewLoader(os.DirFS(conf.Docs.Dir), conf.Docs.Pattern, conf.Docs.ChunkRunes, a.store, log)
	stats, err := loader.Load(ctx)
	if err != nil {
		log.With(slog.String("dir", conf.Docs.Dir)).Error("loading documents", sl.Err(err))
	}
	a.Stats = stats

	chunks, err := a.store.Chunks()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("reading chunks: %w", err)
	}
	a.Index = retrieval.NewIndex(conf.Docs.TopK)
	a.Index.Build(chunks)
	log.With(slog.Int("chunks", a.Index.Len())).Info("document index ready")

	var retriever agent.Retriever = a.Index
	if conf.Redis.Enabled {
		client, err := retrieval.NewRedisClient(conf.Redis.Addr, conf.Redis.Password, conf.Redis.DB)
		if err != nil {
			log.With(slog.String("addr", conf.Redis.Addr)).Error("redis unavailable, cache disabled", sl.Err(err))
		} else {
			a.redis = client
			retriever = retrieval.NewCache(client, a.Index, a.Index.Version(), conf.Redis.TTL, log)
			log.Info("using redis retrieval cache")
		}
	}

	image := ai.NewImageGen(conf.Image.BaseURL, log)
	a.Tools, err = buildTools(conf, image, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	llm, err := agent.New(agent.Options{
		Model:        conf.LLM.Model,
		BaseURL:      conf.LLM.BaseURL,
		ApiKey:       conf.LLM.ApiKey,
		TopP:         conf.LLM.TopP,
		MaxRounds:    conf.LLM.MaxRounds,
		Timeout:      conf.LLM.Timeout,
		SystemPrompt: conf.SystemPrompt,
		Tools:        a.Tools,
		Retriever:    retriever,
		Metrics:      m,
	}, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	var router *intent.Router
	if !conf.Intent.Disabled {
		router = intent.NewRouter(intent.DefaultRules()...)
	} else {
		log.Info("image shortcut disabled")
	}

	a.Assistant = ai.NewAssistant(router, image, agent.NewFacade(llm, log), m, log)
	return a, nil
}

func openStorage(conf *core.Config, log *slog.Logger) storage.ChunkStorage {
	if !conf.Mongo.Enabled {
		log.Info("using in-memory storage")
		return storage.NewMemoryStorage()
	}
	mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%s",
		conf.Mongo.User, conf.Mongo.Password,
		conf.Mongo.Host, conf.Mongo.Port)
	store, err := storage.NewMongoStorage(mongoURI, conf.Mongo.Database, log)
	if err != nil {
		log.With(
			slog.String("db", conf.Mongo.Database),
			slog.String("user", conf.Mongo.User),
			slog.String("host", conf.Mongo.Host),
		).Error("falling back to memory", sl.Err(err))
		return storage.NewMemoryStorage()
	}
	log.Info("using MongoDB storage")
	return store
}

// buildTools offers the configured tools to the model. The code interpreter
// can be switched off, in which case it is dropped from the list.
func buildTools(conf *core.Config, image *ai.ImageGen, log *slog.Logger) (*agent.Catalog, error) {
	tools := []agent.Tool{image}
	if !conf.Code.Disabled {
		tools = append(tools, ai.NewCodeInterpreter(conf.Code.Interpreter, conf.Code.Timeout, log))
	}
	all, err := agent.NewCatalog(tools...)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(conf.LLM.Tools))
	for _, name := range conf.LLM.Tools {
		if conf.Code.Disabled && strings.EqualFold(strings.TrimSpace(name), ai.CodeToolName) {
			continue
		}
		names = append(names, name)
	}
	selected, err := all.Select(names)
	if err != nil {
		return nil, fmt.Errorf("selecting tools: %w", err)
	}
	return selected, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("closing redis", sl.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("closing storage", sl.Err(err))
		}
	}
}

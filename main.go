package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/north-leaf-W/QUT-Assistant/app"
	"github.com/north-leaf-W/QUT-Assistant/bot"
	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/lib/metrics"
	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
	"github.com/north-leaf-W/QUT-Assistant/server"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf := core.MustLoad(*configPath)
	log := app.SetupLogger(conf.Env)
	log.With(
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		slog.String("model", conf.LLM.Model),
	).Info("starting qut assistant")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewProm("qut_assistant")
	assistant, err := app.Build(ctx, conf, m, log)
	if err != nil {
		log.Error("building assistant", sl.Err(err))
		os.Exit(1)
	}
	defer assistant.Close()

	srv := server.New(assistant.Assistant, m, conf.StaticDir, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(conf.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if conf.Telegram.Enabled {
		tgBot, err := bot.NewTgBot(conf.Telegram.ApiKey, conf.Telegram.Username, assistant.Assistant, log)
		if err != nil {
			log.Error("creating telegram", sl.Err(err))
		} else {
			g.Go(func() error {
				return tgBot.Start(gctx)
			})
		}
	}

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", sl.Err(err))
	}
	log.Info("shutdown complete")
}

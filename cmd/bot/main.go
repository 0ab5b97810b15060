package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/liao/askbot/internal/ai"
	"github.com/liao/askbot/internal/bot"
	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/persona"
	"github.com/liao/askbot/internal/platform"
	"github.com/liao/askbot/internal/platform/discord"
	"github.com/liao/askbot/internal/platform/onebot"
	"github.com/liao/askbot/internal/rag"
	"github.com/liao/askbot/internal/services"
)

// runner 平台适配器
type runner interface {
	Run(ctx context.Context, handler platform.MessageHandler) error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidatePlatform(); err != nil {
		slog.Error("invalid platform config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 外部客户端
	svc, err := services.Start(ctx, cfg)
	if err != nil {
		slog.Error("start services failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Stop(shutdownCtx)
	}()

	// 对话历史
	history, err := chat.Open(cfg.Data.HistoryDB, cfg.Bot.MaxContextTurns)
	if err != nil {
		slog.Error("open history db failed", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	catalog, err := models.NewCatalog(cfg.Models)
	if err != nil {
		slog.Error("invalid model list", "error", err)
		os.Exit(1)
	}

	registry := models.NewRegistry()
	gemini := ai.Register(registry, svc, cfg)
	slog.Info("providers registered", "providers", registry.Providers(), "models", len(catalog.List()))

	personas, err := persona.Load(cfg.Data.PersonasFile, cfg.Bot.Name)
	if err != nil {
		slog.Error("load personas failed", "error", err)
		os.Exit(1)
	}
	slog.Info("personas loaded", "names", personas.Names())

	// 向量记忆，需要 Gemini 生成嵌入
	var memory *rag.Pipeline
	if cfg.Memory.Enabled {
		if gemini.Available() {
			store, err := rag.NewStore(cfg.Data.VectorsDir, chromem.EmbeddingFunc(gemini.Embed))
			if err != nil {
				slog.Warn("load vector store failed, memory disabled", "error", err)
			} else {
				memory = rag.NewPipeline(store, cfg.Memory.TopK, cfg.Memory.MinSimilarity)
			}
		} else {
			slog.Warn("memory enabled but GEMINI_API_KEY is not set, memory disabled")
		}
	}

	handler := bot.New(cfg, history, catalog, registry, personas, memory)

	var r runner
	switch cfg.Bot.Platform {
	case "discord":
		r, err = discord.New(cfg.Discord.Token, *verbose)
		if err != nil {
			slog.Error("create discord bot failed", "error", err)
			os.Exit(1)
		}
	case "onebot":
		r = onebot.New(onebot.Options{
			WSURL:       cfg.OneBot.WSURL,
			AccessToken: cfg.OneBot.AccessToken,
			OwnerQQ:     cfg.OneBot.OwnerQQ,
			NickName:    cfg.Bot.Name,
		})
	}

	slog.Info("bot starting", "name", cfg.Bot.Name, "platform", cfg.Bot.Platform, "default_model", cfg.Bot.DefaultModel)
	if err := r.Run(ctx, handler); err != nil {
		slog.Error("bot stopped with error", "error", err)
	}
	slog.Info("shutting down...")
}

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/liao/askbot/internal/ai"
	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/parser"
	"github.com/liao/askbot/internal/rag"
	"github.com/liao/askbot/internal/services"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	inputFile := flag.String("input", "", "exported transcript (.enc, .jsonl or .html)")
	scope := flag.String("scope", "", "user or guild ID the history belongs to")
	format := flag.String("format", "auto", "input format: enc-jsonl, jsonl, html, auto")
	decryptKey := flag.String("decrypt-key", "", "password for .enc files (from env DECRYPT_KEY if not set)")
	appendMode := flag.Bool("append", false, "append to the existing history instead of replacing it")
	memory := flag.Bool("memory", false, "also write question/answer pairs into vector memory (needs GEMINI_API_KEY)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	if *inputFile == "" || *scope == "" {
		fmt.Fprintf(os.Stderr, "Usage: history-import -input <file> -scope <id> [-format auto] [-decrypt-key <key>] [-append] [-memory]\n")
		os.Exit(1)
	}

	dk := *decryptKey
	if dk == "" {
		dk = os.Getenv("DECRYPT_KEY")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// 1. 解析导出记录
	detected := detectFormat(*inputFile, *format)
	slog.Info("parsing transcript", "file", *inputFile, "format", detected)
	turns, err := parseInput(*inputFile, detected, dk)
	if err != nil {
		slog.Error("parse transcript failed", "error", err)
		os.Exit(1)
	}
	if len(turns) == 0 {
		slog.Warn("no messages found, nothing to import")
		return
	}
	slog.Info("parsed", "turns", len(turns))

	// 2. 写入历史库
	history, err := chat.Open(cfg.Data.HistoryDB, cfg.Bot.MaxContextTurns)
	if err != nil {
		slog.Error("open history db failed", "error", err)
		os.Exit(1)
	}
	defer history.Close()

	if *appendMode {
		existing, err := history.Load(ctx, *scope)
		if err != nil {
			slog.Error("load existing history failed", "error", err)
			os.Exit(1)
		}
		turns = append(existing, turns...)
	}
	if err := history.Save(ctx, *scope, turns); err != nil {
		slog.Error("save history failed", "error", err)
		os.Exit(1)
	}
	slog.Info("history saved", "scope", *scope, "db", cfg.Data.HistoryDB)

	// 3. 向量记忆（可选）
	if *memory {
		n, err := remember(ctx, cfg, *scope, turns)
		if err != nil {
			slog.Error("write memory failed", "error", err)
			os.Exit(1)
		}
		slog.Info("memory written", "pairs", n, "dir", cfg.Data.VectorsDir)
	}

	slog.Info("done!")
}

func detectFormat(path, format string) string {
	if format != "auto" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".enc":
		return "enc-jsonl"
	case ".html", ".htm":
		return "html"
	default:
		return "jsonl"
	}
}

func parseInput(path, format, decryptKey string) ([]chat.Turn, error) {
	switch format {
	case "enc-jsonl":
		if decryptKey == "" {
			return nil, fmt.Errorf("-decrypt-key required for .enc files")
		}
		plaintext, err := parser.DecryptFile(path, decryptKey)
		if err != nil {
			return nil, err
		}
		slog.Info("decrypted successfully", "bytes", len(plaintext))
		turns, err := parser.ParseJSONL(plaintext)
		// 清除内存中的明文
		clear(plaintext)
		return turns, err
	case "jsonl":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return parser.ParseJSONL(data)
	case "html":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return parser.ParseHTMLTranscript(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// qaPairs 相邻的 user / model 两条组成一对问答
func qaPairs(turns []chat.Turn) [][2]string {
	var pairs [][2]string
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role == chat.RoleUser && turns[i+1].Role == chat.RoleModel {
			pairs = append(pairs, [2]string{turns[i].Content, turns[i+1].Content})
			i++
		}
	}
	return pairs
}

func remember(ctx context.Context, cfg *config.Config, scope string, turns []chat.Turn) (int, error) {
	svc, err := services.Start(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer svc.Stop(ctx)

	gemini := ai.NewGemini(svc.Gemini, svc.HTTP, ai.GeminiOptions{
		EmbeddingModel: cfg.Gemini.EmbeddingModel,
		RPMLimit:       cfg.Gemini.RPMLimit,
	})
	if !gemini.Available() {
		return 0, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	store, err := rag.NewStore(cfg.Data.VectorsDir, chromem.EmbeddingFunc(gemini.Embed))
	if err != nil {
		return 0, err
	}
	pipeline := rag.NewPipeline(store, cfg.Memory.TopK, cfg.Memory.MinSimilarity)

	pairs := qaPairs(turns)
	for i, p := range pairs {
		if err := pipeline.Remember(ctx, scope, p[0], p[1]); err != nil {
			return i, fmt.Errorf("remember pair %d: %w", i, err)
		}
		if (i+1)%20 == 0 {
			slog.Info("vectorizing", "progress", fmt.Sprintf("%d/%d", i+1, len(pairs)))
		}
	}
	return len(pairs), nil
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
)

// Gemini 进程内共享的 Gemini 后端，限流器对所有请求生效
type Gemini struct {
	client         *genai.Client
	http           *http.Client
	fallbackModels []string // 配额耗尽时依次尝试
	embedModel     string
	temp           float32
	maxTokens      int32
	limiter        *rate.Limiter
}

type GeminiOptions struct {
	FallbackModels  []string
	EmbeddingModel  string
	Temperature     float32
	MaxOutputTokens int32
	RPMLimit        int
}

func NewGemini(client *genai.Client, hc *http.Client, opts GeminiOptions) *Gemini {
	limit := rate.Inf
	burst := 1
	if opts.RPMLimit > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RPMLimit))
		burst = opts.RPMLimit
	}
	return &Gemini{
		client:         client,
		http:           hc,
		fallbackModels: opts.FallbackModels,
		embedModel:     opts.EmbeddingModel,
		temp:           opts.Temperature,
		maxTokens:      opts.MaxOutputTokens,
		limiter:        rate.NewLimiter(limit, burst),
	}
}

// Factory 返回注册到 models.Registry 的工厂
func (g *Gemini) Factory() models.Factory {
	return func(ctx context.Context, m models.Model, s models.Session) (models.Completions, error) {
		if g == nil || g.client == nil {
			return nil, &models.APIKeyUnsetError{Provider: m.Provider, EnvVar: "GEMINI_API_KEY"}
		}
		return &geminiCompletions{backend: g, model: m.Name, session: s}, nil
	}
}

type geminiCompletions struct {
	backend *Gemini
	model   string
	session models.Session
	files   []*genai.Part
}

// InputFile 下载附件，作为 inline data 随下一次提问发送
func (c *geminiCompletions) InputFile(ctx context.Context, att platform.Attachment) error {
	data, mt, err := download(ctx, c.backend.http, att)
	if err != nil {
		return err
	}
	c.files = append(c.files, genai.NewPartFromBytes(data, mt))
	slog.Debug("gemini attachment loaded", "file", att.Filename, "mime", mt, "bytes", len(data))
	return nil
}

func (c *geminiCompletions) ChatCompletion(ctx context.Context, req models.ChatRequest) (models.Result, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	contents = append(contents, historyToContents(req.History)...)

	parts := make([]*genai.Part, 0, len(c.files)+1)
	parts = append(parts, c.files...)
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.backend.temp),
		MaxOutputTokens: c.backend.maxTokens,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	text, err := c.generate(ctx, contents, cfg)
	if err != nil {
		return models.Result{}, err
	}

	now := time.Now()
	thread := make([]chat.Turn, 0, len(req.History)+2)
	thread = append(thread, req.History...)
	thread = append(thread,
		chat.Turn{Role: chat.RoleUser, Content: req.Prompt, Timestamp: now},
		chat.Turn{Role: chat.RoleModel, Content: text, Timestamp: now},
	)
	return models.Result{Text: text, Thread: thread}, nil
}

// generate 请求的模型配额耗尽时依次切换到备用模型，其他错误重试一次
func (c *geminiCompletions) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	candidates := append([]string{c.model}, c.backend.fallbackModels...)

	var lastErr error
	for i := 0; i < len(candidates); i++ {
		model := candidates[i]
		for attempt := 0; attempt < 2; attempt++ {
			if err := c.backend.limiter.Wait(ctx); err != nil {
				return "", err
			}

			resp, err := c.backend.client.Models.GenerateContent(ctx, model, contents, cfg)
			if err == nil {
				slog.Debug("generated reply", "model", model)
				return resp.Text(), nil
			}
			lastErr = err

			if isQuotaError(err) {
				if i+1 < len(candidates) {
					slog.Warn("model quota exceeded, switching", "model", model, "next", candidates[i+1])
					c.notify(ctx, fmt.Sprintf("⚠️ **%s** is rate limited, trying **%s**", model, candidates[i+1]))
				}
				break
			}

			if attempt == 1 {
				return "", fmt.Errorf("gemini generate: %w", err)
			}
			slog.Warn("generate failed, retrying", "model", model, "attempt", attempt+1, "error", err)
			if err := sleep(ctx, time.Second); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("gemini generate: %w", lastErr)
}

func (c *geminiCompletions) notify(ctx context.Context, text string) {
	if c.session.Notify == nil {
		return
	}
	if err := c.session.Notify(ctx, text); err != nil {
		slog.Debug("notify failed", "error", err)
	}
}

func (c *geminiCompletions) SaveToHistory(ctx context.Context, db models.HistoryWriter, scopeID string, thread []chat.Turn) error {
	return db.Save(ctx, scopeID, thread)
}

// Embed 生成文本嵌入向量
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := g.client.Models.EmbedContent(ctx, g.embedModel,
			[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
		if err != nil {
			lastErr = err
			slog.Warn("embed failed, retrying", "attempt", attempt+1, "error", err)
			if err := sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, err
			}
			continue
		}
		if len(resp.Embeddings) == 0 {
			return nil, fmt.Errorf("empty embedding response")
		}
		return resp.Embeddings[0].Values, nil
	}
	return nil, fmt.Errorf("embed failed after 3 attempts: %w", lastErr)
}

// Available 客户端是否已初始化
func (g *Gemini) Available() bool {
	return g != nil && g.client != nil
}

func historyToContents(turns []chat.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		var role genai.Role = genai.RoleUser
		if t.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	return contents
}

func isQuotaError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

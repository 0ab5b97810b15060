package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/parser"
	"github.com/liao/askbot/internal/platform"
	"github.com/liao/askbot/internal/storage"
)

// 内联文本附件的最大字节数
const maxInlineText = 60000

// OpenAICompat OpenAI 协议兼容的后端（OpenAI / Azure OpenAI / OpenRouter / Groq）
type OpenAICompat struct {
	provider string
	envVar   string
	client   *openai.Client
	http     *http.Client
	uploader storage.Uploader
}

// NewOpenAICompat client 为 nil 表示未配置 key；uploader 可为 nil
func NewOpenAICompat(provider, envVar string, client *openai.Client, hc *http.Client, uploader storage.Uploader) *OpenAICompat {
	return &OpenAICompat{
		provider: provider,
		envVar:   envVar,
		client:   client,
		http:     hc,
		uploader: uploader,
	}
}

func (o *OpenAICompat) Factory() models.Factory {
	return func(ctx context.Context, m models.Model, s models.Session) (models.Completions, error) {
		if o.client == nil {
			return nil, &models.APIKeyUnsetError{Provider: o.provider, EnvVar: o.envVar}
		}
		return &openaiCompletions{backend: o, model: m.Name}, nil
	}
}

type openaiCompletions struct {
	backend *OpenAICompat
	model   string
	images  []string // image_url
	texts   []string // 内联的文本附件
}

// InputFile 图片以 image_url 发送，文本类文件下载后内联到提问里
func (c *openaiCompletions) InputFile(ctx context.Context, att platform.Attachment) error {
	data, mt, err := download(ctx, c.backend.http, att)
	if err != nil {
		return err
	}

	switch {
	case isImage(mt):
		url, err := c.imageURL(ctx, att, data, mt)
		if err != nil {
			return err
		}
		c.images = append(c.images, url)
	case mt == "text/html":
		text, err := parser.HTMLText(strings.NewReader(string(data)))
		if err != nil {
			return fmt.Errorf("extract html text: %w", err)
		}
		c.texts = append(c.texts, formatInlineFile(att.Filename, text))
	case isText(mt):
		c.texts = append(c.texts, formatInlineFile(att.Filename, string(data)))
	default:
		return fmt.Errorf("unsupported attachment type %s", mt)
	}
	slog.Debug("openai attachment loaded", "provider", c.backend.provider, "file", att.Filename, "mime", mt)
	return nil
}

// imageURL 配置了 blob 时转存，否则用 data URL
func (c *openaiCompletions) imageURL(ctx context.Context, att platform.Attachment, data []byte, mt string) (string, error) {
	if c.backend.uploader != nil {
		url, err := c.backend.uploader.Upload(ctx, att.Filename, data, mt)
		if err == nil {
			return url, nil
		}
		slog.Warn("re-host attachment failed, falling back to data url", "file", att.Filename, "error", err)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func formatInlineFile(name, text string) string {
	text = platform.Truncate(text, maxInlineText)
	return fmt.Sprintf("<file name=%q>\n%s\n</file>", name, text)
}

func (c *openaiCompletions) ChatCompletion(ctx context.Context, req models.ChatRequest) (models.Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == chat.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, c.userMessage(req.Prompt))

	resp, err := c.backend.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return models.Result{}, fmt.Errorf("%s chat completion: %w", c.backend.provider, err)
	}
	if len(resp.Choices) == 0 {
		return models.Result{}, fmt.Errorf("%s chat completion: no choices returned", c.backend.provider)
	}
	text := resp.Choices[0].Message.Content
	slog.Debug("generated reply", "provider", c.backend.provider, "model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)

	now := time.Now()
	thread := make([]chat.Turn, 0, len(req.History)+2)
	thread = append(thread, req.History...)
	thread = append(thread,
		chat.Turn{Role: chat.RoleUser, Content: req.Prompt, Timestamp: now},
		chat.Turn{Role: chat.RoleModel, Content: text, Timestamp: now},
	)
	return models.Result{Text: text, Thread: thread}, nil
}

func (c *openaiCompletions) userMessage(prompt string) openai.ChatCompletionMessage {
	if len(c.texts) > 0 {
		prompt = strings.Join(c.texts, "\n\n") + "\n\n" + prompt
	}
	if len(c.images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	}

	parts := make([]openai.ChatMessagePart, 0, len(c.images)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
	for _, url := range c.images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func (c *openaiCompletions) SaveToHistory(ctx context.Context, db models.HistoryWriter, scopeID string, thread []chat.Turn) error {
	return db.Save(ctx, scopeID, thread)
}

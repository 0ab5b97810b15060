package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/platform"
)

// ErrProviderNotFound 没有注册该厂商
var ErrProviderNotFound = errors.New("model provider not found")

// APIKeyUnsetError 厂商已知但对应的 API key 没配置
type APIKeyUnsetError struct {
	Provider string
	EnvVar   string
}

func (e *APIKeyUnsetError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("API key for %s is not set", e.Provider)
	}
	return fmt.Sprintf("API key for %s is not set, please set %s", e.Provider, e.EnvVar)
}

type ChatRequest struct {
	Prompt            string
	SystemInstruction string
	History           []chat.Turn
}

type Result struct {
	Text string
	// Thread 包含历史和本轮问答，用于写回历史
	Thread []chat.Turn
}

type Completions interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (Result, error)
}

// FileInput 能接收附件的模型实现
type FileInput interface {
	InputFile(ctx context.Context, att platform.Attachment) error
}

type HistoryWriter interface {
	Save(ctx context.Context, scopeID string, turns []chat.Turn) error
}

// HistorySaver 允许保存对话的模型实现
type HistorySaver interface {
	SaveToHistory(ctx context.Context, db HistoryWriter, scopeID string, thread []chat.Turn) error
}

// Session 单次请求的上下文
type Session struct {
	ScopeID string
	// Notify 向当前频道发提示消息
	Notify func(ctx context.Context, text string) error
}

type Factory func(ctx context.Context, m Model, s Session) (Completions, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// New 按模型的厂商创建一次性的 Completions
func (r *Registry) New(ctx context.Context, m Model, s Session) (Completions, error) {
	r.mu.RLock()
	f, ok := r.factories[m.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, m.Provider)
	}
	return f(ctx, m, s)
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/liao/askbot/internal/platform"
)

// 单条记忆的最大长度
const maxMemoryLen = 2000

type Pipeline struct {
	store         *Store
	topK          int
	minSimilarity float32
	now           func() time.Time
}

// NewPipeline store 为 nil 时返回的 pipeline 什么都不做
func NewPipeline(store *Store, topK int, minSimilarity float32) *Pipeline {
	return &Pipeline{
		store:         store,
		topK:          topK,
		minSimilarity: minSimilarity,
		now:           time.Now,
	}
}

// Enabled 是否有可用的向量库
func (p *Pipeline) Enabled() bool {
	return p != nil && p.store != nil
}

// Retrieve 根据提问检索该 scope 以前的相关问答
func (p *Pipeline) Retrieve(ctx context.Context, scopeID, query string) ([]string, error) {
	if !p.Enabled() || p.store.Count(scopeID) == 0 {
		slog.Debug("no vectors in store, skipping RAG", "scope", scopeID)
		return nil, nil
	}

	results, err := p.store.Query(ctx, scopeID, query, p.topK, p.minSimilarity)
	if err != nil {
		return nil, err
	}

	examples := make([]string, 0, len(results))
	for _, r := range results {
		examples = append(examples, r.Content)
	}

	slog.Debug("RAG retrieved examples", "scope", scopeID, "count", len(examples))
	return examples, nil
}

// Remember 把一轮问答写入记忆
func (p *Pipeline) Remember(ctx context.Context, scopeID, question, answer string) error {
	if !p.Enabled() {
		return nil
	}
	text := "User: " + strings.TrimSpace(question) + "\nAssistant: " + strings.TrimSpace(answer)
	text = platform.Truncate(text, maxMemoryLen)
	now := p.now()
	return p.store.Add(ctx, scopeID, chromem.Document{
		ID:      fmt.Sprintf("mem_%d", now.UnixNano()),
		Content: text,
		Metadata: map[string]string{
			"scope":      scopeID,
			"created_at": now.UTC().Format(time.RFC3339),
		},
	})
}

// WithMemory 把检索到的片段附加到 system prompt
func WithMemory(systemPrompt string, excerpts []string) string {
	if len(excerpts) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n## Relevant past conversation excerpts\n")
	for i, ex := range excerpts {
		fmt.Fprintf(&b, "Excerpt %d:\n%s\n\n", i+1, ex)
	}
	b.WriteString("Use these only as background; do not quote them unless asked.")
	return b.String()
}

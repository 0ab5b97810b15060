package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
)

const botID = "999"

type call struct {
	kind   string
	target string // channel 或 message ID
	text   string
}

type fakeConn struct {
	mu      sync.Mutex
	calls   []call
	nextID  int
	fetched map[string]*platform.Message
	sendErr error
	typing  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{fetched: make(map[string]*platform.Message)}
}

func (c *fakeConn) record(kind, target, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{kind: kind, target: target, text: text})
}

func (c *fakeConn) BotUser() platform.User {
	return platform.User{ID: botID, Name: "jakey", DisplayName: "Jakey", Bot: true}
}

func (c *fakeConn) Send(ctx context.Context, channelID, text string) (string, error) {
	c.record("send", channelID, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.nextID++
	return fmt.Sprintf("sent-%d", c.nextID), nil
}

func (c *fakeConn) Reply(ctx context.Context, msg *platform.Message, text string) error {
	c.record("reply", msg.ID, text)
	return nil
}

func (c *fakeConn) Edit(ctx context.Context, channelID, messageID, text string) error {
	c.record("edit", messageID, text)
	return nil
}

func (c *fakeConn) SendEmbed(ctx context.Context, channelID, description string) error {
	c.record("embed", channelID, description)
	return nil
}

func (c *fakeConn) AddReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	c.record("react", msg.ID, emoji)
	return nil
}

func (c *fakeConn) RemoveReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	c.record("unreact", msg.ID, emoji)
	return nil
}

func (c *fakeConn) Typing(ctx context.Context, channelID string) error {
	c.mu.Lock()
	c.typing++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.fetched[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	return m, nil
}

func (c *fakeConn) MaxMessageLen() int { return 2000 }

func (c *fakeConn) texts(kind string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cl := range c.calls {
		if cl.kind == kind {
			out = append(out, cl.text)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeProvider 记录请求，按配置返回回答或错误
type fakeProvider struct {
	mu      sync.Mutex
	model   string
	reqs    []models.ChatRequest
	files   []platform.Attachment
	reply   string
	err     error
	started chan struct{}
	release chan struct{}
}

func (p *fakeProvider) complete(ctx context.Context, model string, req models.ChatRequest) (models.Result, error) {
	p.mu.Lock()
	p.model = model
	p.reqs = append(p.reqs, req)
	started, release := p.started, p.release
	p.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if p.err != nil {
		return models.Result{}, p.err
	}
	thread := append([]chat.Turn{}, req.History...)
	thread = append(thread,
		chat.Turn{Role: chat.RoleUser, Content: req.Prompt},
		chat.Turn{Role: chat.RoleModel, Content: p.reply},
	)
	return models.Result{Text: p.reply, Thread: thread}, nil
}

func (p *fakeProvider) lastRequest(t *testing.T) models.ChatRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.reqs, "provider was not called")
	return p.reqs[len(p.reqs)-1]
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

// fullCompletions 支持附件和保存历史
type fullCompletions struct {
	p     *fakeProvider
	model string
}

func (c *fullCompletions) ChatCompletion(ctx context.Context, req models.ChatRequest) (models.Result, error) {
	return c.p.complete(ctx, c.model, req)
}

func (c *fullCompletions) InputFile(ctx context.Context, att platform.Attachment) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.files = append(c.p.files, att)
	return nil
}

func (c *fullCompletions) SaveToHistory(ctx context.Context, db models.HistoryWriter, scopeID string, thread []chat.Turn) error {
	return db.Save(ctx, scopeID, thread)
}

// plainCompletions 只能聊天
type plainCompletions struct {
	p     *fakeProvider
	model string
}

func (c *plainCompletions) ChatCompletion(ctx context.Context, req models.ChatRequest) (models.Result, error) {
	return c.p.complete(ctx, c.model, req)
}

type stubPersonas struct{}

func (stubPersonas) SystemPrompt(name string) (string, error) {
	return "system:" + name, nil
}

type fixture struct {
	h       *Handler
	conn    *fakeConn
	full    *fakeProvider
	plain   *fakeProvider
	history *chat.Store
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Bot.Name = "Jakey"
	cfg.Bot.CommandPrefix = "!"
	cfg.Bot.DefaultModel = "fake::alpha"
	cfg.Bot.SystemPrompt = "jakey_system_prompt"
	for _, m := range mutate {
		m(cfg)
	}

	history, err := chat.Open(filepath.Join(t.TempDir(), "history.db"), 10)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	catalog, err := models.NewCatalog([]string{
		"fake::alpha",
		"fake::beta",
		"plain::basic",
		"nokey::locked",
		"ghost::phantom",
	})
	require.NoError(t, err)

	full := &fakeProvider{reply: "full answer"}
	plain := &fakeProvider{reply: "plain answer"}
	reg := models.NewRegistry()
	reg.Register("fake", func(ctx context.Context, m models.Model, s models.Session) (models.Completions, error) {
		return &fullCompletions{p: full, model: m.Name}, nil
	})
	reg.Register("plain", func(ctx context.Context, m models.Model, s models.Session) (models.Completions, error) {
		return &plainCompletions{p: plain, model: m.Name}, nil
	})
	reg.Register("nokey", func(ctx context.Context, m models.Model, s models.Session) (models.Completions, error) {
		return nil, &models.APIKeyUnsetError{Provider: "nokey", EnvVar: "NOKEY_API_KEY"}
	})

	return &fixture{
		h:       New(cfg, history, catalog, reg, stubPersonas{}, nil),
		conn:    newFakeConn(),
		full:    full,
		plain:   plain,
		history: history,
	}
}

func dm(content string) *platform.Message {
	return &platform.Message{
		ID:        "msg-1",
		ChannelID: "dm-1",
		Author:    platform.User{ID: "user-1", Name: "alice", DisplayName: "Alice"},
		Content:   content,
	}
}

func guildMsg(content string, mentioned bool) *platform.Message {
	return &platform.Message{
		ID:          "msg-2",
		ChannelID:   "chan-1",
		GuildID:     "guild-1",
		Author:      platform.User{ID: "user-1", Name: "alice", DisplayName: "Alice"},
		Content:     content,
		MentionsBot: mentioned,
	}
}

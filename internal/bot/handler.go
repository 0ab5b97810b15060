package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
	"github.com/liao/askbot/internal/rag"
)

const busyReaction = "⌛"

// HistoryStore 对话历史和默认模型的存储
type HistoryStore interface {
	DefaultModel(ctx context.Context, scopeID string) (string, error)
	SetDefaultModel(ctx context.Context, scopeID, model string) error
	Load(ctx context.Context, scopeID string) ([]chat.Turn, error)
	Save(ctx context.Context, scopeID string, turns []chat.Turn) error
	Clear(ctx context.Context, scopeID string) error
}

type SystemPrompter interface {
	SystemPrompt(name string) (string, error)
}

type Handler struct {
	cfg      *config.Config
	history  HistoryStore
	catalog  *models.Catalog
	registry *models.Registry
	personas SystemPrompter
	memory   *rag.Pipeline
	pending  *Pending
	commands map[string]*command
}

// New memory 可以为 nil
func New(cfg *config.Config, history HistoryStore, catalog *models.Catalog, registry *models.Registry, personas SystemPrompter, memory *rag.Pipeline) *Handler {
	h := &Handler{
		cfg:      cfg,
		history:  history,
		catalog:  catalog,
		registry: registry,
		personas: personas,
		memory:   memory,
		pending:  NewPending(),
	}
	h.commands = h.builtinCommands()
	return h
}

// OnMessage 平台收到消息时调用，平台适配器应在独立 goroutine 中调用
func (h *Handler) OnMessage(ctx context.Context, conn platform.Conn, msg *platform.Message) {
	me := conn.BotUser()
	if msg.Author.ID == me.ID {
		return
	}

	// 前缀命令不走聊天流程
	if cmd, args, ok := h.lookupCommand(msg.Content); ok {
		h.runCommand(ctx, conn, msg, cmd, args)
		return
	}

	// 只响应私聊或 @ 机器人的消息
	if !msg.IsDirect() && !msg.MentionsBot {
		return
	}

	if !h.pending.TryAcquire(msg.Author.ID) {
		h.reply(ctx, conn, msg, "⚠️ I'm still processing your previous request, please wait for a moment...")
		return
	}
	defer h.pending.Release(msg.Author.ID)

	text := stripMention(msg.Content, me.ID)
	if text == "" && len(msg.Attachments) == 0 {
		return
	}

	slog.Info("received message",
		"from", msg.Author.ID,
		"channel", msg.ChannelID,
		"guild", msg.GuildID,
		"attachments", len(msg.Attachments),
	)

	// 附件和被回复消息作为上下文拼在提问前面
	var preamble string
	if len(msg.Attachments) > 0 {
		preamble = attachmentMetadata(msg.Attachments[0])
	}
	if msg.ReferenceID != "" {
		ref, err := conn.FetchMessage(ctx, msg.ChannelID, msg.ReferenceID)
		if err != nil {
			slog.Warn("fetch referenced message failed", "message", msg.ReferenceID, "error", err)
		} else if ref != nil {
			preamble = replyMetadata(ref) + preamble
			if ref.JumpURL != "" {
				h.send(ctx, conn, msg.ChannelID, "✅ Referenced message: "+ref.JumpURL)
			}
		}
	}

	if err := conn.AddReaction(ctx, msg, busyReaction); err != nil {
		slog.Debug("add reaction failed", "error", err)
	}
	defer func() {
		_ = conn.RemoveReaction(context.WithoutCancel(ctx), msg, busyReaction)
	}()

	if err := h.ask(ctx, conn, msg, text, preamble); err != nil {
		h.reply(ctx, conn, msg, replyForError(err))
		slog.Error("an error has occurred while generating an answer",
			"from", msg.Author.ID, "channel", msg.ChannelID, "error", err)
	}
}

// scopeID 共享历史时按服务器区分，否则按用户
func (h *Handler) scopeID(msg *platform.Message) string {
	if h.cfg.Bot.SharedChatHistory && msg.GuildID != "" {
		return msg.GuildID
	}
	return msg.Author.ID
}

func (h *Handler) reply(ctx context.Context, conn platform.Conn, msg *platform.Message, text string) {
	if err := conn.Reply(ctx, msg, text); err != nil {
		slog.Error("reply failed", "channel", msg.ChannelID, "error", err)
	}
}

func (h *Handler) send(ctx context.Context, conn platform.Conn, channelID, text string) {
	if _, err := conn.Send(ctx, channelID, text); err != nil {
		slog.Error("send failed", "channel", channelID, "error", err)
	}
}

// sendLong 按平台长度限制分段发送
func sendLong(ctx context.Context, conn platform.Conn, channelID, text string) error {
	if strings.TrimSpace(text) == "" {
		return platform.ErrEmptyMessage
	}
	for _, part := range platform.SplitText(text, conn.MaxMessageLen()) {
		if _, err := conn.Send(ctx, channelID, part); err != nil {
			return err
		}
	}
	return nil
}

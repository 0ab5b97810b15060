package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
)

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error
}

func (h *Handler) builtinCommands() map[string]*command {
	return map[string]*command{
		"ping": {
			help: "check that the bot is alive",
			run: func(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error {
				return conn.Reply(ctx, msg, "🏓 Pong!")
			},
		},
		"models": {
			help: "list the models you can pick with /model:<name>",
			run:  h.cmdModels,
		},
		"model": {
			usage: "<provider::name>",
			help:  "set your default model",
			run:   h.cmdSetModel,
		},
		"forget": {
			help: "clear the saved chat history",
			run:  h.cmdForget,
		},
		"help": {
			help: "show this message",
			run:  h.cmdHelp,
		},
	}
}

// lookupCommand 内容以命令前缀开头且命令已注册时返回命令
func (h *Handler) lookupCommand(content string) (*command, string, bool) {
	prefix := h.cfg.Bot.CommandPrefix
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return nil, "", false
	}
	rest := strings.TrimPrefix(content, prefix)
	name, args, _ := strings.Cut(rest, " ")
	cmd, ok := h.commands[strings.ToLower(name)]
	if !ok {
		return nil, "", false
	}
	return cmd, strings.TrimSpace(args), true
}

func (h *Handler) runCommand(ctx context.Context, conn platform.Conn, msg *platform.Message, cmd *command, args string) {
	if err := cmd.run(ctx, conn, msg, args); err != nil {
		h.reply(ctx, conn, msg, replyForError(err))
		slog.Error("command failed", "content", msg.Content, "error", err)
	}
}

func (h *Handler) cmdModels(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error {
	current, err := h.defaultModel(ctx, h.scopeID(msg))
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("**Available models**\n")
	for _, m := range h.catalog.List() {
		marker := ""
		if m == current {
			marker = " ← default"
		}
		fmt.Fprintf(&b, "- `%s` (%s)%s\n", m.Name, m.Provider, marker)
	}
	b.WriteString("\nUse `/model:<name>` in your message to pick one for a single question.")
	return sendLong(ctx, conn, msg.ChannelID, b.String())
}

func (h *Handler) cmdSetModel(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error {
	if args == "" {
		return userErrorf("⚠️ Usage: `%smodel <provider::name>`", h.cfg.Bot.CommandPrefix)
	}
	m := models.ParseModel(args)
	if !strings.Contains(args, "::") || !h.catalog.Contains(m) {
		return userErrorf("⚠️ Unknown model **%s**, see `%smodels`", args, h.cfg.Bot.CommandPrefix)
	}
	if err := h.history.SetDefaultModel(ctx, h.scopeID(msg), m.String()); err != nil {
		return err
	}
	return conn.Reply(ctx, msg, fmt.Sprintf("✅ Default model set to **%s** by **%s**", m.Name, m.Provider))
}

func (h *Handler) cmdForget(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error {
	if err := h.history.Clear(ctx, h.scopeID(msg)); err != nil {
		return err
	}
	return conn.Reply(ctx, msg, "🧹 Chat history cleared")
}

func (h *Handler) cmdHelp(ctx context.Context, conn platform.Conn, msg *platform.Message, args string) error {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		cmd := h.commands[name]
		fmt.Fprintf(&b, "`%s%s", h.cfg.Bot.CommandPrefix, name)
		if cmd.usage != "" {
			b.WriteString(" " + cmd.usage)
		}
		fmt.Fprintf(&b, "` %s\n", cmd.help)
	}
	b.WriteString("\nMention me or DM me to chat. Flags: `/model:<name>`, `/chat:ephemeral`, `/chat:info`")
	return conn.Reply(ctx, msg, b.String())
}

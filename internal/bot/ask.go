package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
	"github.com/liao/askbot/internal/rag"
)

// ask 选择模型、处理附件、生成回答并保存历史。
// text 是去掉提及后的用户原文，preamble 是附件/回复上下文
func (h *Handler) ask(ctx context.Context, conn platform.Conn, msg *platform.Message, text, preamble string) error {
	scope := h.scopeID(msg)
	channelID := msg.ChannelID

	model, err := h.defaultModel(ctx, scope)
	if err != nil {
		return err
	}

	// 显式指定模型
	if strings.Contains(text, modelToken) {
		statusID, err := conn.Send(ctx, channelID, "🔍 Using specific model")
		if err != nil {
			return err
		}
		if m, ok := h.catalog.MatchInline(text); ok {
			model = m
		}
		if err := conn.Edit(ctx, channelID, statusID, fmt.Sprintf("🔍 Using model: **%s**", model.Name)); err != nil {
			slog.Debug("edit status failed", "error", err)
		}
	}

	appendHistory := true
	if strings.Contains(text, flagEphemeral) {
		h.send(ctx, conn, channelID, fmt.Sprintf("🔒 This conversation is not saved and %s won't remember this", h.cfg.Bot.Name))
		appendHistory = false
	}
	showInfo := strings.Contains(text, flagInfo)

	infer, err := h.registry.New(ctx, model, models.Session{
		ScopeID: scope,
		Notify: func(ctx context.Context, s string) error {
			_, err := conn.Send(ctx, channelID, s)
			return err
		},
	})
	if errors.Is(err, models.ErrProviderNotFound) {
		return userErrorf("⚠️ The model you've chosen is not available at the moment, please choose another model")
	}
	if err != nil {
		return err
	}

	// 附件
	if len(msg.Attachments) > 1 {
		h.reply(ctx, conn, msg, "🚫 I can only process one file at a time")
		return nil
	}
	if len(msg.Attachments) == 1 {
		att := msg.Attachments[0]
		files, ok := infer.(models.FileInput)
		if !ok {
			return userErrorf("🚫 The model **%s** cannot process file attachments, please try another model", model.Name)
		}
		statusID, err := conn.Send(ctx, channelID, fmt.Sprintf("📄 Processing the file: **%s**", att.Filename))
		if err != nil {
			return err
		}
		if err := files.InputFile(ctx, att); err != nil {
			return fmt.Errorf("input file %s: %w", att.Filename, err)
		}
		if err := conn.Edit(ctx, channelID, statusID, fmt.Sprintf("✅ Used: **%s**", att.Filename)); err != nil {
			slog.Debug("edit status failed", "error", err)
		}
	}

	prompt := preamble + stripTokens(text, conn.BotUser().ID, model.Name)

	systemPrompt, err := h.personas.SystemPrompt(h.cfg.Bot.SystemPrompt)
	if err != nil {
		return err
	}
	if h.memory.Enabled() {
		excerpts, err := h.memory.Retrieve(ctx, scope, prompt)
		if err != nil {
			slog.Error("memory retrieve failed", "scope", scope, "error", err)
		}
		systemPrompt = rag.WithMemory(systemPrompt, excerpts)
	}

	history, err := h.history.Load(ctx, scope)
	if err != nil {
		return err
	}

	stopTyping := keepTyping(ctx, conn, channelID)
	result, err := infer.ChatCompletion(ctx, models.ChatRequest{
		Prompt:            prompt,
		SystemInstruction: systemPrompt,
		History:           history,
	})
	stopTyping()
	if err != nil {
		return err
	}

	if err := sendLong(ctx, conn, channelID, result.Text); err != nil {
		return err
	}
	slog.Info("answered", "scope", scope, "model", model.String(), "chars", len(result.Text))

	if showInfo {
		desc := fmt.Sprintf("Answered by **%s** by **%s** (this response isn't safe)", model.Name, model.Provider)
		if err := conn.SendEmbed(ctx, channelID, desc); err != nil {
			slog.Warn("send info embed failed", "error", err)
		}
	}

	if !appendHistory {
		return nil
	}
	saver, ok := infer.(models.HistorySaver)
	if !ok {
		h.send(ctx, conn, channelID, "⚠️ This model doesn't allow saving the conversation")
		return nil
	}
	if err := saver.SaveToHistory(ctx, h.history, scope, result.Thread); err != nil {
		return err
	}
	if err := h.memory.Remember(ctx, scope, prompt, result.Text); err != nil {
		slog.Error("memory remember failed", "scope", scope, "error", err)
	}
	return nil
}

// defaultModel scope 保存的默认模型，没有则用配置的默认模型
func (h *Handler) defaultModel(ctx context.Context, scope string) (models.Model, error) {
	saved, err := h.history.DefaultModel(ctx, scope)
	if err != nil {
		return models.Model{}, err
	}
	if saved == "" {
		slog.Debug("no default model found, using configured default", "scope", scope)
		saved = h.cfg.Bot.DefaultModel
	}
	return models.ParseModel(saved), nil
}

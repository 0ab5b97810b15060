// Package discord 基于 discordgo 的平台适配器
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/liao/askbot/internal/platform"
)

// Discord 单条消息上限
const maxMessageLen = 2000

const embedColor = 0x5865F2

// session discordgo.Session 中用到的部分，测试时替换
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Bot struct {
	dg   *discordgo.Session
	conn *Conn
	log  *slog.Logger
}

func New(token string, verbose bool) (*Bot, error) {
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogDebug:
			slog.Debug(msg, "module", "discordgo")
		case discordgo.LogInformational:
			slog.Info(msg, "module", "discordgo")
		case discordgo.LogWarning:
			slog.Warn(msg, "module", "discordgo")
		case discordgo.LogError:
			slog.Error(msg, "module", "discordgo")
		}
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if verbose {
		dg.LogLevel = discordgo.LogInformational
	}
	dg.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	return &Bot{dg: dg, conn: &Conn{api: dg}, log: slog.With("adapter", "discord")}, nil
}

// Run 连接网关并把消息交给 handler，直到 ctx 结束
func (b *Bot) Run(ctx context.Context, handler platform.MessageHandler) error {
	remove := b.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || ctx.Err() != nil {
			return
		}
		if s.State != nil && s.State.User != nil {
			b.conn.setMe(s.State.User)
		}
		msg := toMessage(m.Message, b.conn.BotUser().ID)
		// 每条消息独立处理，不阻塞网关事件循环
		go handler.OnMessage(ctx, b.conn, msg)
	})
	defer remove()

	b.dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.conn.setMe(r.User)
		b.log.Info("connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("discord open connection: %w", err)
	}
	<-ctx.Done()
	b.log.Info("closing connection")
	return b.dg.Close()
}

// Conn 实现 platform.Conn
type Conn struct {
	api session
	mu  sync.RWMutex
	me  platform.User
}

func (c *Conn) setMe(u *discordgo.User) {
	if u == nil {
		return
	}
	c.mu.Lock()
	c.me = toUser(u)
	c.mu.Unlock()
}

func (c *Conn) BotUser() platform.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.me
}

func (c *Conn) MaxMessageLen() int { return maxMessageLen }

func (c *Conn) Send(ctx context.Context, channelID, text string) (string, error) {
	m, err := c.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	return m.ID, nil
}

func (c *Conn) Reply(ctx context.Context, msg *platform.Message, text string) error {
	_, err := c.api.ChannelMessageSendReply(msg.ChannelID, text, &discordgo.MessageReference{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
	}, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (c *Conn) Edit(ctx context.Context, channelID, messageID, text string) error {
	_, err := c.api.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (c *Conn) SendEmbed(ctx context.Context, channelID, description string) error {
	_, err := c.api.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Description: description,
		Color:       embedColor,
	}, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (c *Conn) AddReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	return c.api.MessageReactionAdd(msg.ChannelID, msg.ID, emoji, discordgo.WithContext(ctx))
}

func (c *Conn) RemoveReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	return c.api.MessageReactionRemove(msg.ChannelID, msg.ID, emoji, "@me", discordgo.WithContext(ctx))
}

func (c *Conn) Typing(ctx context.Context, channelID string) error {
	return c.api.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

func (c *Conn) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	m, err := c.api.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	return toMessage(m, c.BotUser().ID), nil
}

// mapErr 把 Discord 的空消息错误转换为 platform.ErrEmptyMessage
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeCannotSendEmptyMessage {
		return fmt.Errorf("%w: %s", platform.ErrEmptyMessage, rest.Message.Message)
	}
	return err
}

func toUser(u *discordgo.User) platform.User {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return platform.User{ID: u.ID, Name: u.Username, DisplayName: name, Bot: u.Bot}
}

func toMessage(m *discordgo.Message, botID string) *platform.Message {
	msg := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		JumpURL:   jumpURL(m.GuildID, m.ChannelID, m.ID),
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author)
		if m.Member != nil && m.Member.Nick != "" {
			msg.Author.DisplayName = m.Member.Nick
		}
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, platform.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	if m.MessageReference != nil {
		msg.ReferenceID = m.MessageReference.MessageID
	}
	if botID != "" {
		for _, u := range m.Mentions {
			if u != nil && u.ID == botID {
				msg.MentionsBot = true
				break
			}
		}
	}
	return msg
}

func jumpURL(guildID, channelID, messageID string) string {
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// Package onebot 通过 ZeroBot 连接 OneBot v11 实现（NapCat 等）
package onebot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/askbot/internal/platform"
)

// 长回答按此长度分段发送
const maxMessageLen = 4500

type Options struct {
	WSURL       string
	AccessToken string
	OwnerQQ     int64
	NickName    string
}

type Bot struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Bot {
	return &Bot{opts: opts, log: slog.With("adapter", "onebot")}
}

// Run 连接 OneBot 并把消息交给 handler，直到 ctx 结束
func (b *Bot) Run(ctx context.Context, handler platform.MessageHandler) error {
	ws := driver.NewWebSocketClient(b.opts.WSURL, b.opts.AccessToken)

	zero.OnMessage().Handle(func(zctx *zero.Ctx) {
		if ctx.Err() != nil {
			return
		}
		msg := toMessage(zctx.Event)
		b.log.Debug("inbound received", "channel", msg.ChannelID, "user", msg.Author.ID)
		conn := &Conn{api: zctx, self: strconv.FormatInt(zctx.Event.SelfID, 10), nick: b.opts.NickName}
		go handler.OnMessage(ctx, conn, msg)
	})

	var superUsers []int64
	if b.opts.OwnerQQ != 0 {
		superUsers = append(superUsers, b.opts.OwnerQQ)
	}

	b.log.Info("starting", "ws_url", b.opts.WSURL)
	zero.Run(&zero.Config{
		NickName:   []string{b.opts.NickName},
		SuperUsers: superUsers,
		Driver:     []zero.Driver{ws},
	})

	<-ctx.Done()
	b.log.Info("stopped")
	return nil
}

// api zero.Ctx 中用到的部分，测试时替换
type api interface {
	Send(msg interface{}) message.ID
	SendChain(msg ...message.Segment) message.ID
	GetMessage(messageID interface{}, nologreply ...bool) zero.Message
}

// Conn 绑定到一条收到的消息，发送总是回到该消息所在的会话
type Conn struct {
	api  api
	self string
	nick string
}

func (c *Conn) BotUser() platform.User {
	return platform.User{ID: c.self, Name: c.nick, DisplayName: c.nick, Bot: true}
}

func (c *Conn) MaxMessageLen() int { return maxMessageLen }

func (c *Conn) Send(ctx context.Context, channelID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", platform.ErrEmptyMessage
	}
	id := c.api.Send(message.Text(text))
	return sentID(id)
}

func (c *Conn) Reply(ctx context.Context, msg *platform.Message, text string) error {
	if strings.TrimSpace(text) == "" {
		return platform.ErrEmptyMessage
	}
	_, err := sentID(c.api.SendChain(message.Reply(msg.ID), message.Text(text)))
	return err
}

// Edit OneBot 不支持编辑消息，改为发送新消息
func (c *Conn) Edit(ctx context.Context, channelID, messageID, text string) error {
	_, err := c.Send(ctx, channelID, text)
	return err
}

func (c *Conn) SendEmbed(ctx context.Context, channelID, description string) error {
	_, err := c.Send(ctx, channelID, strings.ReplaceAll(description, "**", ""))
	return err
}

func (c *Conn) AddReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	return nil
}

func (c *Conn) RemoveReaction(ctx context.Context, msg *platform.Message, emoji string) error {
	return nil
}

func (c *Conn) Typing(ctx context.Context, channelID string) error {
	return nil
}

func (c *Conn) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	m := c.api.GetMessage(id)
	if len(m.Elements) == 0 {
		return nil, fmt.Errorf("message %s not found", messageID)
	}

	ref := &platform.Message{
		ID:        messageID,
		ChannelID: channelID,
		Content:   plainText(m.Elements),
	}
	if m.Sender != nil {
		ref.Author = toUser(m.Sender)
	}
	return ref, nil
}

func sentID(id message.ID) (string, error) {
	n := id.ID()
	if n == 0 {
		return "", fmt.Errorf("onebot send failed")
	}
	return strconv.FormatInt(n, 10), nil
}

func toUser(u *zero.User) platform.User {
	name := u.Card
	if name == "" {
		name = u.NickName
	}
	return platform.User{ID: strconv.FormatInt(u.ID, 10), Name: u.NickName, DisplayName: name}
}

func toMessage(ev *zero.Event) *platform.Message {
	msg := &platform.Message{
		ID:          fmt.Sprint(ev.MessageID),
		ChannelID:   "private:" + strconv.FormatInt(ev.UserID, 10),
		Content:     plainText(ev.Message),
		MentionsBot: ev.IsToMe,
	}
	if ev.MessageType == "group" {
		gid := strconv.FormatInt(ev.GroupID, 10)
		msg.ChannelID = "group:" + gid
		msg.GuildID = gid
	}
	if ev.Sender != nil {
		msg.Author = toUser(ev.Sender)
	} else {
		msg.Author = platform.User{ID: strconv.FormatInt(ev.UserID, 10)}
	}

	for _, seg := range ev.Message {
		switch seg.Type {
		case "image":
			url := seg.Data["url"]
			if url == "" {
				url = seg.Data["file"]
			}
			msg.Attachments = append(msg.Attachments, platform.Attachment{
				ID:          seg.Data["file"],
				Filename:    imageName(seg.Data["file"]),
				URL:         url,
				Description: seg.Data["summary"],
			})
		case "reply":
			msg.ReferenceID = seg.Data["id"]
		}
	}
	return msg
}

func plainText(m message.Message) string {
	var b strings.Builder
	for _, seg := range m {
		if seg.Type == "text" {
			b.WriteString(seg.Data["text"])
		}
	}
	return strings.TrimSpace(b.String())
}

// imageName OneBot 的 file 字段常是哈希，没有扩展名时补 .png 便于类型判断
func imageName(file string) string {
	if file == "" {
		return "image.png"
	}
	if i := strings.LastIndexAny(file, "/\\"); i >= 0 {
		file = file[i+1:]
	}
	if !strings.Contains(file, ".") {
		file += ".png"
	}
	return file
}

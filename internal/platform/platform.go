// Package platform 定义与具体聊天平台无关的消息模型和连接接口。
package platform

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrEmptyMessage 平台拒绝发送空消息
var ErrEmptyMessage = errors.New("cannot send an empty message")

type User struct {
	ID          string
	Name        string // 用户名
	DisplayName string // 昵称，没有时等于 Name
	Bot         bool
}

type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string
	Description string // alt text
	Size        int
}

type Message struct {
	ID          string
	ChannelID   string
	GuildID     string // 私聊为空
	Author      User
	Content     string
	Attachments []Attachment
	ReferenceID string // 被回复消息的 ID
	MentionsBot bool
	JumpURL     string
}

// IsDirect 是否私聊
func (m *Message) IsDirect() bool {
	return m.GuildID == ""
}

// Conn 由平台适配器实现，handler 只通过它与平台交互
type Conn interface {
	BotUser() User
	// Send 发送消息，返回新消息 ID（用于后续编辑）
	Send(ctx context.Context, channelID, text string) (string, error)
	Reply(ctx context.Context, msg *Message, text string) error
	Edit(ctx context.Context, channelID, messageID, text string) error
	SendEmbed(ctx context.Context, channelID, description string) error
	AddReaction(ctx context.Context, msg *Message, emoji string) error
	RemoveReaction(ctx context.Context, msg *Message, emoji string) error
	// Typing 触发一次输入状态，平台一般几秒后自动消失
	Typing(ctx context.Context, channelID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	// MaxMessageLen 单条消息长度上限，0 表示不限制
	MaxMessageLen() int
}

// MessageHandler 平台适配器把收到的消息交给它处理
type MessageHandler interface {
	OnMessage(ctx context.Context, conn Conn, msg *Message)
}

// SplitText 按长度上限切分长文本，尽量在换行处断开
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if text[i-1] == '\n' {
				cut = i
				break
			}
		}
		cut = runeBoundary(text, cut)
		if cut == 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// Truncate 截断到最多 n 字节，不在多字节字符中间断开
func Truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	if cut := runeBoundary(text, n); cut > 0 {
		return text[:cut]
	}
	return text[:n]
}

// runeBoundary 从 cut 向前退到 UTF-8 字符起始处，找不到时返回 0
func runeBoundary(text string, cut int) int {
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

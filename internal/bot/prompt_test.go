package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
)

func TestStripTokens(t *testing.T) {
	tests := []struct {
		content string
		model   string
		want    string
	}{
		{"<@999> hello", "alpha", "hello"},
		{"<@!999> hello", "alpha", "hello"},
		{"/model:alpha what now", "alpha", "what now"},
		{"what now /model:alpha", "alpha", "what now"},
		{"/model:alphabet stays", "alpha", "/model:alphabet stays"},
		{"/chat:ephemeral /chat:info question", "alpha", "question"},
		{"/chat:informal stays", "alpha", "/chat:informal stays"},
		{"/model:gpt-4.1 go", "gpt-4.1", "go"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.want, stripTokens(tt.content, botID, tt.model))
		})
	}
}

func TestStripMention(t *testing.T) {
	assert.Equal(t, "hi there", stripMention("<@999> hi there", botID))
	assert.Equal(t, "hi", stripMention("hi <@!999>", botID))
	assert.Equal(t, "<@123> hi", stripMention("<@123> hi", botID))
}

func TestAttachmentMetadataAltText(t *testing.T) {
	got := attachmentMetadata(platform.Attachment{URL: "https://cdn/x.png", Description: "  a cat  "})
	assert.Equal(t, "<extra_metadata>\n    <attachment url=\"https://cdn/x.png\" />\n    <alt>\n        a cat\n    </alt>\n</extra_metadata>\n\n", got)
}

func TestReplyMetadataFallsBackToUsername(t *testing.T) {
	got := replyMetadata(&platform.Message{Author: platform.User{Name: "bob"}, Content: "x"})
	assert.Contains(t, got, "excerpt from bob (username: @bob)")
}

type customErr struct{}

func (customErr) Error() string { return "custom" }

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "Error", errorKind(errors.New("plain")))
	assert.Equal(t, "Error", errorKind(fmt.Errorf("wrapped: %w", errors.New("plain"))))
	assert.Equal(t, "customErr", errorKind(fmt.Errorf("wrapped: %w", customErr{})))
	assert.Equal(t, "DeadlineExceeded", errorKind(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, "Canceled", errorKind(context.Canceled))
}

func TestReplyForError(t *testing.T) {
	assert.Equal(t, "🤚 Database error: **save history: disk full**",
		replyForError(fmt.Errorf("ask: %w", &chat.DatabaseError{Op: "save history", Err: errors.New("disk full")})))
	assert.Equal(t, "⛔ Model unavailable: **API key for groq is not set, please set GROQ_API_KEY**",
		replyForError(&models.APIKeyUnsetError{Provider: "groq", EnvVar: "GROQ_API_KEY"}))
	assert.Equal(t, "⚠️ I received an empty response, please rephrase your question or try another model",
		replyForError(fmt.Errorf("send: %w", platform.ErrEmptyMessage)))
	assert.Equal(t, "nope", replyForError(userErrorf("nope")))
	assert.Equal(t, "🚫 Sorry, I couldn't answer right now. Error: **customErr**", replyForError(customErr{}))
}

func TestPending(t *testing.T) {
	p := NewPending()
	assert.True(t, p.TryAcquire("a"))
	assert.False(t, p.TryAcquire("a"))
	assert.True(t, p.TryAcquire("b"))
	assert.Equal(t, 2, p.count())

	p.Release("a")
	assert.False(t, p.busy("a"))
	assert.True(t, p.busy("b"))
	assert.True(t, p.TryAcquire("a"))

	// 释放未占用的用户无影响
	p.Release("zzz")
	assert.Equal(t, 2, p.count())
}
